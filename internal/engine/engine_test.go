package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirdiff/internal/config"
	"dirdiff/internal/metrics"
	"dirdiff/internal/record"
)

var fixedTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// makeTree writes files (slash separated relative path -> content) under a
// new temp dir, all with the same mtime.
func makeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		require.NoError(t, os.Chtimes(path, fixedTime, fixedTime))
	}
	return root
}

func runConfig(mutate ...func(*config.RunConfiguration)) config.RunConfiguration {
	run := config.RunConfiguration{
		Workers:     2,
		CompareMode: config.CompareBytes,
		BlockSize:   config.DefaultBlockSize,
	}
	for _, m := range mutate {
		m(&run)
	}
	return run
}

func diff(t *testing.T, run config.RunConfiguration, first, second string) []record.Record {
	t.Helper()
	result, err := New(run).Diff(context.Background(), first, second)
	require.NoError(t, err)
	records, err := result.Collect()
	require.NoError(t, err)
	return records
}

func byKind(records []record.Record) map[record.Kind][]string {
	out := make(map[record.Kind][]string)
	for _, r := range records {
		out[r.Kind] = append(out[r.Kind], filepath.ToSlash(r.Path))
	}
	for _, paths := range out {
		sort.Strings(paths)
	}
	return out
}

func skipWithoutSymlinks(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require privileges on windows")
	}
}

func TestDiff_IdenticalTrees(t *testing.T) {
	files := map[string]string{
		"a.txt":         "hi",
		"sub/b.txt":     "x",
		"sub/deep/c.md": "content",
		"empty":         "",
	}
	first := makeTree(t, files)
	second := makeTree(t, files)

	assert.Empty(t, diff(t, runConfig(), first, second))
	assert.Empty(t, diff(t, runConfig(func(r *config.RunConfiguration) { r.CheckMtime = true }), first, second))
}

func TestDiff_PresenceScenario(t *testing.T) {
	first := makeTree(t, map[string]string{"a.txt": "hi", "sub/b.txt": "x"})
	second := makeTree(t, map[string]string{"a.txt": "hi", "sub/c.txt": "x"})

	records := diff(t, runConfig(), first, second)

	assert.Equal(t, map[record.Kind][]string{
		record.OnlyInFirst:  {"sub/b.txt"},
		record.OnlyInSecond: {"sub/c.txt"},
	}, byKind(records))
}

func TestDiff_ContentScenario(t *testing.T) {
	first := makeTree(t, map[string]string{"f": "abc"})
	second := makeTree(t, map[string]string{"f": "abd"})

	records := diff(t, runConfig(), first, second)

	assert.Equal(t, []record.Record{record.NewContentDiffer("f")}, records)
}

func TestDiff_DanglingFollowedSymlink(t *testing.T) {
	skipWithoutSymlinks(t)
	first := makeTree(t, map[string]string{"ok.txt": "same", "changed.txt": "aaa", "extra": "1"})
	second := makeTree(t, map[string]string{"ok.txt": "same", "changed.txt": "bbb"})
	outside := filepath.Join(t.TempDir(), "missing-target")
	require.NoError(t, os.Symlink(outside, filepath.Join(first, "link")))

	records := diff(t, runConfig(func(r *config.RunConfiguration) { r.FollowSymlinks = true }), first, second)

	kinds := byKind(records)
	assert.Equal(t, []string{"link"}, kinds[record.ComparisonError])
	assert.Equal(t, []string{"changed.txt"}, kinds[record.ContentDiffer])
	assert.Equal(t, []string{"extra"}, kinds[record.OnlyInFirst])
	assert.Len(t, records, 3)

	for _, r := range records {
		if r.Kind == record.ComparisonError {
			assert.Error(t, r.Err)
		}
	}
}

func TestDiff_SymlinkCycleDoesNotHang(t *testing.T) {
	skipWithoutSymlinks(t)
	files := map[string]string{"a/file.txt": "x"}
	first := makeTree(t, files)
	second := makeTree(t, files)
	require.NoError(t, os.Symlink("..", filepath.Join(first, "a", "up")))

	done := make(chan []record.Record, 1)
	go func() {
		done <- diff(t, runConfig(func(r *config.RunConfiguration) { r.FollowSymlinks = true }), first, second)
	}()

	select {
	case records := <-done:
		assert.Equal(t, map[record.Kind][]string{
			record.ComparisonError: {"a/up"},
		}, byKind(records))
	case <-time.After(10 * time.Second):
		t.Fatal("diff did not finish on a symlink cycle")
	}
}

func TestDiff_Mtime(t *testing.T) {
	first := makeTree(t, map[string]string{"f": "same", "g": "same"})
	second := makeTree(t, map[string]string{"f": "same", "g": "same"})
	later := fixedTime.Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(second, "f"), later, later))

	assert.Empty(t, diff(t, runConfig(), first, second))

	records := diff(t, runConfig(func(r *config.RunConfiguration) { r.CheckMtime = true }), first, second)
	assert.Equal(t, []record.Record{record.NewMtimeDiffer("f")}, records)
}

func TestDiff_WorkerCountDoesNotChangeRecords(t *testing.T) {
	firstFiles := make(map[string]string)
	secondFiles := make(map[string]string)
	for i := 0; i < 60; i++ {
		name := filepath.ToSlash(filepath.Join("d"+string(rune('a'+i%5)), "file"+string(rune('a'+i%26))+".txt"))
		firstFiles[name] = "content"
		switch i % 4 {
		case 0:
			secondFiles[name] = "content"
		case 1:
			secondFiles[name] = "CONTENT"
		case 2:
			secondFiles[name] = "longer content"
		}
	}
	secondFiles["new/only.txt"] = "x"

	first := makeTree(t, firstFiles)
	second := makeTree(t, secondFiles)

	baseline := diff(t, runConfig(func(r *config.RunConfiguration) { r.Workers = 1 }), first, second)
	require.NotEmpty(t, baseline)

	for _, workers := range []int{0, 2, 8, 32} {
		records := diff(t, runConfig(func(r *config.RunConfiguration) { r.Workers = workers }), first, second)
		assert.Equal(t, baseline, records, "workers=%d", workers)
	}
}

func TestDiff_CategoryOrder(t *testing.T) {
	first := makeTree(t, map[string]string{"z1": "a", "a1": "a", "m": "abc", "b": "abc", "only/x": "1"})
	second := makeTree(t, map[string]string{"z2": "a", "a2": "a", "m": "abd", "b": "abd"})

	records := diff(t, runConfig(func(r *config.RunConfiguration) { r.Workers = 4 }), first, second)

	want := []record.Record{
		record.NewOnlyInFirst("a1"),
		record.NewOnlyInFirst("only"),
		record.NewOnlyInFirst(filepath.Join("only", "x")),
		record.NewOnlyInFirst("z1"),
		record.NewOnlyInSecond("a2"),
		record.NewOnlyInSecond("z2"),
		record.NewContentDiffer("b"),
		record.NewContentDiffer("m"),
	}
	assert.Equal(t, want, records)
}

func TestDiff_KindMismatch(t *testing.T) {
	first := makeTree(t, map[string]string{"x": "file"})
	second := makeTree(t, map[string]string{"x/inner": "file"})

	records := diff(t, runConfig(), first, second)

	assert.Equal(t, map[record.Kind][]string{
		record.ContentDiffer: {"x"},
		record.OnlyInSecond:  {"x/inner"},
	}, byKind(records))
}

func TestDiff_Exclude(t *testing.T) {
	first := makeTree(t, map[string]string{"keep.txt": "a", "skip.log": "1", ".git/HEAD": "x"})
	second := makeTree(t, map[string]string{"keep.txt": "a", "skip.log": "2"})

	records := diff(t, runConfig(func(r *config.RunConfiguration) {
		r.Exclude = []string{"*.log", ".git/"}
	}), first, second)

	assert.Empty(t, records)
}

func TestDiff_XXHashMode(t *testing.T) {
	first := makeTree(t, map[string]string{"f": "abc", "g": "same"})
	second := makeTree(t, map[string]string{"f": "abd", "g": "same"})

	records := diff(t, runConfig(func(r *config.RunConfiguration) { r.CompareMode = config.CompareXXHash }), first, second)

	assert.Equal(t, []record.Record{record.NewContentDiffer("f")}, records)
}

func TestDiff_RootErrors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	e := New(runConfig())

	_, err := e.Diff(context.Background(), filepath.Join(dir, "missing"), dir)
	assert.ErrorIs(t, err, ErrRootNotExist)

	_, err = e.Diff(context.Background(), dir, file)
	assert.ErrorIs(t, err, ErrRootNotDirectory)
}

func TestDiff_SymlinkedRoot(t *testing.T) {
	skipWithoutSymlinks(t)
	target := makeTree(t, map[string]string{"a": "1", "b": "2"})
	other := makeTree(t, map[string]string{"a": "1"})
	link := filepath.Join(t.TempDir(), "root-link")
	require.NoError(t, os.Symlink(target, link))

	for _, follow := range []bool{false, true} {
		records := diff(t, runConfig(func(r *config.RunConfiguration) { r.FollowRootSymlinks = follow }), link, other)
		assert.Equal(t, []record.Record{record.NewOnlyInFirst("b")}, records, "follow root symlinks: %v", follow)
	}
}

func TestResolveRoot(t *testing.T) {
	dir := t.TempDir()

	abs, err := ResolveRoot(dir, false)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(abs))

	_, err = ResolveRoot(filepath.Join(dir, "nope"), true)
	assert.True(t, errors.Is(err, ErrRootNotExist))
}

func TestResolveRoot_Symlinks(t *testing.T) {
	skipWithoutSymlinks(t)
	target := t.TempDir()
	links := t.TempDir()

	dirLink := filepath.Join(links, "dir-link")
	require.NoError(t, os.Symlink(target, dirLink))

	// Without following, the link itself stays the root
	root, err := ResolveRoot(dirLink, false)
	require.NoError(t, err)
	assert.Equal(t, dirLink, root)

	root, err = ResolveRoot(dirLink, true)
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(target)
	require.NoError(t, err)
	assert.Equal(t, want, root)

	file := filepath.Join(target, "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	fileLink := filepath.Join(links, "file-link")
	require.NoError(t, os.Symlink(file, fileLink))
	for _, follow := range []bool{false, true} {
		_, err = ResolveRoot(fileLink, follow)
		assert.ErrorIs(t, err, ErrRootNotDirectory)
	}

	dangling := filepath.Join(links, "dangling")
	require.NoError(t, os.Symlink(filepath.Join(target, "missing"), dangling))
	for _, follow := range []bool{false, true} {
		_, err = ResolveRoot(dangling, follow)
		assert.ErrorIs(t, err, ErrRootNotExist)
	}
}

func TestResult_ConsumedOnce(t *testing.T) {
	first := makeTree(t, map[string]string{"a": "1"})
	second := makeTree(t, map[string]string{"b": "1"})

	result, err := New(runConfig()).Diff(context.Background(), first, second)
	require.NoError(t, err)

	records, err := result.Collect()
	require.NoError(t, err)
	assert.Len(t, records, 2)

	again, err := result.Collect()
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestResult_EarlyStop(t *testing.T) {
	files := make(map[string]string)
	changed := make(map[string]string)
	for i := 0; i < 200; i++ {
		name := "f" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		files[name] = "aaaa"
		changed[name] = "bbbb"
	}
	first := makeTree(t, files)
	second := makeTree(t, changed)

	result, err := New(runConfig(func(r *config.RunConfiguration) { r.Workers = 1 })).Diff(context.Background(), first, second)
	require.NoError(t, err)

	count := 0
	for range result.Records() {
		count++
		if count == 3 {
			break
		}
	}
	assert.Equal(t, 3, count)
}

func TestResult_CloseWithoutConsuming(t *testing.T) {
	files := make(map[string]string)
	changed := make(map[string]string)
	for i := 0; i < 100; i++ {
		name := "f" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		files[name] = "aaaa"
		changed[name] = "bbbb"
	}
	first := makeTree(t, files)
	second := makeTree(t, changed)

	result, err := New(runConfig(func(r *config.RunConfiguration) { r.Workers = 1 })).Diff(context.Background(), first, second)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- result.Close() }()

	select {
	case err := <-done:
		if err != nil {
			assert.ErrorIs(t, err, context.Canceled)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Close did not stop the workers")
	}

	records, _ := result.Collect()
	assert.Empty(t, records)
}

func TestResult_CloseAfterConsuming(t *testing.T) {
	first := makeTree(t, map[string]string{"a": "1"})
	second := makeTree(t, map[string]string{"a": "2"})

	result, err := New(runConfig()).Diff(context.Background(), first, second)
	require.NoError(t, err)

	records, err := result.Collect()
	require.NoError(t, err)
	assert.Len(t, records, 1)

	assert.NoError(t, result.Close())
}

func TestDiff_CancelledBeforeWalk(t *testing.T) {
	first := makeTree(t, map[string]string{"d/a": "1"})
	second := makeTree(t, map[string]string{"d/a": "1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(runConfig()).Diff(ctx, first, second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDiff_Metrics(t *testing.T) {
	first := makeTree(t, map[string]string{"a": "same", "b": "abc", "c": "1"})
	second := makeTree(t, map[string]string{"a": "same", "b": "abd"})

	m := metrics.New()
	result, err := New(runConfig(), WithMetrics(m)).Diff(context.Background(), first, second)
	require.NoError(t, err)
	_, err = result.Collect()
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "run.prom")
	require.NoError(t, m.WriteFile(out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)

	assert.Contains(t, string(data), `dirdiff_walk_entries_total{tree="first"} 3`)
	assert.Contains(t, string(data), `dirdiff_walk_entries_total{tree="second"} 2`)
	assert.Contains(t, string(data), "dirdiff_compare_tasks_total 2")
	assert.Contains(t, string(data), "dirdiff_compare_bytes_read_total 14")
	assert.Contains(t, string(data), `dirdiff_records_total{kind="content_differ"} 1`)
	assert.Contains(t, string(data), `dirdiff_records_total{kind="only_in_first"} 1`)
	assert.Equal(t, 1, testutil.CollectAndCount(m.Registry(), "dirdiff_compare_workers"))
}
