package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/docchat/internal/indexer"
)

type fakeIngester struct {
	mu       sync.Mutex
	ingested []string
	deleted  []string
	dirs     []string
	rebuilds int
	skip     bool
	indexed  int
}

func (f *fakeIngester) IngestFile(ctx context.Context, path string, allowedExts []string) (*indexer.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingested = append(f.ingested, path)
	return &indexer.IngestResult{Path: path, Skipped: f.skip}, nil
}

func (f *fakeIngester) IngestDirectory(ctx context.Context, dir string, allowedExts []string, recursive bool) (*indexer.IngestStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs = append(f.dirs, dir)
	return &indexer.IngestStats{Indexed: f.indexed}, nil
}

func (f *fakeIngester) DeleteFile(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, path)
	return nil
}

func (f *fakeIngester) Rebuild(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebuilds++
	return nil
}

func (f *fakeIngester) snapshot() (ingested, deleted []string, rebuilds int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ingested...), append([]string(nil), f.deleted...), f.rebuilds
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func contains(paths []string, suffix string) bool {
	for _, p := range paths {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

func startWatcher(t *testing.T, ing *fakeIngester, dir string, exts []string) *Watcher {
	t.Helper()
	w := NewWatcher(ing, []string{dir}, exts, true,
		WithDebounce(50*time.Millisecond), WithRebuildDelay(100*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_IngestsChangedFileAndRebuildsOnce(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngester{}
	startWatcher(t, ing, dir, []string{".txt"})

	if err := writeFile(filepath.Join(dir, "a.txt"), "hello"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "b.txt"), "world"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "ignore.xyz"), "skip"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		_, _, rebuilds := ing.snapshot()
		return rebuilds > 0
	})
	ingested, _, rebuilds := ing.snapshot()
	if !contains(ingested, "a.txt") || !contains(ingested, "b.txt") {
		t.Errorf("expected a.txt and b.txt ingested, got %v", ingested)
	}
	if contains(ingested, "ignore.xyz") {
		t.Errorf("ignore.xyz should not be ingested")
	}
	if rebuilds != 1 {
		t.Errorf("expected one coalesced rebuild, got %d", rebuilds)
	}
}

func TestWatcher_RemovedFileIsDeleted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")
	if err := writeFile(path, "bye"); err != nil {
		t.Fatal(err)
	}
	ing := &fakeIngester{}
	startWatcher(t, ing, dir, []string{".txt"})

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		_, deleted, rebuilds := ing.snapshot()
		return contains(deleted, "gone.txt") && rebuilds == 1
	})
}

func TestWatcher_UnchangedFileSkipsRebuild(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngester{skip: true}
	startWatcher(t, ing, dir, []string{".txt"})

	if err := writeFile(filepath.Join(dir, "same.txt"), "same"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		ingested, _, _ := ing.snapshot()
		return contains(ingested, "same.txt")
	})
	time.Sleep(300 * time.Millisecond)
	if _, _, rebuilds := ing.snapshot(); rebuilds != 0 {
		t.Errorf("skipped ingest should not rebuild, got %d rebuilds", rebuilds)
	}
}

func TestWatcher_NewNestedDirectory(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngester{}
	startWatcher(t, ing, dir, []string{".txt", ".md"})

	nested := filepath.Join(dir, "level1", "level2")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "deep.txt"), "deep content"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		ingested, _, _ := ing.snapshot()
		return contains(ingested, "deep.txt")
	})
}

func TestWatcher_Sync(t *testing.T) {
	dir := t.TempDir()

	ing := &fakeIngester{indexed: 2}
	w := NewWatcher(ing, []string{dir}, []string{".txt"}, true)
	if err := w.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(ing.dirs) != 1 || ing.dirs[0] != dir || ing.rebuilds != 1 {
		t.Errorf("dirs=%v rebuilds=%d", ing.dirs, ing.rebuilds)
	}

	unchanged := &fakeIngester{}
	if err := NewWatcher(unchanged, []string{dir}, nil, true).Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if unchanged.rebuilds != 0 {
		t.Errorf("nothing indexed should not rebuild, got %d", unchanged.rebuilds)
	}
}

func TestWatcher_Start_createsMissingRootDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "watch", "me")
	w := NewWatcher(&fakeIngester{}, []string{root}, []string{".txt"}, true)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root directory should exist after Start: %v", err)
	}
	if dirs := w.Directories(); len(dirs) != 1 || dirs[0] != root {
		t.Errorf("Directories() = %v", dirs)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := NewWatcher(&fakeIngester{}, []string{t.TempDir()}, nil, false)
	w.Stop()
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.txt", []string{".txt"}, true},
		{"/a/b.TXT", []string{"txt"}, true},
		{"/a/b.md", []string{".txt"}, false},
		{"/a/b", nil, true},
		{"/a/b", []string{}, true},
	}
	for _, tt := range tests {
		if got := matchExtension(tt.path, tt.extensions); got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.txt", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		if got := inDir(tt.dir, tt.path); got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
