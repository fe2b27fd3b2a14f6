package supervisor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestWatcher(t *testing.T, dir string, exts []string, got chan string) *Watcher {
	t.Helper()
	w, err := NewWatcher(WatchConfig{
		Paths:      []string{dir},
		Debounce:   50 * time.Millisecond,
		Extensions: exts,
	}, nil, func(p string) { got <- p })
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w
}

func TestWatcherDetectsSourceChange(t *testing.T) {
	dir := t.TempDir()
	got := make(chan string, 10)
	newTestWatcher(t, dir, []string{".js"}, got)

	writeFile(t, dir, "main.js", "console.log(1)")
	select {
	case p := <-got:
		assert.Contains(t, p, "main.js")
	case <-time.After(3 * time.Second):
		t.Fatal("change not reported")
	}
}

func TestWatcherIgnoresIrrelevantFiles(t *testing.T) {
	dir := t.TempDir()
	got := make(chan string, 10)
	newTestWatcher(t, dir, []string{".js"}, got)

	writeFile(t, dir, "notes.txt", "n")
	writeFile(t, dir, ".hidden.js", "h")
	writeFile(t, dir, "main.js~", "backup")
	writeFile(t, dir, "#buffer.js", "emacs")

	select {
	case p := <-got:
		t.Fatalf("unexpected change report for %s", p)
	case <-time.After(400 * time.Millisecond):
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	got := make(chan string, 10)
	newTestWatcher(t, dir, []string{".js"}, got)

	for i := 0; i < 5; i++ {
		writeFile(t, dir, "app.js", "rev")
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-got:
	case <-time.After(3 * time.Second):
		t.Fatal("burst not reported")
	}
	// The burst collapses into at most one trailing report.
	time.Sleep(300 * time.Millisecond)
	assert.LessOrEqual(t, len(got), 1)
}

func TestWatcherRelevantFiltering(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t, dir, []string{".js", ".ts"}, make(chan string, 1))

	cases := []struct {
		path string
		want bool
	}{
		{"src/app.js", true},
		{"src/app.ts", true},
		{"src/app.TS", true},
		{"src/app.go", false},
		{"src/.env.js", false},
		{"src/app.js~", false},
		{"src/app.js.swp", false},
		{"src/app.js.tmp", false},
		{"node/.cache/app.js", false},
		{"#scratch.js", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, w.relevant(tc.path), tc.path)
	}
}
