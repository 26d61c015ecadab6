package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type capture struct {
	mu     sync.Mutex
	chunks []string
	resets int
}

func (c *capture) data(_ string, lines []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = append(c.chunks, string(lines))
}

func (c *capture) reset(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resets++
}

func (c *capture) joined() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := ""
	for _, ch := range c.chunks {
		out += ch
	}
	return out
}

func (c *capture) resetCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resets
}

func startWatcher(t *testing.T, dir string, c *capture) *Watcher {
	t.Helper()
	w, err := New(slog.New(slog.DiscardHandler), []string{dir}, c.data, c.reset)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestAppendedLinesReported(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, GamelogName)
	c := &capture{}
	startWatcher(t, dir, c)

	if err := os.WriteFile(path, []byte("alice killed bob with Laser\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 3*time.Second, func() bool {
		return c.joined() == "alice killed bob with Laser\n"
	})
}

func TestPreExistingContentSkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, GamelogName)
	if err := os.WriteFile(path, []byte("old line\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := &capture{}
	startWatcher(t, dir, c)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("new line\n")
	f.Close()

	waitFor(t, 3*time.Second, func() bool { return c.joined() == "new line\n" })
}

func TestPartialLineHeldBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, GamelogName)
	c := &capture{}
	startWatcher(t, dir, c)

	if err := os.WriteFile(path, []byte("complete line\npartial"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 3*time.Second, func() bool { return c.joined() == "complete line\n" })

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(" now finished\n")
	f.Close()

	waitFor(t, 3*time.Second, func() bool {
		return c.joined() == "complete line\npartial now finished\n"
	})
}

func TestShrinkTriggersReset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, GamelogName)
	c := &capture{}
	startWatcher(t, dir, c)

	if err := os.WriteFile(path, []byte("first game line one\nfirst game line two\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 3*time.Second, func() bool { return len(c.joined()) > 0 })

	// New game truncates the log and starts over.
	if err := os.WriteFile(path, []byte("second game\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 3*time.Second, func() bool { return c.resetCount() == 1 })
	waitFor(t, 3*time.Second, func() bool {
		return c.joined() == "first game line one\nfirst game line two\nsecond game\n"
	})
}
