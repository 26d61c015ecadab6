// Package watcher tails the local gamelog.txt files DXX clients write,
// feeding freshly appended lines to the event merge path. fsnotify drives
// the fast path; a slow poll covers editors and filesystems that do not
// emit events.
package watcher

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// GamelogName is the file DXX builds append to.
	GamelogName = "gamelog.txt"
	// pollInterval backs up fsnotify.
	pollInterval = 2 * time.Second
)

// DataFunc receives complete newly appended lines of one gamelog.
type DataFunc func(path string, lines []byte)

// ResetFunc fires when a watched gamelog shrank, meaning the game started a
// new log. Consumers drop their per-file state.
type ResetFunc func(path string)

type fileState struct {
	offset int64
}

// Watcher tails gamelog.txt in a set of directories.
type Watcher struct {
	log     *slog.Logger
	dirs    []string
	onData  DataFunc
	onReset ResetFunc

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	files map[string]*fileState
}

func New(log *slog.Logger, dirs []string, onData DataFunc, onReset ResetFunc) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		log:     log,
		dirs:    dirs,
		onData:  onData,
		onReset: onReset,
		fsw:     fsw,
		files:   make(map[string]*fileState),
	}, nil
}

// Start begins watching. Pre-existing gamelog content is skipped; only
// lines appended after this point are reported.
func (w *Watcher) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	for _, dir := range w.dirs {
		if err := w.fsw.Add(dir); err != nil {
			w.log.Warn("cannot watch directory", "dir", dir, "error", err)
			continue
		}
		w.log.Info("watching for gamelogs", "dir", dir)
		path := filepath.Join(dir, GamelogName)
		if info, err := os.Stat(path); err == nil {
			// Skip whatever history the file already holds.
			w.mu.Lock()
			w.files[path] = &fileState{offset: info.Size()}
			w.mu.Unlock()
		}
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()
	return nil
}

// Stop cancels the watch loop and waits for it to drain.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.fsw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != GamelogName {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.check(ev.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("fsnotify error", "error", err)
		case <-ticker.C:
			w.pollAll()
		}
	}
}

func (w *Watcher) pollAll() {
	for _, dir := range w.dirs {
		w.check(filepath.Join(dir, GamelogName))
	}
}

// check compares the file size with the recorded offset and emits whatever
// complete lines were appended. A shrink resets the offset and notifies.
func (w *Watcher) check(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	w.mu.Lock()
	st, ok := w.files[path]
	if !ok {
		st = &fileState{}
		w.files[path] = st
	}
	if info.Size() < st.offset {
		st.offset = 0
		w.mu.Unlock()
		w.log.Info("gamelog restarted", "path", path)
		if w.onReset != nil {
			w.onReset(path)
		}
		w.mu.Lock()
	}
	offset := st.offset
	w.mu.Unlock()

	if info.Size() == offset {
		return
	}

	lines, read, err := readCompleteLines(path, offset)
	if err != nil {
		w.log.Warn("gamelog read failed", "path", path, "error", err)
		return
	}
	if read == 0 {
		return
	}

	w.mu.Lock()
	st.offset = offset + read
	w.mu.Unlock()

	if len(lines) > 0 && w.onData != nil {
		w.onData(path, lines)
	}
}

// readCompleteLines reads from offset to EOF and returns the prefix ending
// at the last newline. The trailing partial line stays unconsumed until the
// writer finishes it.
func readCompleteLines(path string, offset int64) ([]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, 0, err
	}
	cut := bytes.LastIndexByte(data, '\n')
	if cut < 0 {
		return nil, 0, nil
	}
	return data[:cut+1], int64(cut + 1), nil
}
