package hardware

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// LineReader reads one token per line, e.g. from stdin. An empty line
// produces a generated mock token.
type LineReader struct {
	lines  chan string
	closer io.Closer

	mu   sync.Mutex
	next int
}

func NewLineReader(r io.Reader) *LineReader {
	lr := &LineReader{lines: make(chan string), next: 1000}
	if c, ok := r.(io.Closer); ok && r != os.Stdin {
		lr.closer = c
	}
	go func() {
		defer close(lr.lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lr.lines <- strings.TrimSpace(sc.Text())
		}
	}()
	return lr
}

func (r *LineReader) ReadToken(ctx context.Context) (string, error) {
	select {
	case line, ok := <-r.lines:
		if !ok {
			return "", ErrReaderClosed
		}
		if line == "" {
			r.mu.Lock()
			r.next++
			line = fmt.Sprintf("MockCard_%d", r.next)
			r.mu.Unlock()
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *LineReader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// SpoolReader watches a directory and delivers the trimmed content of each
// new file as a token, oldest name first. Consumed files are removed.
// Writers should create files under a dot-prefixed name and rename them.
type SpoolReader struct {
	dir     string
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	pending []string
}

func NewSpoolReader(dir string, logger *slog.Logger) (*SpoolReader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("spool dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("spool watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("spool watch %s: %w", dir, err)
	}
	return &SpoolReader{dir: dir, watcher: w, logger: logger}, nil
}

func (r *SpoolReader) ReadToken(ctx context.Context) (string, error) {
	for {
		if len(r.pending) == 0 {
			r.pending = r.scan()
		}
		for len(r.pending) > 0 {
			name := r.pending[0]
			r.pending = r.pending[1:]
			token, err := r.consume(name)
			if err != nil {
				r.logger.Warn("spool.consume.failed", "file", name, "err", err)
				continue
			}
			if token != "" {
				return token, nil
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case _, ok := <-r.watcher.Events:
			if !ok {
				return "", ErrReaderClosed
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return "", ErrReaderClosed
			}
			r.logger.Warn("spool.watch.error", "err", err)
		}
	}
}

func (r *SpoolReader) scan() []string {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		r.logger.Warn("spool.scan.failed", "err", err)
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func (r *SpoolReader) consume(name string) (string, error) {
	p := filepath.Join(r.dir, name)
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(string(b))
	if token == "" {
		// Still being written; the write event triggers a rescan.
		return "", nil
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	return token, nil
}

func (r *SpoolReader) Close() error {
	return r.watcher.Close()
}
