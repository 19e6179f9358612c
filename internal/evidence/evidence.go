// Package evidence stores captured JPEG frames as flat files referenced by
// file name only.
package evidence

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/rs/xid"

	"github.com/BrandonDHaskell/parkedge/internal/clock"
)

// ErrInvalidRef is returned for references that are not a bare file name.
var ErrInvalidRef = errors.New("invalid evidence reference")

const (
	KindIn   = "in"
	KindOut  = "out"
	KindFail = "fail"
)

type Store struct {
	dir   string
	clock clock.Clock
}

func New(dir string, clk clock.Clock) (*Store, error) {
	if dir == "" {
		dir = "picture"
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("evidence dir: %w", err)
	}
	return &Store{dir: dir, clock: clk}, nil
}

func (s *Store) Dir() string { return s.dir }

// Save writes data under a fresh name and returns that name.
func (s *Store) Save(kind, plate string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("evidence save: empty image")
	}
	name := fmt.Sprintf("%s_%s_%s_%s.jpg",
		sanitize(kind, "img"),
		s.clock.Now().UTC().Format("20060102_150405"),
		sanitize(plate, "UNKNOWN"),
		xid.New().String(),
	)

	tmp, err := os.CreateTemp(s.dir, ".evidence-*")
	if err != nil {
		return "", fmt.Errorf("evidence save: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("evidence write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("evidence sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("evidence close: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("evidence rename: %w", err)
	}
	return name, nil
}

// Path resolves ref inside the store directory.
func (s *Store) Path(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return filepath.Join(s.dir, ref), nil
}

// Read returns the image bytes. A missing file yields an error matching
// fs.ErrNotExist.
func (s *Store) Read(ref string) ([]byte, error) {
	p, err := s.Path(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fs.ErrNotExist, err)
	}
	return os.ReadFile(p)
}

func (s *Store) Exists(ref string) bool {
	p, err := s.Path(ref)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Remove deletes ref. Removing a missing file is not an error.
func (s *Store) Remove(ref string) error {
	p, err := s.Path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func sanitize(s, fallback string) string {
	var b strings.Builder
	for _, r := range s {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return fallback
	}
	return b.String()
}

// ParseTime recovers the UTC capture time encoded in a saved name.
func ParseTime(ref string) (time.Time, bool) {
	parts := strings.SplitN(ref, "_", 4)
	if len(parts) < 4 {
		return time.Time{}, false
	}
	t, err := time.Parse("20060102_150405", parts[1]+"_"+parts[2])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
