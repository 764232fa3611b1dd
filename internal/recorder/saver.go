package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/1ureka/babelcast/internal/metrics"
	"github.com/1ureka/babelcast/internal/util"
)

// ErrInvalidName is returned for recording names outside the directory.
var ErrInvalidName = errors.New("invalid recording name")

// Filename returns the download name of a recording finished at t, in the
// form recording_<YYYY-MM-DD>_<HH>_<MM>.webm. The date is the UTC date; hour
// and minute are in t's own zone.
func Filename(t time.Time) string {
	return "recording_" + t.UTC().Format("2006-01-02") + t.Format("_15_04") + ".webm"
}

// Entry describes a saved recording.
type Entry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// DirSaver writes finished recordings into a directory.
type DirSaver struct {
	dir     string
	now     func() time.Time
	metrics *metrics.Metrics
}

// NewDirSaver creates a saver writing into dir. m may be nil.
func NewDirSaver(dir string, m *metrics.Metrics) *DirSaver {
	return &DirSaver{dir: dir, now: time.Now, metrics: m}
}

// Dir returns the target directory.
func (s *DirSaver) Dir() string { return s.dir }

// Save writes b under a timestamped name. A " (n)" suffix is appended when
// the name is taken, as browsers do for repeated downloads.
func (s *DirSaver) Save(b Blob) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create recordings dir: %w", err)
	}

	name := Filename(s.now())
	path, err := uniquePath(s.dir, name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, b.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to save recording: %w", err)
	}

	util.Stats.AddWritten(b.Size())
	s.metrics.RecordSegment(b.Size())
	util.LogSuccess("saved recording %s (%d bytes)", filepath.Base(path), b.Size())
	return path, nil
}

// Handle is an OnStop callback that saves b and logs failures.
func (s *DirSaver) Handle(b Blob) {
	if _, err := s.Save(b); err != nil {
		util.LogError("%v", err)
	}
}

func uniquePath(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	candidate := filepath.Join(dir, name)
	for n := 1; ; n++ {
		_, err := os.Stat(candidate)
		if errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to stat %s: %w", candidate, err)
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, n, ext))
	}
}

// List returns the saved recordings, newest first.
func (s *DirSaver) List() ([]Entry, error) {
	items, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}

	var out []Entry
	for _, it := range items {
		if it.IsDir() || filepath.Ext(it.Name()) != ".webm" {
			continue
		}
		info, err := it.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{Name: it.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModTime.After(out[j].ModTime) })
	return out, nil
}

// Path resolves name to a file inside the directory.
func (s *DirSaver) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || filepath.Ext(name) != ".webm" {
		return "", ErrInvalidName
	}
	return filepath.Join(s.dir, name), nil
}
