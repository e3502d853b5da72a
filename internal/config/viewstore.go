package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/WindowPeek/internal/logger"
	"github.com/bryanchriswhite/WindowPeek/internal/view"
)

// ErrConfigCorrupt means a persisted view record exists but cannot be used.
var ErrConfigCorrupt = errors.New("view config corrupt")

const (
	titleDir = "window_config"
	exeDir   = "exe_config"
	noName   = "noname"
)

// ViewRecord is the on-disk form of a view. Every field is optional; absent
// fields are filled in by Resolve.
type ViewRecord struct {
	Crop    []int    `json:"crop,omitempty"`
	Pos     []int    `json:"pos,omitempty"`
	Size    []int    `json:"size,omitempty"`
	Opacity *float64 `json:"opacity,omitempty"`
}

// RecordFromView captures every field of v.
func RecordFromView(v view.State) ViewRecord {
	opacity := v.Opacity
	return ViewRecord{
		Crop:    []int{v.Crop.Min.X, v.Crop.Min.Y, v.Crop.Max.X, v.Crop.Max.Y},
		Pos:     []int{v.Pos.X, v.Pos.Y},
		Size:    []int{v.Size.X, v.Size.Y},
		Opacity: &opacity,
	}
}

func (r ViewRecord) validate() error {
	if r.Crop != nil && len(r.Crop) != 4 {
		return fmt.Errorf("crop needs 4 values, has %d", len(r.Crop))
	}
	if r.Pos != nil && len(r.Pos) != 2 {
		return fmt.Errorf("pos needs 2 values, has %d", len(r.Pos))
	}
	if r.Size != nil && len(r.Size) != 2 {
		return fmt.Errorf("size needs 2 values, has %d", len(r.Size))
	}
	return nil
}

// Resolve builds a view for a source of srcW x srcH. Missing position and
// size come from fallback, a missing crop covers the whole source and a
// missing opacity is the default. The result is normalized.
func (r ViewRecord) Resolve(srcW, srcH int, fallback view.State) view.State {
	s := fallback
	if len(r.Pos) == 2 {
		s.Pos = image.Pt(r.Pos[0], r.Pos[1])
	}
	if len(r.Size) == 2 {
		s.Size = image.Pt(r.Size[0], r.Size[1])
	}
	s.Crop = view.FullCrop(srcW, srcH)
	if len(r.Crop) == 4 {
		s.Crop = image.Rectangle{
			Min: image.Pt(r.Crop[0], r.Crop[1]),
			Max: image.Pt(r.Crop[2], r.Crop[3]),
		}
	}
	s.Opacity = view.DefaultOpacity
	if r.Opacity != nil {
		s.Opacity = *r.Opacity
	}
	return s.Normalize(srcW, srcH)
}

// Sanitize turns a window title or process name into a file name.
func Sanitize(name string) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`<>:"/\|?*`, r) {
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" {
		return noName
	}
	return name
}

// ViewStore persists one view record per window title and per process
// name, under window_config/ and exe_config/ respectively.
type ViewStore struct {
	dir string
	log *zerolog.Logger
}

// NewViewStore creates a store rooted at dir. Directories are created on
// first save.
func NewViewStore(dir string) *ViewStore {
	return &ViewStore{
		dir: dir,
		log: logger.WithComponent("view-store"),
	}
}

// Dir returns the store root.
func (s *ViewStore) Dir() string {
	return s.dir
}

// TitlePath is the record file for a window title.
func (s *ViewStore) TitlePath(title string) string {
	return filepath.Join(s.dir, titleDir, Sanitize(title)+".json")
}

// ExePath is the record file for a process name.
func (s *ViewStore) ExePath(exe string) string {
	return filepath.Join(s.dir, exeDir, Sanitize(exe)+".json")
}

// Load returns the record saved for title, falling back to the one saved
// for exe. Corrupt files are logged and treated as absent.
func (s *ViewStore) Load(title, exe string) (ViewRecord, bool) {
	for _, path := range []string{s.TitlePath(title), s.ExePath(exe)} {
		rec, err := s.read(path)
		switch {
		case err == nil:
			s.log.Debug().Str("path", path).Msg("Loaded view config")
			return rec, true
		case errors.Is(err, fs.ErrNotExist):
			continue
		default:
			s.log.Warn().Err(err).Str("path", path).Msg("Ignoring view config")
		}
	}
	return ViewRecord{}, false
}

func (s *ViewStore) read(path string) (ViewRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ViewRecord{}, err
		}
		return ViewRecord{}, fmt.Errorf("%w: %v", ErrConfigCorrupt, err)
	}
	var rec ViewRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return ViewRecord{}, fmt.Errorf("%w: %v", ErrConfigCorrupt, err)
	}
	if err := rec.validate(); err != nil {
		return ViewRecord{}, fmt.Errorf("%w: %v", ErrConfigCorrupt, err)
	}
	return rec, nil
}

// Save writes rec under both the title and the exe key. Both writes are
// attempted even if one fails.
func (s *ViewStore) Save(rec ViewRecord, title, exe string) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal view config: %w", err)
	}

	var errs []error
	for _, path := range []string{s.TitlePath(title), s.ExePath(exe)} {
		if err := writeFile(path, data); err != nil {
			errs = append(errs, err)
			continue
		}
		s.log.Debug().Str("path", path).Msg("Saved view config")
	}
	return errors.Join(errs...)
}

// writeFile replaces path through a temp file so readers never see a
// partial record.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".view-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
