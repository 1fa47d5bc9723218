// Package filestore maps model-run files to paths in the local cache
// directory and prunes files from superseded runs.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/gfs-forecast-service/internal/domain"
)

const bulletinDir = "bulletins"

// File is a forecast-hour file and its location on disk.
type File struct {
	Hour int
	Path string
}

// Store lays out cached files under a single base directory. It holds no
// state beyond the directory and staleness threshold.
type Store struct {
	dir    string
	maxAge time.Duration
	clock  clockwork.Clock
}

// New creates the base directory if needed. A zero maxAge disables the
// staleness check.
func New(dir string, maxAge time.Duration, clock clockwork.Clock) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, bulletinDir), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Store{dir: dir, maxAge: maxAge, clock: domain.Clock(clock)}, nil
}

// Dir returns the base directory.
func (s *Store) Dir() string { return s.dir }

// PathFor returns the GRIB path for a region, run and forecast hour.
func (s *Store) PathFor(region string, run domain.ModelRun, hour int) string {
	name := fmt.Sprintf("%s%s_f%03d.grib2", region, runSuffix(run), hour)
	return filepath.Join(s.dir, name)
}

// BulletinPath returns the station bulletin path for a run.
func (s *Store) BulletinPath(station string, run domain.ModelRun) string {
	return filepath.Join(s.dir, bulletinDir, station+runSuffix(run)+".bull")
}

// runSuffix is the fragment shared by every file of a run, e.g. "_gfs_20250206_06z".
func runSuffix(run domain.ModelRun) string {
	return fmt.Sprintf("_gfs_%s_%sz", run.DateStamp(), run.HourStamp())
}

// IsValid reports whether path exists, is non-empty, and is not older than
// the staleness threshold.
func (s *Store) IsValid(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return false
	}
	if s.maxAge > 0 && s.clock.Since(info.ModTime()) > s.maxAge {
		return false
	}
	return true
}

// MissingFiles lists the hours that still need downloading.
func (s *Store) MissingFiles(region string, run domain.ModelRun, hours []int) []File {
	var out []File
	for _, h := range hours {
		p := s.PathFor(region, run, h)
		if !s.IsValid(p) {
			out = append(out, File{Hour: h, Path: p})
		}
	}
	return out
}

// ValidFiles lists the hours already present and usable.
func (s *Store) ValidFiles(region string, run domain.ModelRun, hours []int) []File {
	var out []File
	for _, h := range hours {
		p := s.PathFor(region, run, h)
		if s.IsValid(p) {
			out = append(out, File{Hour: h, Path: p})
		}
	}
	return out
}

// Write streams r into path through a temporary file so readers never see a
// partial payload. It returns the number of bytes written.
func (s *Store) Write(path string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}
	return n, nil
}

// Remove deletes a single cached file, ignoring files that are already gone.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Cleanup deletes every cached file that does not belong to current and
// returns the number removed.
func (s *Store) Cleanup(current domain.ModelRun) (int, error) {
	keep := runSuffix(current)
	removed := 0
	var errs []error
	for _, dir := range []string{s.dir, filepath.Join(s.dir, bulletinDir)} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		for _, e := range entries {
			if !e.Type().IsRegular() {
				continue
			}
			if strings.Contains(e.Name(), keep) && !strings.HasSuffix(e.Name(), ".tmp") {
				continue
			}
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				errs = append(errs, err)
				continue
			}
			removed++
		}
	}
	return removed, errors.Join(errs...)
}
