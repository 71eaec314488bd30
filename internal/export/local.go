// Package export writes transformed tables to their final destination.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/fluxpull/fluxpull/internal/fluxnet"
)

// LocalConfig holds configuration for the filesystem sink.
type LocalConfig struct {
	// Dir is the output directory. It is created when absent.
	Dir string

	// DirMode is used when creating Dir (default: 0755).
	DirMode os.FileMode

	// FileMode is applied to written files (default: 0644).
	FileMode os.FileMode

	Logger zerolog.Logger
}

// LocalSink writes tables as CSV files into a directory.
type LocalSink struct {
	dir      string
	dirMode  os.FileMode
	fileMode os.FileMode
	logger   zerolog.Logger
}

// NewLocalSink creates a new filesystem sink.
func NewLocalSink(cfg LocalConfig) *LocalSink {
	dirMode := cfg.DirMode
	if dirMode == 0 {
		dirMode = 0o755
	}
	fileMode := cfg.FileMode
	if fileMode == 0 {
		fileMode = 0o644
	}
	return &LocalSink{
		dir:      cfg.Dir,
		dirMode:  dirMode,
		fileMode: fileMode,
		logger:   cfg.Logger,
	}
}

// Path returns the file path name is written to.
func (s *LocalSink) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Write creates the directory if needed and writes the table to dir/name,
// replacing any existing file. The table is written to a temporary file in
// the same directory and renamed into place, so a failed write leaves the
// previous file intact.
func (s *LocalSink) Write(ctx context.Context, name string, table *fluxnet.Table) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if _, err := os.Stat(s.dir); os.IsNotExist(err) {
		s.logger.Info().Str("dir", s.dir).Msg("creating output directory")
	}
	if err := os.MkdirAll(s.dir, s.dirMode); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	path := s.Path(name)
	f, err := os.CreateTemp(s.dir, "."+name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	tmp := f.Name()
	defer os.Remove(tmp) //nolint:errcheck // no-op after a successful rename

	if err := table.WriteCSV(f); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Chmod(s.fileMode); err != nil {
		f.Close()
		return "", fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("replace %s: %w", path, err)
	}

	return path, nil
}
