package store

import (
	"fmt"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"

	"twcc-gpu-monitor/pkg/monitoring"
)

// DefaultReportPath is where the collector writes and the checker reads.
const DefaultReportPath = "gpu_utilization_per_user.json"

// File persists a monitoring.Report as an indented JSON document.
type File struct {
	Fs   afero.Fs
	Path string
}

func NewFile(fs afero.Fs, path string) *File {
	if path == "" {
		path = DefaultReportPath
	}
	return &File{Fs: fs, Path: path}
}

// Load reads the report. A missing file yields an error wrapping fs.ErrNotExist.
func (f *File) Load() (monitoring.Report, error) {
	data, err := afero.ReadFile(f.Fs, f.Path)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}

	report := monitoring.NewReport()
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decoding report %s: %w", f.Path, err)
	}
	return report, nil
}

// Save replaces the report file. The document is written to a temporary file
// next to the target and renamed over it, so readers never see a partial file.
func (f *File) Save(report monitoring.Report) error {
	if report == nil {
		report = monitoring.NewReport()
	}
	dir := filepath.Dir(f.Path)
	if err := f.Fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}

	tmp, err := afero.TempFile(f.Fs, dir, "."+filepath.Base(f.Path)+".*")
	if err != nil {
		return fmt.Errorf("creating temporary report: %w", err)
	}
	tmpName := tmp.Name()

	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		tmp.Close()
		f.Fs.Remove(tmpName)
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		f.Fs.Remove(tmpName)
		return fmt.Errorf("writing report: %w", err)
	}
	if err := f.Fs.Chmod(tmpName, 0o644); err != nil {
		f.Fs.Remove(tmpName)
		return fmt.Errorf("writing report: %w", err)
	}
	if err := f.Fs.Rename(tmpName, f.Path); err != nil {
		f.Fs.Remove(tmpName)
		return fmt.Errorf("replacing report: %w", err)
	}
	return nil
}
