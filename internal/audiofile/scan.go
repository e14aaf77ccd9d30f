package audiofile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Recording is a finished recording found on disk.
type Recording struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
	Format  Format
}

// Scan lists the recordings in dir, newest first. Files that do not follow
// the recording naming scheme are skipped. A missing dir has no recordings.
func Scan(dir string) ([]Recording, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read recordings directory: %w", err)
	}

	var recordings []Recording
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), filePrefix) {
			continue
		}
		format, err := ParseFormat(filepath.Ext(entry.Name()))
		if err != nil || "."+format.Extension() != strings.ToLower(filepath.Ext(entry.Name())) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			slog.Warn("Failed to get file info", "file", entry.Name(), "error", err)
			continue
		}

		recordings = append(recordings, Recording{
			Name:    entry.Name(),
			Path:    filepath.Join(dir, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Format:  format,
		})
	}

	sort.SliceStable(recordings, func(i, j int) bool {
		if recordings[i].ModTime.Equal(recordings[j].ModTime) {
			return recordings[i].Name > recordings[j].Name
		}
		return recordings[i].ModTime.After(recordings[j].ModTime)
	})
	return recordings, nil
}
