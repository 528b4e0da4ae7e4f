package server

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"meetscribe/internal/util"
)

// UploadStore writes uploaded media to a local directory under a
// collision-free name. The original filename survives only as the display
// name on the job.
type UploadStore struct {
	dir string
}

func NewUploadStore(dir string) (*UploadStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("upload dir required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &UploadStore{dir: dir}, nil
}

// Save streams r into the store and returns the stored path.
func (s *UploadStore) Save(filename string, r io.Reader) (string, error) {
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "recording"
	}
	path := filepath.Join(s.dir, util.NewID()+"_"+base)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write upload: %w", err)
	}
	return path, nil
}
