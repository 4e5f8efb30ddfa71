package storage

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// MaxSnapshotSize bounds a decoded snapshot.
const MaxSnapshotSize = 5 << 20

var snapshotExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

type LocalStorage struct {
	basePath string
}

func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// SaveSnapshot decodes a base64 image, optionally wrapped in a data URL, and
// writes it under a fresh id.
func (ls *LocalStorage) SaveSnapshot(encoded string) (SnapshotInfo, error) {
	if _, payload, ok := strings.Cut(encoded, ";base64,"); ok {
		encoded = payload
	}
	encoded = strings.TrimSpace(encoded)
	if base64.StdEncoding.DecodedLen(len(encoded)) > MaxSnapshotSize {
		return SnapshotInfo{}, fmt.Errorf("%w: larger than %d bytes", ErrInvalidSnapshot, MaxSnapshotSize)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	contentType := http.DetectContentType(data)
	ext, ok := snapshotExtensions[contentType]
	if !ok {
		return SnapshotInfo{}, fmt.Errorf("%w: unsupported content type %s", ErrInvalidSnapshot, contentType)
	}

	filename := uuid.New().String() + ext
	fullPath := filepath.Join(ls.basePath, filename)
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		os.Remove(fullPath)
		return SnapshotInfo{}, fmt.Errorf("failed to save snapshot: %w", err)
	}

	return SnapshotInfo{ID: filename, ContentType: contentType, Size: int64(len(data))}, nil
}

func (ls *LocalStorage) resolve(path string) (string, error) {
	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") || filepath.IsAbs(cleanPath) || strings.ContainsRune(cleanPath, filepath.Separator) {
		return "", ErrInvalidPath
	}
	return filepath.Join(ls.basePath, cleanPath), nil
}

func (ls *LocalStorage) OpenFile(path string) (io.ReadSeekCloser, error) {
	fullPath, err := ls.resolve(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

func (ls *LocalStorage) DeleteFile(path string) error {
	fullPath, err := ls.resolve(path)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}
