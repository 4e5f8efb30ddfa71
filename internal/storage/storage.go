package storage

import (
	"errors"
	"io"
)

var (
	ErrInvalidPath     = errors.New("invalid path")
	ErrInvalidSnapshot = errors.New("invalid snapshot")
)

// SnapshotInfo describes a stored evidence image.
type SnapshotInfo struct {
	ID          string
	ContentType string
	Size        int64
}

type Storage interface {
	SaveSnapshot(encoded string) (SnapshotInfo, error)
	OpenFile(path string) (io.ReadSeekCloser, error)
	DeleteFile(path string) error
}
