package storage

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("Failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func TestLocalStorage(t *testing.T) {
	tmpDir := t.TempDir()
	storage, err := NewLocalStorage(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	content := pngBytes(t)

	t.Run("SaveSnapshot", func(t *testing.T) {
		info, err := storage.SaveSnapshot(base64.StdEncoding.EncodeToString(content))
		if err != nil {
			t.Fatalf("Failed to save snapshot: %v", err)
		}

		if filepath.Ext(info.ID) != ".png" || info.ContentType != "image/png" {
			t.Errorf("Expected png snapshot, got %+v", info)
		}

		saved, err := os.ReadFile(filepath.Join(tmpDir, info.ID))
		if err != nil || !bytes.Equal(saved, content) {
			t.Errorf("Snapshot not saved intact: %v", err)
		}
	})

	t.Run("SaveSnapshotDataURL", func(t *testing.T) {
		info, err := storage.SaveSnapshot("data:image/png;base64," + base64.StdEncoding.EncodeToString(content))
		if err != nil {
			t.Fatalf("Failed to save data URL snapshot: %v", err)
		}
		if info.Size != int64(len(content)) {
			t.Errorf("Expected size %d, got %d", len(content), info.Size)
		}
	})

	t.Run("RejectsInvalidSnapshots", func(t *testing.T) {
		inputs := []string{
			"not base64!!",
			base64.StdEncoding.EncodeToString([]byte("plain text, not an image")),
		}
		for _, in := range inputs {
			if _, err := storage.SaveSnapshot(in); !errors.Is(err, ErrInvalidSnapshot) {
				t.Errorf("Expected ErrInvalidSnapshot for %q, got %v", in, err)
			}
		}
	})

	t.Run("OpenFile", func(t *testing.T) {
		testFile := "open-test.png"
		if err := os.WriteFile(filepath.Join(tmpDir, testFile), content, 0644); err != nil {
			t.Fatalf("Failed to create test file: %v", err)
		}

		file, err := storage.OpenFile(testFile)
		if err != nil {
			t.Fatalf("Failed to open file: %v", err)
		}
		defer file.Close()

		got, err := io.ReadAll(file)
		if err != nil || !bytes.Equal(got, content) {
			t.Errorf("File content mismatch")
		}
	})

	t.Run("DeleteFile", func(t *testing.T) {
		testFile := "delete-test.png"
		fullPath := filepath.Join(tmpDir, testFile)
		if err := os.WriteFile(fullPath, content, 0644); err != nil {
			t.Fatalf("Failed to create test file: %v", err)
		}

		if err := storage.DeleteFile(testFile); err != nil {
			t.Fatalf("Failed to delete file: %v", err)
		}
		if _, err := os.Stat(fullPath); !os.IsNotExist(err) {
			t.Errorf("File was not deleted")
		}
	})

	t.Run("PathTraversalPrevention", func(t *testing.T) {
		for _, path := range []string{"../../../etc/passwd", "/etc/passwd", "nested/file.png"} {
			if _, err := storage.OpenFile(path); !errors.Is(err, ErrInvalidPath) {
				t.Errorf("Open %s: expected ErrInvalidPath, got %v", path, err)
			}
			if err := storage.DeleteFile(path); !errors.Is(err, ErrInvalidPath) {
				t.Errorf("Delete %s: expected ErrInvalidPath, got %v", path, err)
			}
		}
	})
}
