package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps the registry in a single JSON file, overwritten on every save.
// The cursor lives in a sibling file; an empty cursor path disables it.
type FileStore struct {
	path       string
	cursorPath string
}

func NewFileStore(path, cursorPath string) *FileStore {
	if strings.TrimSpace(path) == "" {
		path = "arcade_data.json"
	}
	return &FileStore{path: path, cursorPath: strings.TrimSpace(cursorPath)}
}

// LoadRegistry returns an empty document when the file does not exist yet.
func (f *FileStore) LoadRegistry(ctx context.Context) (Document, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrPersistence, f.path, err)
	}
	return DecodeDocument(raw)
}

func (f *FileStore) SaveRegistry(ctx context.Context, doc Document) error {
	raw, err := EncodeDocument(doc)
	if err != nil {
		return err
	}
	return writeFileReplace(f.path, raw)
}

type cursorFile struct {
	LastMessageID int64 `json:"last_message_id"`
}

func (f *FileStore) LoadCursor(ctx context.Context) (int64, error) {
	if f.cursorPath == "" {
		return 0, nil
	}
	raw, err := os.ReadFile(f.cursorPath)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %v", ErrPersistence, f.cursorPath, err)
	}
	var c cursorFile
	if err := json.Unmarshal(raw, &c); err != nil {
		return 0, fmt.Errorf("%w: decode cursor: %v", ErrPersistence, err)
	}
	return c.LastMessageID, nil
}

func (f *FileStore) SaveCursor(ctx context.Context, lastMessageID int64) error {
	if f.cursorPath == "" {
		return nil
	}
	raw, err := json.Marshal(cursorFile{LastMessageID: lastMessageID})
	if err != nil {
		return fmt.Errorf("%w: encode cursor: %v", ErrPersistence, err)
	}
	return writeFileReplace(f.cursorPath, raw)
}

func (f *FileStore) Close() error { return nil }

// writeFileReplace writes to a temp file in the same directory and renames it over
// the target, so a crash mid-write leaves the previous contents in place.
func writeFileReplace(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: mkdir %s: %v", ErrPersistence, dir, err)
		}
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp: %v", ErrPersistence, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write %s: %v", ErrPersistence, path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close %s: %v", ErrPersistence, path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: rename %s: %v", ErrPersistence, path, err)
	}
	return nil
}
