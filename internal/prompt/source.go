package prompt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/snowchat/snowchat/internal/storage"
)

// DirSource reads templates from a local directory.
type DirSource struct {
	Dir string
}

func (s DirSource) Read(_ context.Context, fileName string) (string, error) {
	if fileName == "" || strings.ContainsAny(fileName, `/\`) || fileName == ".." {
		return "", fmt.Errorf("invalid template file name %q", fileName)
	}
	data, err := os.ReadFile(filepath.Join(s.Dir, fileName))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// maxTemplateBytes bounds a template read from the object store.
const maxTemplateBytes = 256 << 10

// ObjectStoreSource reads templates stored under the prompts/ key prefix.
type ObjectStoreSource struct {
	Store storage.ObjectReader
}

func (s ObjectStoreSource) Read(ctx context.Context, fileName string) (string, error) {
	if s.Store == nil {
		return "", fmt.Errorf("object store is required")
	}
	key, err := storage.BuildTemplateKey(fileName)
	if err != nil {
		return "", err
	}
	data, err := storage.ReadSmall(ctx, s.Store, key, maxTemplateBytes)
	if err != nil {
		return "", fmt.Errorf("template object %q: %w", key, err)
	}
	return string(data), nil
}

// Upload copies every known template found in dir into store and returns
// the object keys written. Templates absent from dir are skipped.
func Upload(ctx context.Context, store storage.ObjectWriter, dir string) ([]string, error) {
	source := DirSource{Dir: dir}
	keys := make([]string, 0, len(Templates()))
	for _, t := range Templates() {
		text, err := source.Read(ctx, t.FileName())
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return keys, &TemplateError{Name: t.FileName(), Err: err}
		}
		key, err := storage.BuildTemplateKey(t.FileName())
		if err != nil {
			return keys, err
		}
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte(text)), int64(len(text)), storage.PutOptions{ContentType: storage.ContentTypeText}); err != nil {
			return keys, fmt.Errorf("upload template %q: %w", t.FileName(), err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}
