package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FSStore keeps one directory per job id under root.
type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) Mode() string { return "fs" }

func (s *FSStore) dir(id string) string {
	// Job ids are provider-issued; strip path separators.
	id = strings.ReplaceAll(id, "/", "_")
	id = strings.ReplaceAll(id, string(os.PathSeparator), "_")
	return filepath.Join(s.root, id)
}

func (s *FSStore) path(id string, variant Variant) string {
	switch variant {
	case VariantThumbnail:
		return filepath.Join(s.dir(id), "thumbnail.webp")
	case VariantSpritesheet:
		return filepath.Join(s.dir(id), "spritesheet.jpg")
	default:
		return filepath.Join(s.dir(id), "video.mp4")
	}
}

func (s *FSStore) Put(ctx context.Context, r *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := s.dir(r.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create record dir: %w", err)
	}
	if err := os.WriteFile(s.path(r.ID, VariantVideo), r.Video, 0o644); err != nil {
		return fmt.Errorf("write video %s: %w", r.ID, err)
	}
	if len(r.Thumbnail) > 0 {
		if err := os.WriteFile(s.path(r.ID, VariantThumbnail), r.Thumbnail, 0o644); err != nil {
			return fmt.Errorf("write thumbnail %s: %w", r.ID, err)
		}
	}
	if len(r.Spritesheet) > 0 {
		if err := os.WriteFile(s.path(r.ID, VariantSpritesheet), r.Spritesheet, 0o644); err != nil {
			return fmt.Errorf("write spritesheet %s: %w", r.ID, err)
		}
	}
	return nil
}

func (s *FSStore) Open(ctx context.Context, id string, variant Variant) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(id, variant))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open %s %s: %w", variant, id, err)
	}
	return f, nil
}

func (s *FSStore) Has(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(id, VariantVideo))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat video %s: %w", id, err)
	}
	return true, nil
}

func (s *FSStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(s.dir(id)); err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

func (s *FSStore) Clear(ctx context.Context) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("read blob dir: %w", err)
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			return fmt.Errorf("clear record %s: %w", e.Name(), err)
		}
	}
	return nil
}
