// Package blob persists downloaded artifacts (video plus optional thumbnail
// and sprite sheet) keyed by job id. Two backends exist: a local directory and an S3-compatible
// bucket; exactly one is selected at startup and the rest of the system only
// sees the Store interface.
package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when no record (or the requested variant) exists.
var ErrNotFound = errors.New("blob: not found")

// Variant names an artifact kind within a record.
type Variant string

const (
	VariantVideo       Variant = "video"
	VariantThumbnail   Variant = "thumbnail"
	VariantSpritesheet Variant = "spritesheet"
)

// Record is written at most once, when a job completes.
type Record struct {
	ID          string
	Filename    string
	Video       []byte
	Thumbnail   []byte // optional
	Spritesheet []byte // optional
	CreatedAt   time.Time
}

type Store interface {
	Put(ctx context.Context, r *Record) error
	// Open streams a stored artifact. ErrNotFound when the record or the
	// requested variant is absent.
	Open(ctx context.Context, id string, variant Variant) (io.ReadCloser, error)
	Has(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	// Mode reports the backend name recorded on completed history entries.
	Mode() string
}
