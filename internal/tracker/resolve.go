package tracker

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sorabox/sorabox/internal/blob"
	"github.com/sorabox/sorabox/internal/gateway"
	"github.com/sorabox/sorabox/internal/history"
)

// Source is a resolved artifact: either a local reader over blob storage or a
// redirect target when the relay should serve the bytes itself.
type Source struct {
	Reader      io.ReadCloser
	ContentType string
	Filename    string
	RedirectURL string
}

// contentURLer is implemented by the relay gateway; the direct gateway has no
// client-reachable content URL.
type contentURLer interface {
	ContentURL(id string, variant gateway.Variant) string
}

func contentType(variant blob.Variant) string {
	switch variant {
	case blob.VariantThumbnail:
		return "image/webp"
	case blob.VariantSpritesheet:
		return "image/jpeg"
	default:
		return "video/mp4"
	}
}

// Resolve locates playable content for a job. The chain is: blob storage,
// then a one-time download from the gateway that is cached for the next call,
// then (relay mode only) a redirect to the relay's own content endpoint.
// A nil Source means the content does not exist: unknown ids, failed jobs and
// jobs still processing all resolve to nothing.
func (t *Tracker) Resolve(ctx context.Context, id string, variant blob.Variant) (*Source, error) {
	entry, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.Status != history.StatusCompleted {
		return nil, nil
	}

	rc, err := t.blobs.Open(ctx, id, variant)
	if err == nil {
		return &Source{Reader: rc, ContentType: contentType(variant), Filename: entry.Filename}, nil
	}
	if !errors.Is(err, blob.ErrNotFound) {
		return nil, err
	}

	has, err := t.blobs.Has(ctx, id)
	if err != nil {
		return nil, err
	}
	if !has {
		if src := t.fetchAndCache(ctx, entry, variant); src != nil {
			return src, nil
		}
	}

	// Record exists but this variant is missing (typically the thumbnail), or
	// the download failed. In relay mode the relay can still serve it.
	if cu, ok := t.gw.(contentURLer); ok {
		return &Source{RedirectURL: cu.ContentURL(id, gateway.Variant(variant))}, nil
	}
	return nil, nil
}

// fetchAndCache re-downloads a completed job whose blob record is gone, for
// example after switching storage backends, and stores it for the next call.
func (t *Tracker) fetchAndCache(ctx context.Context, entry *history.Entry, variant blob.Variant) *Source {
	video, err := t.gw.DownloadContent(ctx, entry.ID, gateway.VariantVideo)
	if err != nil {
		t.logger.Warn("content re-download failed", "job_id", entry.ID, "error", err)
		return nil
	}
	thumb, err := t.gw.DownloadContent(ctx, entry.ID, gateway.VariantThumbnail)
	if err != nil {
		thumb = nil
	}
	sheet, err := t.gw.DownloadContent(ctx, entry.ID, gateway.VariantSpritesheet)
	if err != nil {
		sheet = nil
	}

	rec := &blob.Record{
		ID:          entry.ID,
		Filename:    entry.Filename,
		Video:       video,
		Thumbnail:   thumb,
		Spritesheet: sheet,
		CreatedAt:   time.Now().UTC(),
	}
	if err := t.blobs.Put(ctx, rec); err != nil {
		t.logger.Warn("failed to cache re-downloaded content", "job_id", entry.ID, "error", err)
	}

	rc, err := t.blobs.Open(ctx, entry.ID, variant)
	if err != nil {
		return nil
	}
	return &Source{Reader: rc, ContentType: contentType(variant), Filename: entry.Filename}
}
