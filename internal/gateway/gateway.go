// Package gateway abstracts the upstream video-generation API. Two
// implementations exist: Direct talks to the provider with an API key, Relay
// talks to a deployed relay server that holds the key and optionally demands
// a shared-password proof. The rest of the system only branches on the
// resolved mode through this interface.
package gateway

import (
	"context"
	"errors"

	"github.com/sorabox/sorabox/internal/job"
)

var (
	// ErrInvalidCredential means the provider or relay rejected the configured
	// secret. It is fatal to the polling loop: every subsequent call would fail
	// the same way.
	ErrInvalidCredential = errors.New("gateway: invalid credential")

	// ErrCredentialRequired means no secret is configured (or the requirement
	// is not yet resolved); the caller should prompt before any network call.
	ErrCredentialRequired = errors.New("gateway: credential required")

	// ErrStillProcessing is returned by Delete while the provider is still
	// generating the asset; callers may offer a local-only force delete.
	ErrStillProcessing = errors.New("gateway: asset still being generated")

	// ErrNotFound marks an absent artifact (e.g. a thumbnail that is not ready).
	ErrNotFound = errors.New("gateway: not found")
)

// Variant selects which artifact of a completed job to download.
type Variant string

const (
	VariantVideo       Variant = "video"
	VariantThumbnail   Variant = "thumbnail"
	VariantSpritesheet Variant = "spritesheet"
)

type CreateParams struct {
	Model   string
	Prompt  string
	Size    string
	Seconds int
}

type Gateway interface {
	Create(ctx context.Context, p CreateParams) (*job.Job, error)
	Remix(ctx context.Context, sourceID, prompt string) (*job.Job, error)
	Retrieve(ctx context.Context, id string) (*job.Job, error)
	DownloadContent(ctx context.Context, id string, variant Variant) ([]byte, error)
	Delete(ctx context.Context, id string) error
	// VerifyCredentials checks that the configured secret is present and
	// accepted, without side effects. ErrCredentialRequired when absent,
	// ErrInvalidCredential when rejected.
	VerifyCredentials(ctx context.Context) error
}
