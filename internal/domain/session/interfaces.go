package session

import (
	"context"

	"github.com/yanqian/truthcard/internal/domain/roast"
	"github.com/yanqian/truthcard/internal/domain/usage"
)

// ObjectStorage abstracts blob storage (R2/S3/local).
type ObjectStorage interface {
	Put(ctx context.Context, key string, data []byte, mimeType string) (StoredObject, error)
	Delete(ctx context.Context, key string) error
}

// StoredObject captures persisted blob metadata.
type StoredObject struct {
	Key      string
	Size     int64
	MimeType string
	ETag     string
}

// Scorer turns image dimensions into a roast.
type Scorer interface {
	Score(width, height int) (roast.Result, error)
}

// Decoder reads the pixel size of an encoded image.
type Decoder interface {
	Decode(data []byte) (Dimensions, error)
}

// UploadGate authorizes an upload for a device.
type UploadGate interface {
	Authorize(ctx context.Context, deviceID string, tier usage.Tier) (usage.Decision, error)
	// Refund returns an authorized upload that could not be started.
	Refund(ctx context.Context, deviceID string, tier usage.Tier) error
}

// RandSource yields uniform values in [0, 1).
type RandSource = roast.RandSource
