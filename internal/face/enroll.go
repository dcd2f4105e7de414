package face

import (
	"context"

	"github.com/google/uuid"
)

// DescriptorSource turns image bytes into a descriptor (the extractor boundary).
type DescriptorSource interface {
	Extract(ctx context.Context, image []byte) (Extraction, error)
}

// DescriptorWriter replaces a user's canonical descriptor.
type DescriptorWriter interface {
	Replace(ctx context.Context, userID, filename string, vector []float32, confidence float64) error
}

// Enroller registers a user's face: extraction must succeed before the
// descriptor replaces the previous one.
type Enroller struct {
	source DescriptorSource
	store  DescriptorWriter
}

// NewEnroller creates an enroller.
func NewEnroller(source DescriptorSource, store DescriptorWriter) *Enroller {
	return &Enroller{source: source, store: store}
}

// Enroll extracts a descriptor from the image and stores it for the user.
// Returns the evidence filename assigned to the capture.
func (e *Enroller) Enroll(ctx context.Context, userID string, image []byte) (string, error) {
	extraction, err := e.source.Extract(ctx, image)
	if err != nil {
		return "", err
	}
	filename := uuid.NewString() + ".jpg"
	if err := e.store.Replace(ctx, userID, filename, extraction.Descriptor, extraction.Confidence); err != nil {
		return "", err
	}
	return filename, nil
}

var _ DescriptorSource = (*Extractor)(nil)
