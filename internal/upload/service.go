package upload

import (
	"context"
	"errors"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/tokligence/chatrelay/internal/metrics"
)

// Result describes a stored image.
type Result struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// Service re-validates uploads server side and stores accepted ones.
type Service struct {
	store BlobStore
	limit int64
}

// NewService returns a Service storing into store with the given size limit.
func NewService(store BlobStore, limit int64) *Service {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Service{store: store, limit: limit}
}

// Limit returns the configured size limit in bytes.
func (s *Service) Limit() int64 { return s.limit }

// Accept validates the declared type and the sniffed content, then stores data.
func (s *Service) Accept(ctx context.Context, declaredType string, data []byte) (Result, error) {
	if err := Validate(declaredType, int64(len(data)), s.limit); err != nil {
		reject(err)
		return Result{}, err
	}
	detected := mimetype.Detect(data)
	if err := Validate(detected.String(), int64(len(data)), s.limit); err != nil {
		reject(err)
		return Result{}, err
	}
	id := uuid.NewString()
	url, err := s.store.Put(ctx, id+detected.Extension(), detected.String(), data)
	if err != nil {
		return Result{}, fmt.Errorf("upload: store: %w", err)
	}
	return Result{ID: id, URL: url, ContentType: detected.String(), Size: int64(len(data))}, nil
}

func reject(err error) {
	reason := "type"
	if errors.Is(err, ErrTooLarge) {
		reason = "size"
	}
	metrics.UploadRejections.WithLabelValues(reason).Inc()
}
