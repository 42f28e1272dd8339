package store

import (
	"context"
	"fmt"

	"billed/internal/core"
)

// Ports for the remote bill store.
type (
	BillLister interface {
		// List returns every bill visible to the current scope.
		List(ctx context.Context) ([]core.Bill, error)
	}

	AttachmentCreator interface {
		// Create uploads an attachment and returns its URL plus a provisional record key.
		Create(ctx context.Context, req CreateRequest) (CreateResult, error)
	}

	BillUpdater interface {
		// Update persists or overwrites the bill identified by req.Selector.
		Update(ctx context.Context, req UpdateRequest) (core.Bill, error)
	}

	BillStore interface {
		BillLister
		AttachmentCreator
		BillUpdater
	}
)

// Attachment is an uploaded receipt. Content is forwarded byte for byte.
type Attachment struct {
	Name        string
	ContentType string
	Content     []byte
}

// CreateRequest is the multipart payload of an attachment upload.
type CreateRequest struct {
	Attachment Attachment
	Email      string
}

type CreateResult struct {
	FileURL string `json:"fileUrl"`
	Key     string `json:"key"`
}

// UpdateRequest carries the serialized bill and the key captured at upload
// time. An empty Selector means no upload happened.
type UpdateRequest struct {
	Data     []byte
	Selector string
}

// StatusError is a non-2xx answer from the store.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("store responded %d: %s", e.Code, e.Message)
}
