package newbill

import (
	"context"
	"fmt"

	"billed/internal/core"
	"billed/internal/log"
	"billed/internal/store"
)

type UploadPhase int

const (
	PhaseNotStarted UploadPhase = iota
	PhaseInFlight
	PhaseUploaded
	PhaseFailed
)

func (p UploadPhase) String() string {
	switch p {
	case PhaseInFlight:
		return "in_flight"
	case PhaseUploaded:
		return "uploaded"
	case PhaseFailed:
		return "failed"
	}
	return "not_started"
}

// Upload is a snapshot of the attachment upload. FileURL, FileName and Key
// are set only when Phase is PhaseUploaded, Err only when it is PhaseFailed.
type Upload struct {
	Phase    UploadPhase
	FileURL  string
	FileName string
	Key      string
	Err      error
}

// Upload returns the current upload snapshot.
func (f *Form) Upload() Upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upload
}

// HandleAttachmentChange starts uploading att and returns immediately.
// inputValue is the raw value of the file input, from which the stored file
// name is derived. A later change supersedes an upload still in flight;
// the superseded result is discarded.
//
// The upload outlives ctx cancellation but keeps its values.
func (f *Form) HandleAttachmentChange(ctx context.Context, inputValue string, att store.Attachment) {
	fileName := FileNameFromInput(inputValue)
	if att.Name == "" {
		att.Name = fileName
	}

	f.mu.Lock()
	f.generation++
	gen := f.generation
	settled := make(chan struct{})
	f.settled = settled
	f.upload = Upload{Phase: PhaseInFlight, FileName: fileName}
	f.mu.Unlock()

	req := store.CreateRequest{Attachment: att, Email: f.identity.Email}
	go f.runUpload(context.WithoutCancel(ctx), gen, settled, fileName, req)
}

func (f *Form) runUpload(ctx context.Context, gen uint64, settled chan struct{}, fileName string, req store.CreateRequest) {
	defer close(settled)

	res, err := f.store.Create(ctx, req)
	f.metrics.ObserveUpload(err)

	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.generation {
		f.logger.DebugContext(ctx, "Superseded upload discarded", log.FieldFileName, fileName)
		return
	}
	if err != nil {
		f.upload = Upload{Phase: PhaseFailed, FileName: fileName, Err: fmt.Errorf("%w: %w", core.ErrUploadFailed, err)}
		f.logger.ErrorContext(ctx, "Attachment upload failed",
			log.FieldFileName, fileName,
			log.FieldEmail, req.Email,
			log.FieldError, err.Error(),
		)
		return
	}
	f.upload = Upload{Phase: PhaseUploaded, FileURL: res.FileURL, FileName: fileName, Key: res.Key}
	f.logger.InfoContext(ctx, "Attachment uploaded",
		log.FieldFileName, fileName,
		log.FieldBillID, res.Key,
	)
}

// WaitUpload blocks until no upload is in flight and returns the settled
// snapshot. If ctx ends first the error wraps core.ErrUploadInFlight.
func (f *Form) WaitUpload(ctx context.Context) (Upload, error) {
	if err := f.lockSettled(ctx); err != nil {
		return f.Upload(), err
	}
	defer f.mu.Unlock()
	return f.upload, nil
}

// lockSettled waits until no upload is in flight and returns with f.mu
// held, so the caller reads a settled upload. On error f.mu is not held.
func (f *Form) lockSettled(ctx context.Context) error {
	f.mu.Lock()
	for f.upload.Phase == PhaseInFlight {
		ch := f.settled
		f.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", core.ErrUploadInFlight, ctx.Err())
		}
		f.mu.Lock()
	}
	return nil
}
