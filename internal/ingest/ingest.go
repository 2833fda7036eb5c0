// Package ingest drives a submission from raw input to a committed
// post: validate, stage the images, commit the record, and unwind
// everything written so far if any step fails. A post is visible in
// the record store only when all of its images are durably in place.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/quillbox/quillbox/internal/model"
	"github.com/quillbox/quillbox/internal/store"
	"github.com/quillbox/quillbox/internal/validate"
)

// appendAttempts bounds retries on store contention before the failure
// is surfaced as fatal. Validation and staging failures are never
// retried; they are caller-input problems.
const appendAttempts = 3

var ErrStore = errors.New("record store failure")

// ImageUpload carries one submitted image. Open is called at most once,
// when the pipeline stages the bytes; metadata is judged before any
// byte is read.
type ImageUpload struct {
	Filename    string
	ContentType string
	SizeBytes   int64
	Open        func() (io.ReadCloser, error)
}

// Submission is the raw client input to Ingest.
type Submission struct {
	Title            string
	Description      string
	MainImage        *ImageUpload
	AdditionalImages []ImageUpload
	SubmittedAt      time.Time
}

type Blobs interface {
	Stage(contentType string, r io.Reader) (string, error)
	Promote(handle string) error
	Discard(handle string) error
}

type Pipeline struct {
	policy *validate.Policy
	blobs  Blobs
	store  store.RecordStore
}

func NewPipeline(policy *validate.Policy, blobs Blobs, recordStore store.RecordStore) *Pipeline {
	return &Pipeline{policy: policy, blobs: blobs, store: recordStore}
}

// Ingest validates and commits one submission. On any failure after
// validation, every image staged by this call is deleted before the
// error is returned; no orphaned bytes outlive a failed call.
func (p *Pipeline) Ingest(ctx context.Context, sub Submission) (model.Post, error) {
	if verr := p.policy.Validate(toPolicySubmission(sub)); verr != nil {
		return model.Post{}, verr
	}

	handles, err := p.stageAll(sub)
	if err != nil {
		p.discardAll(handles)
		return model.Post{}, err
	}

	// Images move into the serving area before the record is appended:
	// if the append fails they are all still revocable, and a record is
	// never committed while its images are missing.
	for _, h := range handles {
		if err := p.blobs.Promote(h); err != nil {
			p.discardAll(handles)
			return model.Post{}, fmt.Errorf("promote image: %w", err)
		}
	}

	post, err := p.commit(ctx, sub, handles)
	if err != nil {
		p.discardAll(handles)
		return model.Post{}, err
	}
	return post, nil
}

// stageAll writes the main image and any additional images
// concurrently; they are independent. It returns once every staging
// attempt has finished (the commit/revoke decision needs all of them),
// with the handles staged so far even on failure so the caller can
// revoke them.
func (p *Pipeline) stageAll(sub Submission) ([]string, error) {
	uploads := make([]ImageUpload, 0, 1+len(sub.AdditionalImages))
	uploads = append(uploads, *sub.MainImage)
	uploads = append(uploads, sub.AdditionalImages...)

	handles := make([]string, len(uploads))
	errs := make([]error, len(uploads))

	var wg sync.WaitGroup
	for i, up := range uploads {
		wg.Add(1)
		go func(i int, up ImageUpload) {
			defer wg.Done()
			handle, err := p.stageOne(up)
			handles[i], errs[i] = handle, err
		}(i, up)
	}
	wg.Wait()

	staged := make([]string, 0, len(handles))
	for _, h := range handles {
		if h != "" {
			staged = append(staged, h)
		}
	}
	for _, err := range errs {
		if err != nil {
			return staged, fmt.Errorf("stage images: %w", err)
		}
	}
	return staged, nil
}

func (p *Pipeline) stageOne(up ImageUpload) (string, error) {
	rc, err := up.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return p.blobs.Stage(up.ContentType, rc)
}

// commit claims a reference number and appends the record. Each retry
// claims a fresh number; a number whose append failed stays retired.
func (p *Pipeline) commit(ctx context.Context, sub Submission, handles []string) (model.Post, error) {
	var lastErr error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		ref, err := p.store.NextReferenceNumber(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		post := model.Post{
			ReferenceNumber:  ref,
			Title:            sub.Title,
			Description:      sub.Description,
			MainImage:        handles[0],
			AdditionalImages: handles[1:],
			SubmittedAt:      sub.SubmittedAt,
			CommittedAt:      time.Now(),
		}
		if err := p.store.Append(ctx, &post); err != nil {
			lastErr = err
			continue
		}
		return post, nil
	}
	return model.Post{}, fmt.Errorf("%w: %v", ErrStore, lastErr)
}

func (p *Pipeline) discardAll(handles []string) {
	for _, h := range handles {
		_ = p.blobs.Discard(h)
	}
}

func toPolicySubmission(sub Submission) validate.Submission {
	out := validate.Submission{
		Title:       sub.Title,
		Description: sub.Description,
		SubmittedAt: sub.SubmittedAt,
	}
	if sub.MainImage != nil {
		out.MainImage = &validate.ImageMeta{
			Filename:    sub.MainImage.Filename,
			ContentType: sub.MainImage.ContentType,
			SizeBytes:   sub.MainImage.SizeBytes,
		}
	}
	for _, img := range sub.AdditionalImages {
		out.AdditionalImages = append(out.AdditionalImages, validate.ImageMeta{
			Filename:    img.Filename,
			ContentType: img.ContentType,
			SizeBytes:   img.SizeBytes,
		})
	}
	return out
}
