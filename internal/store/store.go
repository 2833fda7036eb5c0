package store

import (
	"context"
	"errors"

	"github.com/quillbox/quillbox/internal/model"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrDuplicateReference = errors.New("duplicate reference number")
)

// RecordStore is an append-only store of committed posts. It owns
// reference-number assignment: NextReferenceNumber hands out strictly
// increasing numbers and never hands the same number to two callers,
// even concurrent ones. A number is only "used" once Append durably
// records it; a number whose append fails is permanently retired, so
// gaps are possible but duplicates are not.
type RecordStore interface {
	NextReferenceNumber(ctx context.Context) (int64, error)
	Append(ctx context.Context, post *model.Post) error
	ListAll(ctx context.Context) ([]model.Post, error)
	GetByReference(ctx context.Context, ref int64) (model.Post, error)
	GetSiteStats(ctx context.Context) (model.SiteStats, error)
	Close() error
}
