// Package validate holds the field-level acceptance rules for a
// submitted post. The policy is a pure decision function: it never
// touches storage and reads time only through an injected clock.
package validate

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	TitleMinLen    = 5
	TitleMaxLen    = 50
	DescriptionMax = 500
	ImageMaxBytes  = 1_000_000
	MaxAdditional  = 5
)

var titlePattern = regexp.MustCompile(`^[a-zA-Z0-9\s]+$`)

type Code string

const (
	CodeInvalidTitle            Code = "invalid_title"
	CodeInvalidDescription      Code = "invalid_description"
	CodeInvalidMainImage        Code = "invalid_main_image"
	CodeInvalidAdditionalImages Code = "invalid_additional_images"
	CodeInvalidTimestamp        Code = "invalid_timestamp"
)

// Error is a caller-fixable validation failure. Message carries the
// user-facing text for the first rule that failed.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return e.Message }

// ImageMeta describes a submitted image before any bytes are staged.
type ImageMeta struct {
	Filename    string
	ContentType string
	SizeBytes   int64
}

// Submission is the raw user input judged by the policy.
type Submission struct {
	Title            string
	Description      string
	MainImage        *ImageMeta
	AdditionalImages []ImageMeta
	SubmittedAt      time.Time
}

type Policy struct {
	now func() time.Time
}

func NewPolicy(now func() time.Time) *Policy {
	if now == nil {
		now = time.Now
	}
	return &Policy{now: now}
}

// Validate checks the rules in fixed order and returns the first
// failure; rule order is part of the contract because callers surface
// exactly one message per rejected submission.
func (p *Policy) Validate(sub Submission) *Error {
	if !validTitle(sub.Title) {
		return &Error{
			Code:    CodeInvalidTitle,
			Message: "Title is required and should be 5 to 50 characters long without special characters.",
		}
	}
	if sub.Description == "" || utf8.RuneCountInString(sub.Description) > DescriptionMax {
		return &Error{
			Code:    CodeInvalidDescription,
			Message: "Description is required and should be less than or equal to 500 characters.",
		}
	}
	if sub.MainImage == nil || !validImage(*sub.MainImage) {
		return &Error{
			Code:    CodeInvalidMainImage,
			Message: "Main image is required, should be an image, and should not exceed 1MB in size.",
		}
	}
	if len(sub.AdditionalImages) > MaxAdditional {
		return &Error{
			Code:    CodeInvalidAdditionalImages,
			Message: "Additional images should be at most 5 images.",
		}
	}
	for _, img := range sub.AdditionalImages {
		if !validImage(img) {
			return &Error{
				Code:    CodeInvalidAdditionalImages,
				Message: "Additional images should be images and should not exceed 1MB in size.",
			}
		}
	}
	// Rejects iff the timestamp is strictly before the clock reading at
	// the moment of this check.
	if sub.SubmittedAt.IsZero() || sub.SubmittedAt.Before(p.now()) {
		return &Error{
			Code:    CodeInvalidTimestamp,
			Message: "Invalid date and time. It should be a UNIX timestamp and not before the current time.",
		}
	}
	return nil
}

func validTitle(title string) bool {
	n := len(title)
	if n < TitleMinLen || n > TitleMaxLen {
		return false
	}
	return titlePattern.MatchString(title)
}

func validImage(img ImageMeta) bool {
	if !strings.HasPrefix(img.ContentType, "image/") {
		return false
	}
	return img.SizeBytes > 0 && img.SizeBytes <= ImageMaxBytes
}
