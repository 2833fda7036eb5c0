package validate

import (
	"strings"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func validSubmission(now time.Time) Submission {
	return Submission{
		Title:       "My Blog Post",
		Description: "This is my blog post description.",
		MainImage:   &ImageMeta{Filename: "main.jpg", ContentType: "image/jpeg", SizeBytes: 512_000},
		SubmittedAt: now,
	}
}

func TestValidSubmissionPasses(t *testing.T) {
	now := time.Now()
	p := NewPolicy(fixedClock(now))
	if err := p.Validate(validSubmission(now)); err != nil {
		t.Fatalf("expected valid submission, got %v", err)
	}
}

func TestTitleRules(t *testing.T) {
	now := time.Now()
	p := NewPolicy(fixedClock(now))

	cases := []struct {
		name  string
		title string
	}{
		{"empty", ""},
		{"too short", "abcd"},
		{"too long", strings.Repeat("a", 51)},
		{"special characters", "My Blog Post!"},
		{"unicode", "Mý Blog Post"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub := validSubmission(now)
			sub.Title = tc.title
			err := p.Validate(sub)
			if err == nil || err.Code != CodeInvalidTitle {
				t.Fatalf("expected invalid_title, got %v", err)
			}
		})
	}

	sub := validSubmission(now)
	sub.Title = strings.Repeat("a", 50)
	if err := p.Validate(sub); err != nil {
		t.Fatalf("50-char title should pass, got %v", err)
	}
	sub.Title = "ab cd"
	if err := p.Validate(sub); err != nil {
		t.Fatalf("5-char title should pass, got %v", err)
	}
}

func TestDescriptionRules(t *testing.T) {
	now := time.Now()
	p := NewPolicy(fixedClock(now))

	sub := validSubmission(now)
	sub.Description = ""
	if err := p.Validate(sub); err == nil || err.Code != CodeInvalidDescription {
		t.Fatalf("expected invalid_description, got %v", err)
	}

	sub.Description = strings.Repeat("x", 501)
	if err := p.Validate(sub); err == nil || err.Code != CodeInvalidDescription {
		t.Fatalf("expected invalid_description, got %v", err)
	}

	sub.Description = strings.Repeat("x", 500)
	if err := p.Validate(sub); err != nil {
		t.Fatalf("500-char description should pass, got %v", err)
	}
}

func TestMainImageRules(t *testing.T) {
	now := time.Now()
	p := NewPolicy(fixedClock(now))

	sub := validSubmission(now)
	sub.MainImage = nil
	if err := p.Validate(sub); err == nil || err.Code != CodeInvalidMainImage {
		t.Fatalf("expected invalid_main_image for missing image, got %v", err)
	}

	sub = validSubmission(now)
	sub.MainImage.ContentType = "application/pdf"
	if err := p.Validate(sub); err == nil || err.Code != CodeInvalidMainImage {
		t.Fatalf("expected invalid_main_image for non-image type, got %v", err)
	}

	sub = validSubmission(now)
	sub.MainImage.SizeBytes = 2_000_000
	if err := p.Validate(sub); err == nil || err.Code != CodeInvalidMainImage {
		t.Fatalf("expected invalid_main_image for oversize image, got %v", err)
	}

	sub = validSubmission(now)
	sub.MainImage.SizeBytes = 1_000_000
	if err := p.Validate(sub); err != nil {
		t.Fatalf("exactly 1MB should pass, got %v", err)
	}
}

func TestAdditionalImageRules(t *testing.T) {
	now := time.Now()
	p := NewPolicy(fixedClock(now))

	sub := validSubmission(now)
	for i := 0; i < 6; i++ {
		sub.AdditionalImages = append(sub.AdditionalImages, ImageMeta{ContentType: "image/png", SizeBytes: 100})
	}
	if err := p.Validate(sub); err == nil || err.Code != CodeInvalidAdditionalImages {
		t.Fatalf("expected invalid_additional_images for 6 images, got %v", err)
	}

	sub = validSubmission(now)
	sub.AdditionalImages = []ImageMeta{
		{ContentType: "image/png", SizeBytes: 100},
		{ContentType: "text/plain", SizeBytes: 100},
	}
	if err := p.Validate(sub); err == nil || err.Code != CodeInvalidAdditionalImages {
		t.Fatalf("expected invalid_additional_images for non-image, got %v", err)
	}

	sub = validSubmission(now)
	sub.AdditionalImages = []ImageMeta{
		{ContentType: "image/png", SizeBytes: 100},
		{ContentType: "image/jpeg", SizeBytes: 2_000_000},
	}
	if err := p.Validate(sub); err == nil || err.Code != CodeInvalidAdditionalImages {
		t.Fatalf("expected invalid_additional_images for oversize, got %v", err)
	}

	sub = validSubmission(now)
	sub.AdditionalImages = []ImageMeta{
		{ContentType: "image/png", SizeBytes: 100},
	}
	if err := p.Validate(sub); err != nil {
		t.Fatalf("one valid additional image should pass, got %v", err)
	}
}

func TestTimestampBoundary(t *testing.T) {
	now := time.Now()
	p := NewPolicy(fixedClock(now))

	sub := validSubmission(now.Add(-time.Second))
	if err := p.Validate(sub); err == nil || err.Code != CodeInvalidTimestamp {
		t.Fatalf("expected invalid_timestamp for past time, got %v", err)
	}

	// Exactly "now" is accepted: the rule rejects strictly-before only.
	sub = validSubmission(now)
	if err := p.Validate(sub); err != nil {
		t.Fatalf("timestamp equal to now should pass, got %v", err)
	}

	sub = validSubmission(time.Time{})
	if err := p.Validate(sub); err == nil || err.Code != CodeInvalidTimestamp {
		t.Fatalf("expected invalid_timestamp for missing time, got %v", err)
	}
}

func TestRuleOrderFirstFailureWins(t *testing.T) {
	now := time.Now()
	p := NewPolicy(fixedClock(now))

	// Everything is wrong; title must win.
	sub := Submission{}
	if err := p.Validate(sub); err == nil || err.Code != CodeInvalidTitle {
		t.Fatalf("expected invalid_title first, got %v", err)
	}

	// Title fine, rest wrong; description must win.
	sub.Title = "Valid Title"
	if err := p.Validate(sub); err == nil || err.Code != CodeInvalidDescription {
		t.Fatalf("expected invalid_description second, got %v", err)
	}

	sub.Description = "ok"
	if err := p.Validate(sub); err == nil || err.Code != CodeInvalidMainImage {
		t.Fatalf("expected invalid_main_image third, got %v", err)
	}

	sub.MainImage = &ImageMeta{ContentType: "image/jpeg", SizeBytes: 10}
	sub.AdditionalImages = []ImageMeta{{ContentType: "nope", SizeBytes: 1}}
	if err := p.Validate(sub); err == nil || err.Code != CodeInvalidAdditionalImages {
		t.Fatalf("expected invalid_additional_images fourth, got %v", err)
	}

	sub.AdditionalImages = nil
	if err := p.Validate(sub); err == nil || err.Code != CodeInvalidTimestamp {
		t.Fatalf("expected invalid_timestamp last, got %v", err)
	}
}
