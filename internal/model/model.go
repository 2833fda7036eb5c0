package model

import "time"

// Post is a committed blog post. ReferenceNumber is assigned by the
// record store at commit time and is strictly increasing across all
// committed posts; it is never supplied by the caller.
type Post struct {
	ReferenceNumber  int64
	Title            string
	Description      string
	MainImage        string
	AdditionalImages []string
	SubmittedAt      time.Time
	CommittedAt      time.Time
}

// CapabilityToken is the decoded form of an issued access token. The
// serialized token is self-contained; nothing is stored server-side.
type CapabilityToken struct {
	ResourceID string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

type SiteStats struct {
	Posts  int64
	Images int64
}
