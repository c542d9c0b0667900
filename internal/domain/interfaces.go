package domain

import "context"

// ReportGenerator turns a ticker into publishable content.
// It may be slow; callers bound it with a context deadline.
type ReportGenerator interface {
	Generate(ctx context.Context, ticker string) (*Report, error)
}

// Publisher posts content to a site and returns the created post id.
// Publishers are not assumed to be idempotent.
type Publisher interface {
	Publish(ctx context.Context, creds SiteCredentials, author Author, report *Report) (int64, error)
}

// ProfileGetter loads profile configuration
type ProfileGetter interface {
	Get(id string) (*Profile, error)
}
