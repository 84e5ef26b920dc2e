package domain

import (
	"context"
	"image"
)

// SessionClient authenticates to a media server and reports what is playing
//
//go:generate mockgen -destination=mocks/domain_mock.go -package=mocks github.com/genricoloni/coverled/internal/domain SessionClient,ArtworkResolver,DisplaySink
type SessionClient interface {
	// Authenticate tries each endpoint in order and keeps the first that accepts the login.
	// It returns an *AuthError when none does.
	Authenticate(ctx context.Context, endpoints []Endpoint, creds Credentials) (AuthToken, error)

	// PollNowPlaying returns the current session.
	// An idle session is not an error; failures are *SessionError.
	PollNowPlaying(ctx context.Context) (Session, error)
}

// CoverArtSource fetches cover art by id from the media server
type CoverArtSource interface {
	// CoverArt returns the decoded cover for id, asking the server for an edge of size pixels
	CoverArt(ctx context.Context, id string, size int) (image.Image, error)
}

// Fetcher defines the interface for retrieving artwork bytes by URL
type Fetcher interface {
	// Fetch downloads or reads image data from a URL or local path
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ArtworkResolver turns an artwork reference into display-sized pixels
type ArtworkResolver interface {
	// Resolve decodes the referenced artwork, resizes it to target and fits it within the panel.
	// Failures are *ArtworkError.
	Resolve(ctx context.Context, ref ArtworkRef, target image.Point) (image.Image, error)
}

// Framer places a fitted image on a canvas of the exact panel resolution
type Framer interface {
	Frame(img image.Image) image.Image
}

// DisplaySink paints or clears the physical panel
type DisplaySink interface {
	// SetImage shows img, which must match the panel resolution
	SetImage(ctx context.Context, img image.Image) error

	// Clear blanks the panel
	Clear(ctx context.Context) error
}
