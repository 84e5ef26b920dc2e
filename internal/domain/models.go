package domain

import "strings"

// TrackID identifies a track for change detection.
// Two polls reporting the same TrackID never trigger a re-render.
type TrackID string

// Track describes the item a media server reports as currently playing
type Track struct {
	// ID is the identity used for change detection
	ID TrackID
	// AlbumID is the server-side album identifier, when known
	AlbumID string
	Title   string
	Artist  string
	Album   string
	// CoverArt points at the artwork for this track; nil when the server reports none
	CoverArt ArtworkRef
}

// Session is the transient now-playing state returned by one poll
type Session struct {
	ID string
	// NowPlaying is nil when nothing is playing
	NowPlaying *Track
}

// Idle reports whether nothing is playing in this session
func (s Session) Idle() bool {
	return s.NowPlaying == nil
}

// Endpoint is one media server address in the ordered fallback list
type Endpoint struct {
	Name string `toml:"name"`
	URL  string `toml:"url"`
}

func (e Endpoint) String() string {
	if e.Name == "" || e.Name == e.URL {
		return e.URL
	}
	return e.Name + " (" + e.URL + ")"
}

// ParseEndpoints splits a comma separated list into endpoint records, keeping order
func ParseEndpoints(list string) []Endpoint {
	var out []Endpoint
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, Endpoint{URL: part})
	}
	return out
}

// Credentials are used to log in to a media server
type Credentials struct {
	Username   string
	Password   string
	ClientName string
}

// AuthToken is the result of a successful login
type AuthToken struct {
	Endpoint Endpoint
	UserID   string
	Token    string
}

// PanelResolution is the addressable width and height of the LED matrix
type PanelResolution struct {
	Width  int
	Height int
}

// ArtworkKind tells which resolution strategy an ArtworkRef needs
type ArtworkKind string

const (
	// KindPath is a server-reported filesystem path, rewritten against a local mount
	KindPath ArtworkKind = "path"
	// KindRemote is an opaque cover art id fetched from the media server
	KindRemote ArtworkKind = "remote"
	// KindURL is an http(s) or file URL reported by a local player
	KindURL ArtworkKind = "url"
)

// ArtworkRef is an opaque pointer to cover art
type ArtworkRef interface {
	Kind() ArtworkKind
	String() string
}

// PathRef references artwork by its path on the media server's filesystem
type PathRef struct {
	ServerPath string
}

func (r PathRef) Kind() ArtworkKind { return KindPath }
func (r PathRef) String() string    { return r.ServerPath }

// RemoteRef references artwork by a cover art id known to the media server
type RemoteRef struct {
	ID string
}

func (r RemoteRef) Kind() ArtworkKind { return KindRemote }
func (r RemoteRef) String() string    { return r.ID }

// URLRef references artwork by URL
type URLRef struct {
	URL string
}

func (r URLRef) Kind() ArtworkKind { return KindURL }
func (r URLRef) String() string    { return r.URL }
