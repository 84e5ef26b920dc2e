package session

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strconv"

	"github.com/genricoloni/coverled/internal/domain"
	"github.com/supersonic-app/go-subsonic/subsonic"
	"go.uber.org/zap"
)

// nowPlayingEntry is the part of a getNowPlaying entry the backend reads
type nowPlayingEntry struct {
	Username string
	ID       string
	Title    string
	Artist   string
	Album    string
	AlbumID  string
	CoverArt string
	Path     string
}

// identity tells two entries apart. Some servers omit the id on radio or transcoded
// streams. The file path is unique per song; a bare title is the last resort.
func (e nowPlayingEntry) identity() string {
	switch {
	case e.ID != "":
		return e.ID
	case e.Path != "":
		return "path:" + e.Path
	case e.AlbumID != "" && e.Title != "":
		return e.AlbumID + "/" + e.Title
	default:
		return e.Title
	}
}

// subsonicAPI is one authenticated connection to a Subsonic server
type subsonicAPI interface {
	NowPlaying() ([]nowPlayingEntry, error)
	CoverArt(id string, size int) (image.Image, error)
}

type subsonicDialer func(endpoint domain.Endpoint, creds domain.Credentials) (subsonicAPI, error)

// SubsonicBackend polls a Subsonic compatible server such as Navidrome
type SubsonicBackend struct {
	logger   *zap.Logger
	dial     subsonicDialer
	api      subsonicAPI
	username string
}

// NewSubsonicBackend creates a backend that issues requests through httpClient
func NewSubsonicBackend(logger *zap.Logger, httpClient *http.Client) *SubsonicBackend {
	return &SubsonicBackend{
		logger: logger,
		dial: func(endpoint domain.Endpoint, creds domain.Credentials) (subsonicAPI, error) {
			cli := &subsonic.Client{
				Client:     httpClient,
				BaseUrl:    endpoint.URL,
				User:       creds.Username,
				ClientName: creds.ClientName,
			}
			if err := cli.Authenticate(creds.Password); err != nil {
				return nil, err
			}
			return &subsonicConn{client: cli}, nil
		},
	}
}

// Login authenticates with a salted token against endpoint
func (s *SubsonicBackend) Login(ctx context.Context, endpoint domain.Endpoint, creds domain.Credentials) (domain.AuthToken, error) {
	if err := ctx.Err(); err != nil {
		return domain.AuthToken{}, err
	}

	api, err := s.dial(endpoint, creds)
	if err != nil {
		return domain.AuthToken{}, err
	}

	s.api = api
	s.username = creds.Username
	return domain.AuthToken{Endpoint: endpoint, UserID: creds.Username}, nil
}

// NowPlaying returns the first now-playing entry of the logged-in user
func (s *SubsonicBackend) NowPlaying(ctx context.Context) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}
	if s.api == nil {
		return domain.Session{}, errNotAuthenticated
	}

	entries, err := s.api.NowPlaying()
	if err != nil {
		return domain.Session{}, err
	}

	for _, e := range entries {
		if e.Username != s.username {
			continue
		}

		id := e.identity()
		if id == "" {
			s.logger.Debug("Skipping now playing entry without id or title")
			continue
		}

		track := &domain.Track{
			ID:      domain.TrackID(id),
			AlbumID: e.AlbumID,
			Title:   e.Title,
			Artist:  e.Artist,
			Album:   e.Album,
		}
		if cover := e.CoverArt; cover != "" {
			track.CoverArt = domain.RemoteRef{ID: cover}
		} else if e.AlbumID != "" {
			track.CoverArt = domain.RemoteRef{ID: e.AlbumID}
		}

		return domain.Session{ID: s.username, NowPlaying: track}, nil
	}

	return domain.Session{ID: s.username}, nil
}

// CoverArt fetches cover art through getCoverArt
func (s *SubsonicBackend) CoverArt(ctx context.Context, id string, size int) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.api == nil {
		return nil, errNotAuthenticated
	}
	if id == "" {
		return nil, errors.New("empty cover art id")
	}
	return s.api.CoverArt(id, size)
}

type subsonicConn struct {
	client *subsonic.Client
}

// nowPlayingResponse mirrors the getNowPlaying payload. The library's own
// NowPlayingEntry drops the song id, so the response is decoded here.
type nowPlayingResponse struct {
	XMLName xml.Name `xml:"subsonic-response"`
	Status  string   `xml:"status,attr"`
	Error   *struct {
		Code    int    `xml:"code,attr"`
		Message string `xml:"message,attr"`
	} `xml:"error"`
	Entries []struct {
		ID       string `xml:"id,attr"`
		Username string `xml:"username,attr"`
		Title    string `xml:"title,attr"`
		Artist   string `xml:"artist,attr"`
		Album    string `xml:"album,attr"`
		AlbumID  string `xml:"albumId,attr"`
		CoverArt string `xml:"coverArt,attr"`
		Path     string `xml:"path,attr"`
	} `xml:"nowPlaying>entry"`
}

func (c *subsonicConn) NowPlaying() ([]nowPlayingEntry, error) {
	resp, err := c.client.Request(http.MethodGet, "getNowPlaying", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("getNowPlaying: unexpected status code: %d", resp.StatusCode)
	}

	var parsed nowPlayingResponse
	if err := xml.NewDecoder(io.LimitReader(resp.Body, _maxPayloadSize)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("malformed getNowPlaying payload: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("getNowPlaying: error #%d: %s", parsed.Error.Code, parsed.Error.Message)
	}

	out := make([]nowPlayingEntry, 0, len(parsed.Entries))
	for _, e := range parsed.Entries {
		out = append(out, nowPlayingEntry{
			Username: e.Username,
			ID:       e.ID,
			Title:    e.Title,
			Artist:   e.Artist,
			Album:    e.Album,
			AlbumID:  e.AlbumID,
			CoverArt: e.CoverArt,
			Path:     e.Path,
		})
	}
	return out, nil
}

func (c *subsonicConn) CoverArt(id string, size int) (image.Image, error) {
	params := map[string]string{}
	if size > 0 {
		params["size"] = strconv.Itoa(size)
	}
	return c.client.GetCoverArt(id, params)
}
