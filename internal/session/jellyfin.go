package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/genricoloni/coverled/internal/domain"
	"github.com/genricoloni/coverled/internal/processor"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	jellyfinClientVersion = "1.0.0"

	_maxPayloadSize = 4 * 1024 * 1024
	_maxImageSize   = 10 * 1024 * 1024
)

// JellyfinBackend talks to the Jellyfin REST API
type JellyfinBackend struct {
	logger   *zap.Logger
	client   *retryablehttp.Client
	source   domain.ArtworkKind
	device   string
	deviceID string

	baseURL    string
	clientName string
	token      string
	userID     string

	// last album image lookup, so an unchanged album is not queried every poll
	lastAlbumID   string
	lastAlbumPath string
}

// NewJellyfinBackend creates a Jellyfin backend. source selects whether artwork is
// reported as a server path (domain.KindPath) or fetched by id (domain.KindRemote).
func NewJellyfinBackend(logger *zap.Logger, client *retryablehttp.Client, source domain.ArtworkKind) *JellyfinBackend {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "coverled"
	}

	return &JellyfinBackend{
		logger: logger,
		client: client,
		source: source,
		device: host,
		// Stable across restarts so the server keeps a single device entry
		deviceID: uuid.NewSHA1(uuid.NameSpaceDNS, []byte(host)).String(),
	}
}

// Login authenticates by name against endpoint
func (j *JellyfinBackend) Login(ctx context.Context, endpoint domain.Endpoint, creds domain.Credentials) (domain.AuthToken, error) {
	base := strings.TrimRight(endpoint.URL, "/")

	body, err := json.Marshal(map[string]string{
		"Username": creds.Username,
		"Pw":       creds.Password,
	})
	if err != nil {
		return domain.AuthToken{}, fmt.Errorf("failed to encode login: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, base+"/Users/AuthenticateByName", body)
	if err != nil {
		return domain.AuthToken{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", j.authorization(creds.ClientName, ""))

	resp, err := j.client.Do(req)
	if err != nil {
		return domain.AuthToken{}, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.AuthToken{}, fmt.Errorf("login rejected: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, _maxPayloadSize))
	if err != nil {
		return domain.AuthToken{}, fmt.Errorf("failed to read body: %w", err)
	}

	token, err := jsonparser.GetString(data, "AccessToken")
	if err != nil || token == "" {
		return domain.AuthToken{}, errors.New("login response has no access token")
	}
	userID, _ := jsonparser.GetString(data, "User", "Id")

	j.baseURL = base
	j.clientName = creds.ClientName
	j.token = token
	j.userID = userID
	j.lastAlbumID, j.lastAlbumPath = "", ""

	return domain.AuthToken{Endpoint: endpoint, UserID: userID, Token: token}, nil
}

// NowPlaying returns the first session of the logged-in user that has a now-playing item
func (j *JellyfinBackend) NowPlaying(ctx context.Context) (domain.Session, error) {
	data, _, err := j.get(ctx, "/Sessions", nil, _maxPayloadSize)
	if err != nil {
		return domain.Session{}, err
	}

	var sessionID string
	var item []byte
	_, err = jsonparser.ArrayEach(data, func(value []byte, _ jsonparser.ValueType, _ int, _ error) {
		if item != nil {
			return
		}
		if uid, _ := jsonparser.GetString(value, "UserId"); j.userID != "" && uid != "" && uid != j.userID {
			return
		}
		np, typ, _, err := jsonparser.Get(value, "NowPlayingItem")
		if err != nil || typ != jsonparser.Object {
			return
		}
		sessionID, _ = jsonparser.GetString(value, "Id")
		item = np
	})
	if err != nil {
		return domain.Session{}, fmt.Errorf("malformed sessions payload: %w", err)
	}

	if item == nil {
		return domain.Session{ID: sessionID}, nil
	}

	track, err := j.parseItem(ctx, item)
	if err != nil {
		return domain.Session{}, err
	}
	return domain.Session{ID: sessionID, NowPlaying: track}, nil
}

func (j *JellyfinBackend) parseItem(ctx context.Context, item []byte) (*domain.Track, error) {
	id, _ := jsonparser.GetString(item, "Id")
	if id == "" {
		return nil, errors.New("now playing item has no id")
	}

	track := &domain.Track{ID: domain.TrackID(id)}
	track.AlbumID, _ = jsonparser.GetString(item, "AlbumId")
	track.Title, _ = jsonparser.GetString(item, "Name")
	track.Album, _ = jsonparser.GetString(item, "Album")
	if artist, err := jsonparser.GetString(item, "AlbumArtist"); err == nil {
		track.Artist = artist
	} else {
		track.Artist, _ = jsonparser.GetString(item, "Artists", "[0]")
	}

	switch j.source {
	case domain.KindRemote:
		coverID := track.AlbumID
		if coverID == "" {
			coverID = id
		}
		track.CoverArt = domain.RemoteRef{ID: coverID}
	default:
		if track.AlbumID == "" {
			return nil, fmt.Errorf("now playing item %s has no album id", id)
		}
		path, err := j.albumImagePath(ctx, track.AlbumID)
		if err != nil {
			return nil, err
		}
		track.CoverArt = domain.PathRef{ServerPath: path}
	}

	return track, nil
}

// albumImagePath returns the server-side path of the album's primary image
func (j *JellyfinBackend) albumImagePath(ctx context.Context, albumID string) (string, error) {
	if albumID == j.lastAlbumID && j.lastAlbumPath != "" {
		return j.lastAlbumPath, nil
	}

	data, _, err := j.get(ctx, "/Items/"+url.PathEscape(albumID)+"/Images", nil, _maxPayloadSize)
	if err != nil {
		return "", err
	}

	var primary, first string
	_, err = jsonparser.ArrayEach(data, func(value []byte, _ jsonparser.ValueType, _ int, _ error) {
		path, _ := jsonparser.GetString(value, "Path")
		if path == "" {
			return
		}
		if first == "" {
			first = path
		}
		if typ, _ := jsonparser.GetString(value, "ImageType"); typ == "Primary" && primary == "" {
			primary = path
		}
	})
	if err != nil {
		return "", fmt.Errorf("malformed images payload: %w", err)
	}

	path := primary
	if path == "" {
		path = first
	}
	if path == "" {
		return "", fmt.Errorf("no images for album %s", albumID)
	}

	j.lastAlbumID, j.lastAlbumPath = albumID, path
	j.logger.Debug("Album image resolved",
		zap.String("album", albumID),
		zap.String("path", path),
		zap.Bool("primary", primary != ""))
	return path, nil
}

// CoverArt fetches the primary image of an item, scaled by the server to size
func (j *JellyfinBackend) CoverArt(ctx context.Context, id string, size int) (image.Image, error) {
	query := url.Values{"quality": {"90"}}
	if size > 0 {
		query.Set("fillWidth", strconv.Itoa(size))
		query.Set("fillHeight", strconv.Itoa(size))
	}

	data, contentType, err := j.get(ctx, "/Items/"+url.PathEscape(id)+"/Images/Primary", query, _maxImageSize)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("url is not an image: %s", contentType)
	}
	return processor.Decode(data)
}

func (j *JellyfinBackend) get(ctx context.Context, path string, query url.Values, limit int64) ([]byte, string, error) {
	if j.token == "" {
		return nil, "", errNotAuthenticated
	}

	u := j.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", j.authorization(j.clientName, j.token))

	resp, err := j.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("GET %s: unexpected status code: %d", path, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (j *JellyfinBackend) authorization(clientName, token string) string {
	if clientName == "" {
		clientName = "coverled"
	}
	h := fmt.Sprintf(`MediaBrowser Client="%s", Device="%s", DeviceId="%s", Version="%s"`,
		clientName, j.device, j.deviceID, jellyfinClientVersion)
	if token != "" {
		h += fmt.Sprintf(`, Token="%s"`, token)
	}
	return h
}
