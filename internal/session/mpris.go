package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/genricoloni/coverled/internal/domain"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	mprisPrefix     = "org.mpris.MediaPlayer2."
	mprisObjectPath = "/org/mpris/MediaPlayer2"
	mprisMetadata   = "org.mpris.MediaPlayer2.Player.Metadata"
	mprisStatus     = "org.mpris.MediaPlayer2.Player.PlaybackStatus"

	// mprisNoTrack is the track id players report when nothing is loaded
	mprisNoTrack = "/org/mpris/MediaPlayer2/TrackList/NoTrack"

	// mprisAuto selects the first MPRIS player found on the bus
	mprisAuto = "auto"
)

var errNoPlayer = errors.New("no MPRIS player on the session bus")

// MprisBackend reads now-playing state from a local MPRIS player.
// Endpoints name players; "auto" picks whichever player is present.
type MprisBackend struct {
	logger *zap.Logger
	dial   func() (DBusClient, error)

	mu     sync.Mutex
	conn   DBusClient
	player string
}

// NewMprisBackend creates a backend that connects to the session bus on first login
func NewMprisBackend(logger *zap.Logger) *MprisBackend {
	return &MprisBackend{
		logger: logger,
		dial:   NewStdDBusClient,
	}
}

// Login binds the backend to the player named by endpoint
func (m *MprisBackend) Login(ctx context.Context, endpoint domain.Endpoint, _ domain.Credentials) (domain.AuthToken, error) {
	if err := ctx.Err(); err != nil {
		return domain.AuthToken{}, err
	}

	conn, err := m.connection()
	if err != nil {
		return domain.AuthToken{}, fmt.Errorf("session bus connection failed: %w", err)
	}

	name := strings.TrimSpace(endpoint.URL)
	if name == "" || name == mprisAuto {
		name, err = m.findPlayer(conn)
		if err != nil {
			return domain.AuthToken{}, err
		}
	} else if !strings.HasPrefix(name, mprisPrefix) {
		name = mprisPrefix + name
	}

	owner, err := conn.GetNameOwner(name)
	if err != nil {
		return domain.AuthToken{}, fmt.Errorf("player %s not running: %w", name, err)
	}

	m.mu.Lock()
	m.player = name
	m.mu.Unlock()

	m.logger.Debug("Mapped player name",
		zap.String("unique", owner),
		zap.String("wellKnown", name))

	return domain.AuthToken{Endpoint: endpoint, UserID: owner}, nil
}

// NowPlaying reports the bound player's track while it is playing
func (m *MprisBackend) NowPlaying(ctx context.Context) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}

	m.mu.Lock()
	conn, player := m.conn, m.player
	m.mu.Unlock()

	if conn == nil || player == "" {
		return domain.Session{}, errNotAuthenticated
	}

	statusVariant, err := conn.GetProperty(player, mprisObjectPath, mprisStatus)
	if err != nil {
		return domain.Session{}, fmt.Errorf("failed to get playback status: %w", err)
	}
	status, ok := statusVariant.Value().(string)
	if !ok {
		return domain.Session{}, fmt.Errorf("invalid playback status format")
	}

	sess := domain.Session{ID: player}
	if status != "Playing" {
		return sess, nil
	}

	variant, err := conn.GetProperty(player, mprisObjectPath, mprisMetadata)
	if err != nil {
		return domain.Session{}, fmt.Errorf("failed to get metadata: %w", err)
	}

	// Some players return nil or unexpected types when nothing is loaded
	metadata, ok := variant.Value().(map[string]dbus.Variant)
	if !ok {
		m.logger.Debug("Metadata variant is not a map, treating as idle", zap.String("player", player))
		return sess, nil
	}

	sess.NowPlaying = m.parseMetadata(metadata)
	return sess, nil
}

// CoverArt is not available over MPRIS; artwork arrives as mpris:artUrl
func (m *MprisBackend) CoverArt(context.Context, string, int) (image.Image, error) {
	return nil, errors.New("mpris: cover art by id is not supported")
}

// Close closes the bus connection
func (m *MprisBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	return err
}

func (m *MprisBackend) connection() (DBusClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		return m.conn, nil
	}
	conn, err := m.dial()
	if err != nil {
		return nil, err
	}
	m.conn = conn
	return conn, nil
}

// findPlayer returns the first MPRIS player on the bus
func (m *MprisBackend) findPlayer(conn DBusClient) (string, error) {
	names, err := conn.ListNames()
	if err != nil {
		return "", fmt.Errorf("failed to list bus names: %w", err)
	}

	for _, name := range names {
		if strings.HasPrefix(name, mprisPrefix) {
			m.logger.Info("Detected MPRIS player", zap.String("name", name))
			return name, nil
		}
	}
	return "", errNoPlayer
}

// parseMetadata converts MPRIS metadata into a track; nil when it carries no track
func (m *MprisBackend) parseMetadata(metadata map[string]dbus.Variant) *domain.Track {
	track := &domain.Track{}

	if titleVar, ok := metadata["xesam:title"]; ok {
		if title, ok := titleVar.Value().(string); ok {
			track.Title = title
		}
	}

	// Artist can be an array
	if artistVar, ok := metadata["xesam:artist"]; ok {
		switch artists := artistVar.Value().(type) {
		case []string:
			if len(artists) > 0 {
				track.Artist = artists[0]
			}
		case string:
			track.Artist = artists
		default:
			m.logger.Debug("Unexpected artist type in metadata",
				zap.String("type", fmt.Sprintf("%T", artistVar.Value())))
		}
	}

	if albumVar, ok := metadata["xesam:album"]; ok {
		if album, ok := albumVar.Value().(string); ok {
			track.Album = album
		}
	}

	if idVar, ok := metadata["mpris:trackid"]; ok {
		var id string
		switch v := idVar.Value().(type) {
		case dbus.ObjectPath:
			id = string(v)
		case string:
			id = v
		}
		if id != mprisNoTrack {
			track.ID = domain.TrackID(id)
		}
	}
	if track.ID == "" {
		track.ID = domain.TrackID(track.Title)
	}
	if track.ID == "" {
		return nil
	}

	if artVar, ok := metadata["mpris:artUrl"]; ok {
		if artURL, ok := artVar.Value().(string); ok && artURL != "" {
			track.CoverArt = domain.URLRef{URL: artURL}
		} else {
			// Browsers and local files may send an empty artUrl
			m.logger.Debug("Empty artUrl received",
				zap.String("title", track.Title),
				zap.String("artist", track.Artist))
		}
	}

	return track
}
