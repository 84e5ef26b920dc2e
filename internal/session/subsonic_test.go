package session

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/genricoloni/coverled/internal/domain"
	"github.com/genricoloni/coverled/internal/transport"
	"go.uber.org/zap"
)

type fakeSubsonic struct {
	entries  []nowPlayingEntry
	err      error
	coverID  string
	coverLen int
}

func (f *fakeSubsonic) NowPlaying() ([]nowPlayingEntry, error) {
	return f.entries, f.err
}

func (f *fakeSubsonic) CoverArt(id string, size int) (image.Image, error) {
	f.coverID, f.coverLen = id, size
	return image.NewNRGBA(image.Rect(0, 0, size, size)), nil
}

func newTestSubsonic(api *fakeSubsonic, dialErr error) *SubsonicBackend {
	backend := NewSubsonicBackend(zap.NewNop(), nil)
	backend.dial = func(domain.Endpoint, domain.Credentials) (subsonicAPI, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		return api, nil
	}
	return backend
}

func TestSubsonic_NowPlaying(t *testing.T) {
	tests := []struct {
		name      string
		entries   []nowPlayingEntry
		wantIdle  bool
		wantID    domain.TrackID
		wantCover string
	}{
		{
			name: "Own Entry With Cover Art",
			entries: []nowPlayingEntry{
				{Username: "bob", ID: "b1", Title: "Other", CoverArt: "al-b"},
				{Username: "alice", ID: "t1", Title: "Teardrop", Artist: "Massive Attack", AlbumID: "al-1", CoverArt: "al-1-cover"},
			},
			wantID:    "t1",
			wantCover: "al-1-cover",
		},
		{
			name: "Cover Falls Back To Album",
			entries: []nowPlayingEntry{
				{Username: "alice", ID: "t2", Title: "Angel", AlbumID: "al-2"},
			},
			wantID:    "t2",
			wantCover: "al-2",
		},
		{
			name: "Id Falls Back To Path",
			entries: []nowPlayingEntry{
				{Username: "alice", Title: "Intro", AlbumID: "al-3", Path: "Artist/Album/01 Intro.flac"},
			},
			wantID:    "path:Artist/Album/01 Intro.flac",
			wantCover: "al-3",
		},
		{
			name: "Id Falls Back To Album And Title",
			entries: []nowPlayingEntry{
				{Username: "alice", Title: "Intro", AlbumID: "al-4"},
			},
			wantID:    "al-4/Intro",
			wantCover: "al-4",
		},
		{
			name: "Title Is The Last Resort",
			entries: []nowPlayingEntry{
				{Username: "alice", Title: "Live Stream"},
			},
			wantID: "Live Stream",
		},
		{
			name: "Only Other Users",
			entries: []nowPlayingEntry{
				{Username: "bob", ID: "b1", Title: "Other"},
			},
			wantIdle: true,
		},
		{
			name:     "Nothing Playing",
			wantIdle: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newTestSubsonic(&fakeSubsonic{entries: tt.entries}, nil)
			if _, err := backend.Login(context.Background(), lan, creds); err != nil {
				t.Fatalf("login failed: %v", err)
			}

			sess, err := backend.NowPlaying(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sess.Idle() != tt.wantIdle {
				t.Fatalf("expected idle=%v, got %+v", tt.wantIdle, sess)
			}
			if tt.wantIdle {
				return
			}

			if sess.NowPlaying.ID != tt.wantID {
				t.Errorf("expected track id %q, got %q", tt.wantID, sess.NowPlaying.ID)
			}
			if tt.wantCover == "" {
				if sess.NowPlaying.CoverArt != nil {
					t.Errorf("expected no cover art, got %#v", sess.NowPlaying.CoverArt)
				}
				return
			}
			ref, ok := sess.NowPlaying.CoverArt.(domain.RemoteRef)
			if !ok || ref.ID != tt.wantCover {
				t.Errorf("expected remote ref %q, got %#v", tt.wantCover, sess.NowPlaying.CoverArt)
			}
		})
	}
}

func TestSubsonic_LoginFailure(t *testing.T) {
	backend := newTestSubsonic(nil, errors.New("wrong username or password"))

	if _, err := backend.Login(context.Background(), lan, creds); err == nil {
		t.Fatal("expected login error")
	}
	if _, err := backend.NowPlaying(context.Background()); err != errNotAuthenticated {
		t.Errorf("expected errNotAuthenticated, got %v", err)
	}
}

func TestSubsonic_PollError(t *testing.T) {
	backend := newTestSubsonic(&fakeSubsonic{err: errors.New("status failed")}, nil)
	if _, err := backend.Login(context.Background(), lan, creds); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if _, err := backend.NowPlaying(context.Background()); err == nil {
		t.Error("expected poll error")
	}
}

func TestSubsonic_CoverArt(t *testing.T) {
	api := &fakeSubsonic{}
	backend := newTestSubsonic(api, nil)
	if _, err := backend.Login(context.Background(), lan, creds); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	img, err := backend.CoverArt(context.Background(), "al-1", 128)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if api.coverID != "al-1" || api.coverLen != 128 {
		t.Errorf("unexpected cover request id=%q size=%d", api.coverID, api.coverLen)
	}
	if img.Bounds().Dx() != 128 {
		t.Errorf("expected 128 wide image, got %d", img.Bounds().Dx())
	}

	if _, err := backend.CoverArt(context.Background(), "", 128); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestNowPlayingEntry_SameTitleDifferentSongs(t *testing.T) {
	a := nowPlayingEntry{Title: "Intro", Path: "The xx/xx/01 Intro.flac"}
	b := nowPlayingEntry{Title: "Intro", Path: "M83/Hurry Up/01 Intro.flac"}
	if a.identity() == b.identity() {
		t.Errorf("expected distinct identities, both are %q", a.identity())
	}

	c := nowPlayingEntry{Title: "Intro", AlbumID: "al-1"}
	d := nowPlayingEntry{Title: "Intro", AlbumID: "al-2"}
	if c.identity() == d.identity() {
		t.Errorf("expected distinct identities, both are %q", c.identity())
	}
}

const subsonicOK = `<subsonic-response xmlns="http://subsonic.org/restapi" status="ok" version="1.15.0"/>`

const subsonicNowPlaying = `<subsonic-response xmlns="http://subsonic.org/restapi" status="ok" version="1.15.0">
  <nowPlaying>
    <entry id="b-7" username="bob" title="Other" albumId="al-9" coverArt="al-9" path="x/y.mp3"/>
    <entry id="song-42" username="alice" title="Teardrop" artist="Massive Attack" album="Mezzanine"
      albumId="al-1" path="Massive Attack/Mezzanine/03 Teardrop.flac"/>
  </nowPlaying>
</subsonic-response>`

// newSubsonicServer serves the getNowPlaying payload and a 128px cover for al-1
func newSubsonicServer(t *testing.T, nowPlaying string) *httptest.Server {
	t.Helper()

	authorized := func(r *http.Request) bool {
		q := r.URL.Query()
		sum := fmt.Sprintf("%x", md5.Sum([]byte("secret"+q.Get("s"))))
		return q.Get("u") == "alice" && q.Get("s") != "" && q.Get("t") == sum
	}
	writeXML := func(w http.ResponseWriter, body string) {
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /rest/ping", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			writeXML(w, `<subsonic-response status="failed"><error code="40" message="Wrong username or password"/></subsonic-response>`)
			return
		}
		writeXML(w, subsonicOK)
	})
	mux.HandleFunc("GET /rest/getNowPlaying", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeXML(w, nowPlaying)
	})
	mux.HandleFunc("GET /rest/getCoverArt", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) || r.URL.Query().Get("id") != "al-1" || r.URL.Query().Get("size") != "128" {
			writeXML(w, `<subsonic-response status="failed"><error code="70" message="Cover art not found"/></subsonic-response>`)
			return
		}
		img := image.NewNRGBA(image.Rect(0, 0, 128, 128))
		img.SetNRGBA(0, 0, color.NRGBA{G: 255, A: 255})
		var buf bytes.Buffer
		_ = png.Encode(&buf, img)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf.Bytes())
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newLiveSubsonic() *SubsonicBackend {
	client := transport.NewHTTPClient(zap.NewNop(), 2*time.Second)
	return NewSubsonicBackend(zap.NewNop(), client.StandardClient())
}

func TestSubsonic_Server_Login(t *testing.T) {
	server := newSubsonicServer(t, subsonicOK)
	ep := domain.Endpoint{Name: "lan", URL: server.URL}

	backend := newLiveSubsonic()
	tok, err := backend.Login(context.Background(), ep, domain.Credentials{Username: "alice", Password: "secret", ClientName: "coverled"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok.Endpoint != ep || tok.UserID != "alice" {
		t.Errorf("unexpected token: %+v", tok)
	}

	if _, err := newLiveSubsonic().Login(context.Background(), ep, domain.Credentials{Username: "alice", Password: "nope"}); err == nil {
		t.Error("expected wrong password to fail")
	}
}

func TestSubsonic_Server_NowPlayingAndCoverArt(t *testing.T) {
	server := newSubsonicServer(t, subsonicNowPlaying)

	backend := newLiveSubsonic()
	ep := domain.Endpoint{Name: "lan", URL: server.URL}
	if _, err := backend.Login(context.Background(), ep, domain.Credentials{Username: "alice", Password: "secret", ClientName: "coverled"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	sess, err := backend.NowPlaying(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.Idle() {
		t.Fatal("expected alice's entry to be playing")
	}

	want := domain.Track{
		ID:       "song-42",
		AlbumID:  "al-1",
		Title:    "Teardrop",
		Artist:   "Massive Attack",
		Album:    "Mezzanine",
		CoverArt: domain.RemoteRef{ID: "al-1"},
	}
	if *sess.NowPlaying != want {
		t.Errorf("expected %+v, got %+v", want, *sess.NowPlaying)
	}

	img, err := backend.CoverArt(context.Background(), "al-1", 128)
	if err != nil {
		t.Fatalf("unexpected cover art error: %v", err)
	}
	if img.Bounds().Dx() != 128 || img.Bounds().Dy() != 128 {
		t.Errorf("expected 128x128 cover, got %v", img.Bounds())
	}

	if _, err := backend.CoverArt(context.Background(), "al-1", 64); err == nil {
		t.Error("expected error when the server has no cover at that size")
	}
}

func TestSubsonic_Server_NowPlayingErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr string
	}{
		{
			name:    "Server Error",
			payload: `<subsonic-response status="failed"><error code="50" message="Not authorized"/></subsonic-response>`,
			wantErr: "Not authorized",
		},
		{
			name:    "Malformed",
			payload: `<subsonic-response status="ok"><nowPlaying>`,
			wantErr: "malformed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newSubsonicServer(t, tt.payload)

			backend := newLiveSubsonic()
			if _, err := backend.Login(context.Background(), domain.Endpoint{URL: server.URL}, domain.Credentials{Username: "alice", Password: "secret"}); err != nil {
				t.Fatalf("login failed: %v", err)
			}

			_, err := backend.NowPlaying(context.Background())
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSubsonic_Server_NowPlayingIdle(t *testing.T) {
	server := newSubsonicServer(t, subsonicOK)

	backend := newLiveSubsonic()
	if _, err := backend.Login(context.Background(), domain.Endpoint{URL: server.URL}, domain.Credentials{Username: "alice", Password: "secret"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	sess, err := backend.NowPlaying(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sess.Idle() {
		t.Errorf("expected idle, got %+v", sess.NowPlaying)
	}
}
