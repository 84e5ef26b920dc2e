package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"iter"
	"slices"

	"github.com/genricoloni/coverled/internal/domain"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var errNotAuthenticated = errors.New("not authenticated")

// Backend speaks one media server protocol.
// Login binds the backend to the endpoint it succeeded against.
type Backend interface {
	Login(ctx context.Context, endpoint domain.Endpoint, creds domain.Credentials) (domain.AuthToken, error)
	NowPlaying(ctx context.Context) (domain.Session, error)
	CoverArt(ctx context.Context, id string, size int) (image.Image, error)
}

// Client is the media session client. It owns the login state and re-authenticates
// over the endpoint list after a failed poll.
type Client struct {
	logger    *zap.Logger
	backend   Backend
	endpoints []domain.Endpoint
	creds     domain.Credentials
	token     *domain.AuthToken
	stale     bool
}

// NewClient creates a session client for the given backend
func NewClient(logger *zap.Logger, backend Backend) *Client {
	return &Client{
		logger:  logger,
		backend: backend,
	}
}

// Authenticate tries each endpoint once, in order, and keeps the first that accepts the login
func (c *Client) Authenticate(ctx context.Context, endpoints []domain.Endpoint, creds domain.Credentials) (domain.AuthToken, error) {
	c.endpoints = slices.Clone(endpoints)
	c.creds = creds
	return c.login(ctx)
}

// attempts yields each endpoint once; a fresh sequence is built for every login
func attempts(endpoints []domain.Endpoint) iter.Seq[domain.Endpoint] {
	return slices.Values(endpoints)
}

func (c *Client) login(ctx context.Context) (domain.AuthToken, error) {
	c.token = nil

	if len(c.endpoints) == 0 {
		return domain.AuthToken{}, &domain.AuthError{Reason: domain.ReasonNoEndpoint}
	}

	var errs error
	for ep := range attempts(c.endpoints) {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}

		tok, err := c.backend.Login(ctx, ep, c.creds)
		if err != nil {
			c.logger.Warn("Endpoint login failed",
				zap.Stringer("endpoint", ep),
				zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", ep, err))
			continue
		}

		c.token = &tok
		c.stale = false
		c.logger.Info("Connected to media server",
			zap.Stringer("endpoint", ep),
			zap.String("user", c.creds.Username))
		return tok, nil
	}

	return domain.AuthToken{}, &domain.AuthError{Reason: domain.ReasonNoReachableEndpoint, Err: errs}
}

// PollNowPlaying returns what is playing now. A failed poll marks the login stale;
// the next poll logs in again before asking.
func (c *Client) PollNowPlaying(ctx context.Context) (domain.Session, error) {
	if len(c.endpoints) == 0 {
		return domain.Session{}, &domain.SessionError{Op: "poll", Err: errNotAuthenticated}
	}

	if c.token == nil || c.stale {
		c.logger.Info("Refreshing media server session")
		if _, err := c.login(ctx); err != nil {
			return domain.Session{}, &domain.SessionError{Op: "reauthenticate", Err: err}
		}
	}

	sess, err := c.backend.NowPlaying(ctx)
	if err != nil {
		c.stale = true
		return domain.Session{}, &domain.SessionError{Op: "poll", Err: err}
	}
	return sess, nil
}

// CoverArt fetches cover art by id over the current login
func (c *Client) CoverArt(ctx context.Context, id string, size int) (image.Image, error) {
	if c.token == nil {
		return nil, errNotAuthenticated
	}
	return c.backend.CoverArt(ctx, id, size)
}

// Token returns the current login, if any
func (c *Client) Token() (domain.AuthToken, bool) {
	if c.token == nil {
		return domain.AuthToken{}, false
	}
	return *c.token, true
}

// Close releases backend resources
func (c *Client) Close() error {
	if closer, ok := c.backend.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
