package engine

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"time"

	"github.com/genricoloni/coverled/internal/config"
	"github.com/genricoloni/coverled/internal/domain"
	"go.uber.org/zap"
)

// finalClearTimeout bounds the clear issued on shutdown
const finalClearTimeout = 5 * time.Second

// DisplayState records what the panel currently shows
type DisplayState struct {
	// LastShown is the track whose artwork is painted; empty when the panel is blank
	LastShown domain.TrackID
}

// Idle reports whether nothing is painted
func (s DisplayState) Idle() bool {
	return s.LastShown == ""
}

// Engine reconciles the panel with what the media server reports as playing.
// It polls on a fixed interval and never runs two cycles at once.
type Engine struct {
	logger    *zap.Logger
	client    domain.SessionClient
	resolver  domain.ArtworkResolver
	framer    domain.Framer
	sink      domain.DisplaySink
	endpoints []domain.Endpoint
	creds     domain.Credentials
	interval  time.Duration
	target    image.Point

	cycleMu sync.Mutex
	stateMu sync.RWMutex
	state   DisplayState

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a new reconciliation engine
func NewEngine(
	logger *zap.Logger,
	cfg *config.AppConfig,
	client domain.SessionClient,
	resolver domain.ArtworkResolver,
	framer domain.Framer,
	sink domain.DisplaySink,
) *Engine {
	return &Engine{
		logger:    logger,
		client:    client,
		resolver:  resolver,
		framer:    framer,
		sink:      sink,
		endpoints: cfg.Server.Endpoints,
		creds:     cfg.Credentials(),
		interval:  cfg.PollInterval(),
		target:    cfg.ArtworkTarget(),
	}
}

// Start authenticates against the configured endpoints and launches the poll loop.
// An authentication failure is returned and nothing is started.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("Engine starting...")

	tok, err := e.client.Authenticate(ctx, e.endpoints, e.creds)
	if err != nil {
		e.logger.Error("Authentication failed", zap.Error(err))
		return err
	}

	e.logger.Info("Authenticated",
		zap.Stringer("endpoint", tok.Endpoint),
		zap.Duration("pollInterval", e.interval))

	// The loop outlives the start context
	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})

	go e.runLoop(loopCtx)
	return nil
}

// runLoop runs a cycle, then sleeps the poll interval.
// Cancellation is observed only between cycles.
func (e *Engine) runLoop(ctx context.Context) {
	defer close(e.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.finalClear()
			e.logger.Info("Engine loop stopped")
			return
		case <-timer.C:
		}
		// select has no priority; a stop that raced the timer wins
		if ctx.Err() != nil {
			continue
		}

		_ = e.Cycle(context.WithoutCancel(ctx))
		timer.Reset(e.interval)
	}
}

// Cycle performs one poll and brings the panel in line with it.
// It returns the failure it handled, if any; the panel is already cleared by then.
func (e *Engine) Cycle(ctx context.Context) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	sess, err := e.client.PollNowPlaying(ctx)
	if err != nil {
		e.fail(ctx, err)
		return err
	}

	if sess.Idle() {
		if !e.State().Idle() {
			e.logger.Info("Nothing playing, clearing panel")
			e.clear(ctx)
		}
		return nil
	}

	track := sess.NowPlaying
	if track.ID == e.State().LastShown {
		return nil
	}

	e.logger.Info("Track changed",
		zap.String("track", track.Title),
		zap.String("artist", track.Artist),
		zap.String("album", track.Album),
		zap.String("id", string(track.ID)))

	img, err := e.resolver.Resolve(ctx, track.CoverArt, e.target)
	if err != nil {
		e.fail(ctx, err)
		return err
	}

	if err := e.sink.SetImage(ctx, e.framer.Frame(img)); err != nil {
		e.fail(ctx, err)
		return err
	}

	e.setState(DisplayState{LastShown: track.ID})
	e.logger.Info("Artwork displayed", zap.String("id", string(track.ID)))
	return nil
}

// fail logs a cycle failure, clears the panel and returns to Idle
func (e *Engine) fail(ctx context.Context, err error) {
	var (
		authErr    *domain.AuthError
		sessErr    *domain.SessionError
		artworkErr *domain.ArtworkError
		displayErr *domain.DisplayError
	)

	switch {
	case errors.As(err, &sessErr):
		e.logger.Warn("Failed to poll now playing", zap.String("op", sessErr.Op), zap.Error(err))
	case errors.As(err, &authErr):
		e.logger.Warn("Failed to authenticate", zap.String("reason", authErr.Reason), zap.Error(err))
	case errors.As(err, &artworkErr):
		e.logger.Warn("Failed to resolve artwork", zap.String("reason", artworkErr.Reason), zap.Error(err))
	case errors.As(err, &displayErr):
		e.logger.Warn("Failed to paint panel", zap.String("op", displayErr.Op), zap.Error(err))
	default:
		e.logger.Error("Unexpected cycle failure", zap.Error(err))
	}

	e.clear(ctx)
}

// clear blanks the panel. The state becomes Idle even when the sink fails,
// since the panel no longer reliably shows the last track.
func (e *Engine) clear(ctx context.Context) {
	if err := e.sink.Clear(ctx); err != nil {
		e.logger.Error("Failed to clear panel", zap.Error(err))
	}
	e.setState(DisplayState{})
}

func (e *Engine) finalClear() {
	ctx, cancel := context.WithTimeout(context.Background(), finalClearTimeout)
	defer cancel()

	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	if err := e.sink.Clear(ctx); err != nil {
		e.logger.Warn("Final clear failed", zap.Error(err))
		return
	}
	e.setState(DisplayState{})
}

// State returns the current display state
func (e *Engine) State() DisplayState {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

func (e *Engine) setState(s DisplayState) {
	e.stateMu.Lock()
	e.state = s
	e.stateMu.Unlock()
}

// Stop cancels the loop, waits for the running cycle and the final clear,
// then releases the sink
func (e *Engine) Stop(ctx context.Context) error {
	e.logger.Info("Engine stopping...")

	if e.cancel != nil {
		e.cancel()
		select {
		case <-e.done:
		case <-ctx.Done():
			e.logger.Warn("Engine did not stop in time", zap.Error(ctx.Err()))
			return ctx.Err()
		}
	}

	if closer, ok := e.sink.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			e.logger.Warn("Failed to close display", zap.Error(err))
			return err
		}
	}

	e.logger.Info("Engine stopped")
	return nil
}
