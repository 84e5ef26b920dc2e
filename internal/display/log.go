package display

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/genricoloni/coverled/internal/domain"
	"go.uber.org/zap"
)

// LogSink stands in for the panel on machines without one. It only logs.
type LogSink struct {
	logger     *zap.Logger
	resolution domain.PanelResolution

	mu      sync.Mutex
	showing bool
	frames  int
}

func NewLogSink(logger *zap.Logger, res domain.PanelResolution) *LogSink {
	return &LogSink{logger: logger, resolution: res}
}

func (s *LogSink) SetImage(_ context.Context, img image.Image) error {
	b := img.Bounds()
	if b.Dx() != s.resolution.Width || b.Dy() != s.resolution.Height {
		return &domain.DisplayError{Op: "set", Err: fmt.Errorf("frame is %dx%d, panel is %dx%d",
			b.Dx(), b.Dy(), s.resolution.Width, s.resolution.Height)}
	}

	s.mu.Lock()
	s.showing = true
	s.frames++
	n := s.frames
	s.mu.Unlock()

	s.logger.Info("Panel painted",
		zap.Int("frame", n),
		zap.Int("width", b.Dx()),
		zap.Int("height", b.Dy()))
	return nil
}

func (s *LogSink) Clear(context.Context) error {
	s.mu.Lock()
	s.showing = false
	s.mu.Unlock()

	s.logger.Info("Panel cleared")
	return nil
}

// Showing reports whether the last call painted a frame
func (s *LogSink) Showing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.showing
}
