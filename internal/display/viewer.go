package display

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/disintegration/imaging"
	"github.com/genricoloni/coverled/internal/config"
	"github.com/genricoloni/coverled/internal/domain"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	viewerBinary = "led-image-viewer"
	frameName    = "frame.png"
	stopTimeout  = 3 * time.Second
)

// Ordered list of places led-image-viewer is installed to (highest priority first)
var viewerCandidates = []string{
	viewerBinary,
	"/usr/local/bin/" + viewerBinary,
	"/opt/rpi-rgb-led-matrix/utils/" + viewerBinary,
	"$HOME/rpi-rgb-led-matrix/utils/" + viewerBinary,
}

// ViewerSink paints frames through rpi-rgb-led-matrix's led-image-viewer.
// One viewer process holds the panel at a time; stopping it blanks the panel.
type ViewerSink struct {
	logger     *zap.Logger
	binary     string
	flags      []string
	framePath  string
	resolution domain.PanelResolution

	mu   sync.Mutex
	proc *os.Process
	done chan struct{}
}

// NewViewerSink detects the viewer binary and prepares the frame directory
func NewViewerSink(logger *zap.Logger, cfg *config.AppConfig) (*ViewerSink, error) {
	binary := detectViewer(logger, cfg.Display.Viewer)
	if binary == "" {
		return nil, fmt.Errorf("no %s found; set COVERLED_VIEWER or use COVERLED_DISPLAY=log", viewerBinary)
	}

	if err := os.MkdirAll(cfg.Display.FrameDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create frame dir: %w", err)
	}

	logger.Info("LED image viewer detected",
		zap.String("binary", binary),
		zap.Strings("flags", cfg.Panel.Flags()))

	return newViewerSink(logger, binary, cfg.Panel.Flags(), cfg.Display.FrameDir, cfg.Panel.Resolution()), nil
}

func newViewerSink(logger *zap.Logger, binary string, flags []string, frameDir string, res domain.PanelResolution) *ViewerSink {
	return &ViewerSink{
		logger:     logger,
		binary:     binary,
		flags:      flags,
		framePath:  filepath.Join(frameDir, frameName),
		resolution: res,
	}
}

// detectViewer returns the configured viewer, or the first candidate that exists
func detectViewer(logger *zap.Logger, configured string) string {
	if configured != "" {
		if path, err := exec.LookPath(os.ExpandEnv(configured)); err == nil {
			return path
		}
		logger.Warn("Configured viewer not found, falling back to detection",
			zap.String("viewer", configured))
	}

	for _, candidate := range viewerCandidates {
		if path, err := exec.LookPath(os.ExpandEnv(candidate)); err == nil {
			return path
		}
	}
	return ""
}

// SetImage writes the frame and restarts the viewer on it
func (s *ViewerSink) SetImage(_ context.Context, img image.Image) error {
	if b := img.Bounds(); b.Dx() != s.resolution.Width || b.Dy() != s.resolution.Height {
		return &domain.DisplayError{Op: "set", Err: fmt.Errorf("frame is %dx%d, panel is %dx%d",
			b.Dx(), b.Dy(), s.resolution.Width, s.resolution.Height)}
	}

	if err := s.writeFrame(img); err != nil {
		return &domain.DisplayError{Op: "set", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.stopLocked(); err != nil {
		s.logger.Warn("Previous viewer did not stop cleanly", zap.Error(err))
	}

	args := append(append([]string{}, s.flags...), s.framePath)
	cmd := exec.Command(s.binary, args...)
	if err := cmd.Start(); err != nil {
		return &domain.DisplayError{Op: "set", Err: fmt.Errorf("failed to start %s: %w", s.binary, err)}
	}

	done := make(chan struct{})
	go func() {
		if err := cmd.Wait(); err != nil {
			s.logger.Debug("Viewer exited", zap.Int("pid", cmd.Process.Pid), zap.Error(err))
		}
		close(done)
	}()
	s.proc, s.done = cmd.Process, done

	s.logger.Debug("Viewer started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("frame", s.framePath))
	return nil
}

// Clear stops the viewer; the matrix driver blanks the panel on exit
func (s *ViewerSink) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.stopLocked(); err != nil {
		return &domain.DisplayError{Op: "clear", Err: err}
	}
	return nil
}

// Close stops the viewer and removes the frame file
func (s *ViewerSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.stopLocked()
	if rmErr := os.Remove(s.framePath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		err = multierr.Append(err, rmErr)
	}
	return err
}

// writeFrame encodes img next to the frame file and renames it into place
func (s *ViewerSink) writeFrame(img image.Image) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.framePath), "frame-*.png")
	if err != nil {
		return fmt.Errorf("failed to create frame: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := imaging.Encode(tmp, img, imaging.PNG); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.framePath); err != nil {
		return fmt.Errorf("failed to publish frame: %w", err)
	}
	return nil
}

// stopLocked terminates the running viewer, if any. Callers hold s.mu.
func (s *ViewerSink) stopLocked() error {
	if s.proc == nil {
		return nil
	}
	proc, done := s.proc, s.done
	s.proc, s.done = nil, nil

	select {
	case <-done:
		return nil
	default:
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("failed to stop viewer: %w", err)
		}
	}

	select {
	case <-done:
	case <-time.After(stopTimeout):
		s.logger.Warn("Viewer ignored SIGTERM, killing", zap.Int("pid", proc.Pid))
		if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("failed to kill viewer: %w", err)
		}
		<-done
	}
	return nil
}
