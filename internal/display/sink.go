package display

import (
	"fmt"

	"github.com/genricoloni/coverled/internal/config"
	"github.com/genricoloni/coverled/internal/domain"
	"go.uber.org/zap"
)

// NewSink returns the display sink selected by the configuration
func NewSink(logger *zap.Logger, cfg *config.AppConfig) (domain.DisplaySink, error) {
	switch cfg.Display.Driver {
	case config.DriverViewer:
		sink, err := NewViewerSink(logger.Named("viewer"), cfg)
		if err != nil {
			return nil, err
		}
		return sink, nil
	case config.DriverLog:
		logger.Warn("Running without a panel, frames are only logged")
		return NewLogSink(logger, cfg.Panel.Resolution()), nil
	default:
		return nil, fmt.Errorf("unknown display driver %q", cfg.Display.Driver)
	}
}
