package session

import (
	"fmt"

	"github.com/genricoloni/coverled/internal/config"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// NewBackend returns the backend for the configured server type
func NewBackend(logger *zap.Logger, cfg *config.AppConfig, client *retryablehttp.Client) (Backend, error) {
	switch cfg.Server.Type {
	case config.ServerSubsonic:
		return NewSubsonicBackend(logger, client.StandardClient()), nil
	case config.ServerJellyfin:
		return NewJellyfinBackend(logger, client, cfg.Artwork.Source), nil
	case config.ServerMPRIS:
		return NewMprisBackend(logger), nil
	default:
		return nil, fmt.Errorf("unsupported server type %q", cfg.Server.Type)
	}
}
