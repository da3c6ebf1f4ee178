// Package ngrok publishes the family site through an ngrok endpoint.
package ngrok

import (
	"context"
	"fmt"

	"familysite/internal/config"

	"github.com/sirupsen/logrus"
	"golang.ngrok.com/ngrok/v2"
)

// Service represents the ngrok tunnel service
type Service struct {
	config *config.NgrokConfig
	agent  ngrok.Agent
	tunnel ngrok.EndpointForwarder
	logger *logrus.Logger
}

// NewService creates a tunnel service. It returns nil when tunnelling is
// disabled; a nil *Service is safe to use.
func NewService(cfg *config.NgrokConfig, logger *logrus.Logger) (*Service, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("ngrok auth token not found, set %s", config.EnvNgrokAuthToken)
	}

	agent, err := ngrok.NewAgent(ngrok.WithAuthtoken(cfg.AuthToken))
	if err != nil {
		return nil, fmt.Errorf("failed to create ngrok agent: %w", err)
	}

	return &Service{
		config: cfg,
		agent:  agent,
		logger: logger,
	}, nil
}

// StartTunnel forwards a public endpoint to localAddress
func (s *Service) StartTunnel(ctx context.Context, localAddress string) error {
	if s == nil {
		return nil
	}

	s.logger.Info("Starting ngrok tunnel")

	var endpointOpts []ngrok.EndpointOption
	if s.config.Domain != "" {
		endpointOpts = append(endpointOpts, ngrok.WithURL(s.config.Domain))
	}

	tunnel, err := s.agent.Forward(ctx, ngrok.WithUpstream(localAddress), endpointOpts...)
	if err != nil {
		return fmt.Errorf("failed to create ngrok tunnel: %w", err)
	}
	s.tunnel = tunnel

	s.logger.WithFields(logrus.Fields{
		"public_url": tunnel.URL().String(),
		"upstream":   localAddress,
	}).Info("Ngrok tunnel active")

	return nil
}

// PublicURL returns the public URL of the tunnel, or "" when there is none
func (s *Service) PublicURL() string {
	if s == nil || s.tunnel == nil {
		return ""
	}
	return s.tunnel.URL().String()
}

// Stop closes the tunnel
func (s *Service) Stop() error {
	if s == nil || s.tunnel == nil {
		return nil
	}

	s.logger.Info("Stopping ngrok tunnel")
	return s.tunnel.Close()
}
