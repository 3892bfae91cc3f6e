package smarthome

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/emberassist/ember/internal/observe"
	"github.com/emberassist/ember/pkg/types"
)

// ErrTargetNotFound means no device or scene matched the command's spoken
// target, even after a registry refresh.
var ErrTargetNotFound = errors.New("smarthome: target not found")

// Service resolves a confirmed home command's spoken target against the
// registry and executes it through the client.
type Service struct {
	client   *Client
	registry *Registry
	metrics  *observe.Metrics
}

// ServiceOption configures a [Service].
type ServiceOption func(*Service)

// WithMetrics records command execution counters.
func WithMetrics(m *observe.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService creates an executor over client and registry.
func NewService(client *Client, registry *Registry, opts ...ServiceOption) *Service {
	s := &Service{client: client, registry: registry}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute resolves and runs cmd. When the target does not resolve, the
// registry is refreshed once and the lookup retried, so devices added since
// startup are still reachable by voice.
func (s *Service) Execute(ctx context.Context, cmd *types.HomeCommand) error {
	if cmd == nil {
		return nil
	}
	if !s.client.Configured() {
		return ErrNotConfigured
	}

	err := s.execute(ctx, cmd)
	s.count(ctx, err)
	if err != nil {
		slog.Warn("home command failed",
			slog.String("action", cmd.Action),
			slog.String("target", cmd.Target),
			slog.String("error", err.Error()))
		return err
	}
	slog.Info("home command executed",
		slog.String("action", cmd.Action),
		slog.String("target", cmd.Target))
	return nil
}

func (s *Service) execute(ctx context.Context, cmd *types.HomeCommand) error {
	if cmd.TargetType == "scene" || cmd.Action == "trigger_scene" {
		scene, ok := s.findSceneWithRefresh(ctx, cmd.Target)
		if !ok {
			return fmt.Errorf("%w: scene %q", ErrTargetNotFound, cmd.Target)
		}
		return s.client.TriggerScene(ctx, scene.EntityID)
	}

	device, ok := s.findDeviceWithRefresh(ctx, cmd.Target)
	if !ok {
		return fmt.Errorf("%w: device %q", ErrTargetNotFound, cmd.Target)
	}
	if !device.Online {
		slog.Warn("commanding offline device",
			slog.String("entity_id", device.EntityID))
	}
	return s.client.ExecuteCommand(ctx, device.EntityID, cmd)
}

func (s *Service) findDeviceWithRefresh(ctx context.Context, name string) (Device, bool) {
	if d, ok := s.registry.FindDevice(name); ok {
		return d, true
	}
	if err := s.registry.Sync(ctx); err != nil {
		slog.Warn("registry refresh failed", slog.String("error", err.Error()))
		return Device{}, false
	}
	return s.registry.FindDevice(name)
}

func (s *Service) findSceneWithRefresh(ctx context.Context, name string) (Scene, bool) {
	if sc, ok := s.registry.FindScene(name); ok {
		return sc, true
	}
	if err := s.registry.Sync(ctx); err != nil {
		slog.Warn("registry refresh failed", slog.String("error", err.Error()))
		return Scene{}, false
	}
	return s.registry.FindScene(name)
}

func (s *Service) count(ctx context.Context, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordHomeCommand(ctx, status)
}
