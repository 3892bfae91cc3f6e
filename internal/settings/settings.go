// Package settings manages per-user accessibility preferences: text scale,
// contrast, countdown length, playback voice. Preferences travel as an
// explicit [types.Prefs] object so the dialog and the client never depend on
// ambient globals.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/emberassist/ember/pkg/store"
	"github.com/emberassist/ember/pkg/types"
)

// Clamping bounds. Values outside these ranges are pulled to the nearest
// bound rather than rejected, because the client sliders and voice commands
// that produce them are best-effort.
const (
	MinTextScale = 0.75
	MaxTextScale = 2.0

	MinAutoConfirmSeconds = 3
	MaxAutoConfirmSeconds = 60

	MinConfirmDelayMillis = 100
	MaxConfirmDelayMillis = 2000
)

// Defaults returns the preferences a user has before saving any: 8 second
// countdown, 400 ms confirm delay, playback on.
func Defaults() types.Prefs {
	return types.Prefs{
		TextScale:            1.0,
		AutoConfirmSeconds:   8,
		ConfirmDelayMillis:   400,
		VoicePlaybackEnabled: true,
		Language:             "en-US",
	}
}

// Patch is a partial preferences update. Nil fields are left unchanged.
type Patch struct {
	TextScale            *float64 `json:"text_scale"`
	HighContrast         *bool    `json:"high_contrast"`
	ReducedMotion        *bool    `json:"reduced_motion"`
	AutoConfirmSeconds   *int     `json:"auto_confirm_seconds"`
	ConfirmDelayMillis   *int     `json:"confirm_delay_millis"`
	VoicePlaybackEnabled *bool    `json:"voice_playback_enabled"`
	PreferredVoiceID     *string  `json:"preferred_voice_id"`
	Language             *string  `json:"language"`
}

// Service reads and writes per-user preferences and notifies subscribers of
// changes so live dialog sessions pick up new timeouts immediately.
type Service struct {
	store    store.SettingsStore
	defaults types.Prefs

	mu     sync.Mutex
	subs   map[string]map[int]chan types.Prefs
	nextID int
}

// Option configures a [Service].
type Option func(*Service)

// WithDefaults overrides the built-in defaults, typically from server
// configuration.
func WithDefaults(p types.Prefs) Option {
	return func(s *Service) { s.defaults = clamp(p) }
}

// NewService creates a settings service over the given store.
func NewService(st store.SettingsStore, opts ...Option) *Service {
	s := &Service{
		store:    st,
		defaults: Defaults(),
		subs:     make(map[string]map[int]chan types.Prefs),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetDefaults replaces the fallback preferences for users who never saved
// any, typically after a configuration reload. Users with stored preferences
// and sessions already running are unaffected.
func (s *Service) SetDefaults(p types.Prefs) {
	s.mu.Lock()
	s.defaults = clamp(p)
	s.mu.Unlock()
}

func (s *Service) defaultPrefs() types.Prefs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaults
}

// Get returns the user's preferences, falling back to defaults when the user
// never saved any. A store failure also returns defaults alongside the error
// so callers can keep the session usable.
func (s *Service) Get(ctx context.Context, userID string) (types.Prefs, error) {
	prefs, err := s.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return s.defaultPrefs(), nil
		}
		return s.defaultPrefs(), fmt.Errorf("settings: get: %w", err)
	}
	return clamp(prefs), nil
}

// Update applies patch on top of the user's current preferences, clamps the
// result, persists it, and notifies subscribers. The stored preferences
// after the update are returned.
func (s *Service) Update(ctx context.Context, userID string, patch Patch) (types.Prefs, error) {
	current, err := s.Get(ctx, userID)
	if err != nil {
		return types.Prefs{}, err
	}

	updated := apply(current, patch)
	if err := s.store.Put(ctx, userID, updated); err != nil {
		return types.Prefs{}, fmt.Errorf("settings: update: %w", err)
	}

	s.notify(userID, updated)
	slog.Info("preferences updated", slog.String("user_id", userID))
	return updated, nil
}

// Subscribe returns a channel delivering the user's preferences after each
// update, plus a cancel function that must be called to release the
// subscription. Deliveries are latest-wins: a slow receiver sees the newest
// value, not every intermediate one.
func (s *Service) Subscribe(userID string) (<-chan types.Prefs, func()) {
	ch := make(chan types.Prefs, 1)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	if s.subs[userID] == nil {
		s.subs[userID] = make(map[int]chan types.Prefs)
	}
	s.subs[userID][id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if subs, ok := s.subs[userID]; ok {
			if _, ok := subs[id]; ok {
				delete(subs, id)
				close(ch)
				if len(subs) == 0 {
					delete(s.subs, userID)
				}
			}
		}
	}
	return ch, cancel
}

func (s *Service) notify(userID string, p types.Prefs) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs[userID] {
		select {
		case ch <- p:
		default:
			// Drop the stale value, then deliver the new one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- p:
			default:
			}
		}
	}
}

// apply copies non-nil patch fields onto p and clamps the result.
func apply(p types.Prefs, patch Patch) types.Prefs {
	if patch.TextScale != nil {
		p.TextScale = *patch.TextScale
	}
	if patch.HighContrast != nil {
		p.HighContrast = *patch.HighContrast
	}
	if patch.ReducedMotion != nil {
		p.ReducedMotion = *patch.ReducedMotion
	}
	if patch.AutoConfirmSeconds != nil {
		p.AutoConfirmSeconds = *patch.AutoConfirmSeconds
	}
	if patch.ConfirmDelayMillis != nil {
		p.ConfirmDelayMillis = *patch.ConfirmDelayMillis
	}
	if patch.VoicePlaybackEnabled != nil {
		p.VoicePlaybackEnabled = *patch.VoicePlaybackEnabled
	}
	if patch.PreferredVoiceID != nil {
		p.PreferredVoiceID = strings.TrimSpace(*patch.PreferredVoiceID)
	}
	if patch.Language != nil {
		p.Language = strings.TrimSpace(*patch.Language)
	}
	return clamp(p)
}

// clamp pulls out-of-range values to their nearest bound and fills empty
// required fields.
func clamp(p types.Prefs) types.Prefs {
	p.TextScale = clampFloat(p.TextScale, MinTextScale, MaxTextScale)
	p.AutoConfirmSeconds = clampInt(p.AutoConfirmSeconds, MinAutoConfirmSeconds, MaxAutoConfirmSeconds)
	p.ConfirmDelayMillis = clampInt(p.ConfirmDelayMillis, MinConfirmDelayMillis, MaxConfirmDelayMillis)
	if p.Language == "" {
		p.Language = "en-US"
	}
	return p
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
