package smarthome

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"
)

// defaultFindThreshold is the Jaro-Winkler similarity a device or scene name
// must reach to count as a fuzzy match for a spoken target.
const defaultFindThreshold = 0.85

// Source lists devices and scenes; satisfied by [Client].
type Source interface {
	GetDevices(ctx context.Context) ([]Device, error)
	GetScenes(ctx context.Context) ([]Scene, error)
}

// Registry caches the Home Assistant device and scene inventory and resolves
// spoken targets ("bedroom light", "movie night") to entity IDs. Safe for
// concurrent use.
type Registry struct {
	source    Source
	threshold float64

	mu       sync.RWMutex
	devices  []Device
	scenes   []Scene
	syncedAt time.Time
}

// RegistryOption configures a [Registry].
type RegistryOption func(*Registry)

// WithFindThreshold sets the fuzzy-match similarity threshold.
func WithFindThreshold(t float64) RegistryOption {
	return func(r *Registry) {
		if t > 0 && t <= 1 {
			r.threshold = t
		}
	}
}

// NewRegistry creates an empty registry over source. Call [Registry.Sync]
// to populate it.
func NewRegistry(source Source, opts ...RegistryOption) *Registry {
	r := &Registry{source: source, threshold: defaultFindThreshold}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sync refreshes the cached inventory from the source.
func (r *Registry) Sync(ctx context.Context) error {
	devices, err := r.source.GetDevices(ctx)
	if err != nil {
		return fmt.Errorf("smarthome: sync devices: %w", err)
	}
	scenes, err := r.source.GetScenes(ctx)
	if err != nil {
		return fmt.Errorf("smarthome: sync scenes: %w", err)
	}

	r.mu.Lock()
	r.devices = devices
	r.scenes = scenes
	r.syncedAt = time.Now()
	r.mu.Unlock()

	slog.Info("smart home inventory synced",
		slog.Int("devices", len(devices)),
		slog.Int("scenes", len(scenes)))
	return nil
}

// Devices returns a copy of the cached device list.
func (r *Registry) Devices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// Scenes returns a copy of the cached scene list.
func (r *Registry) Scenes() []Scene {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Scene, len(r.scenes))
	copy(out, r.scenes)
	return out
}

// SyncedAt returns when the cache was last refreshed, zero if never.
func (r *Registry) SyncedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.syncedAt
}

// FindDevice resolves a spoken device name. Resolution is staged so a
// weaker match never shadows a stronger one: exact normalized name or
// entity ID first, then substring containment in either direction, then the
// best fuzzy match over the threshold.
func (r *Registry) FindDevice(name string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cands := make([]candidate, len(r.devices))
	for i, d := range r.devices {
		cands[i] = candidate{name: normalizeName(d.Name), entityID: normalizeName(d.EntityID)}
	}
	i, ok := matchIndex(cands, normalizeName(name), r.threshold)
	if !ok {
		return Device{}, false
	}
	return r.devices[i], true
}

// FindScene resolves a spoken scene name with the same strategy as
// [Registry.FindDevice].
func (r *Registry) FindScene(name string) (Scene, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cands := make([]candidate, len(r.scenes))
	for i, s := range r.scenes {
		cands[i] = candidate{name: normalizeName(s.Name), entityID: normalizeName(s.EntityID)}
	}
	i, ok := matchIndex(cands, normalizeName(name), r.threshold)
	if !ok {
		return Scene{}, false
	}
	return r.scenes[i], true
}

// candidate is a pre-normalized lookup entry.
type candidate struct {
	name     string
	entityID string
}

func matchIndex(cands []candidate, query string, threshold float64) (int, bool) {
	if query == "" {
		return -1, false
	}
	for i, c := range cands {
		if c.name == query || c.entityID == query {
			return i, true
		}
	}
	for i, c := range cands {
		if c.name != "" && (strings.Contains(c.name, query) || strings.Contains(query, c.name)) {
			return i, true
		}
	}
	best, bestScore := -1, 0.0
	for i, c := range cands {
		if score := matchr.JaroWinkler(c.name, query, true); score > bestScore {
			best, bestScore = i, score
		}
	}
	if best >= 0 && bestScore >= threshold {
		return best, true
	}
	return -1, false
}

// normalizeName lowercases and collapses separators so "Bedroom_Light",
// "bedroom light" and "light.bedroom_light" can meet in the middle.
func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.ReplaceAll(s, ".", " ")
	return strings.Join(strings.Fields(s), " ")
}
