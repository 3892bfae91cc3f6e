package smarthome_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/emberassist/ember/internal/smarthome"
)

// fakeSource is an in-memory inventory source.
type fakeSource struct {
	mu       sync.Mutex
	devices  []smarthome.Device
	scenes   []smarthome.Scene
	err      error
	getCalls int
}

func (f *fakeSource) GetDevices(ctx context.Context) ([]smarthome.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	return f.devices, f.err
}

func (f *fakeSource) GetScenes(ctx context.Context) ([]smarthome.Scene, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scenes, f.err
}

func testSource() *fakeSource {
	return &fakeSource{
		devices: []smarthome.Device{
			{EntityID: "light.bedroom", Name: "Bedroom Light", Domain: "light", Online: true},
			{EntityID: "light.bathroom", Name: "Bathroom Light", Domain: "light", Online: true},
			{EntityID: "switch.coffee", Name: "Coffee Maker", Domain: "switch", Online: true},
			{EntityID: "climate.living_room", Name: "Living Room Thermostat", Domain: "climate", Online: true},
		},
		scenes: []smarthome.Scene{
			{EntityID: "scene.movie_night", Name: "Movie Night"},
			{EntityID: "scene.good_morning", Name: "Good Morning"},
		},
	}
}

func syncedRegistry(t *testing.T, src *fakeSource) *smarthome.Registry {
	t.Helper()
	r := smarthome.NewRegistry(src)
	if err := r.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	return r
}

func TestRegistry_SyncPopulates(t *testing.T) {
	t.Parallel()

	r := syncedRegistry(t, testSource())
	if got := len(r.Devices()); got != 4 {
		t.Errorf("devices = %d, want 4", got)
	}
	if got := len(r.Scenes()); got != 2 {
		t.Errorf("scenes = %d, want 2", got)
	}
	if r.SyncedAt().IsZero() {
		t.Error("SyncedAt should be set after Sync")
	}
}

func TestRegistry_SyncError(t *testing.T) {
	t.Parallel()

	src := testSource()
	src.err = errors.New("ha down")
	r := smarthome.NewRegistry(src)
	if err := r.Sync(context.Background()); err == nil {
		t.Fatal("Sync should surface source errors")
	}
	if len(r.Devices()) != 0 {
		t.Error("failed sync must not populate the cache")
	}
}

func TestRegistry_FindDevice(t *testing.T) {
	t.Parallel()

	r := syncedRegistry(t, testSource())

	for _, tc := range []struct {
		name  string
		query string
		want  string
	}{
		{"exact", "Bedroom Light", "light.bedroom"},
		{"case insensitive", "bedroom light", "light.bedroom"},
		{"entity id", "light.bedroom", "light.bedroom"},
		{"partial", "bedroom", "light.bedroom"},
		{"superset", "the coffee maker please", "switch.coffee"},
		{"fuzzy typo", "bedrom light", "light.bedroom"},
		{"fuzzy dysarthric", "coffe maker", "switch.coffee"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			d, ok := r.FindDevice(tc.query)
			if !ok {
				t.Fatalf("FindDevice(%q) = not found", tc.query)
			}
			if d.EntityID != tc.want {
				t.Errorf("FindDevice(%q) = %s, want %s", tc.query, d.EntityID, tc.want)
			}
		})
	}
}

func TestRegistry_FindDeviceNoMatch(t *testing.T) {
	t.Parallel()

	r := syncedRegistry(t, testSource())
	for _, query := range []string{"submarine", "garage door", ""} {
		if d, ok := r.FindDevice(query); ok {
			t.Errorf("FindDevice(%q) = %s, want no match", query, d.EntityID)
		}
	}
}

func TestRegistry_ExactBeatsSubstring(t *testing.T) {
	t.Parallel()

	src := &fakeSource{devices: []smarthome.Device{
		{EntityID: "light.bedroom_strip", Name: "Bedroom Light Strip", Domain: "light"},
		{EntityID: "light.bedroom", Name: "Bedroom Light", Domain: "light"},
	}}
	r := syncedRegistry(t, src)

	d, ok := r.FindDevice("bedroom light")
	if !ok || d.EntityID != "light.bedroom" {
		t.Errorf("FindDevice = %+v, want the exact-name device", d)
	}
}

func TestRegistry_FindScene(t *testing.T) {
	t.Parallel()

	r := syncedRegistry(t, testSource())

	s, ok := r.FindScene("movie night")
	if !ok || s.EntityID != "scene.movie_night" {
		t.Errorf("FindScene exact = %+v", s)
	}
	s, ok = r.FindScene("movee night")
	if !ok || s.EntityID != "scene.movie_night" {
		t.Errorf("FindScene fuzzy = %+v", s)
	}
	if _, ok := r.FindScene("disco inferno"); ok {
		t.Error("unknown scene should not resolve")
	}
}

func TestRegistry_EmptyBeforeSync(t *testing.T) {
	t.Parallel()

	r := smarthome.NewRegistry(testSource())
	if _, ok := r.FindDevice("bedroom light"); ok {
		t.Error("unsynced registry should resolve nothing")
	}
}
