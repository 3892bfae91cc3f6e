// Package smarthome executes confirmed home commands against a Home
// Assistant instance: "turn on the bedroom light" spoken through Ember ends
// up as a service call here.
//
// Everything in this package is recoverable: a failed or unresolvable
// command is reported to the user and never interrupts the speaking flow.
package smarthome

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/emberassist/ember/internal/resilience"
	"github.com/emberassist/ember/pkg/types"
)

var (
	// ErrNotConfigured means no Home Assistant endpoint or token is set.
	ErrNotConfigured = errors.New("smarthome: home assistant not configured")

	// ErrUnsupportedCommand means the command's action/parameter combination
	// has no service-call mapping.
	ErrUnsupportedCommand = errors.New("smarthome: unsupported command")
)

// Device is a controllable Home Assistant entity.
type Device struct {
	// EntityID is the Home Assistant identifier, e.g. "light.bedroom".
	EntityID string

	// Name is the friendly name shown to users, e.g. "Bedroom Light".
	Name string

	// Domain is the entity domain: "light", "switch", "climate", ...
	Domain string

	// Online is false when Home Assistant reports the entity unavailable.
	Online bool
}

// Scene is an activatable Home Assistant scene.
type Scene struct {
	// EntityID is the scene identifier, e.g. "scene.movie_night".
	EntityID string

	// Name is the friendly name, e.g. "Movie Night".
	Name string
}

// deviceDomains are the entity domains surfaced as controllable devices.
// Everything else in /api/states (sensors, automations, zones) is skipped.
var deviceDomains = map[string]bool{
	"light":        true,
	"switch":       true,
	"climate":      true,
	"cover":        true,
	"fan":          true,
	"lock":         true,
	"media_player": true,
}

// Client is a Home Assistant REST API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retry      resilience.RetryConfig
}

// ClientOption configures a [Client].
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) ClientOption {
	return func(c *Client) { c.retry = cfg }
}

// NewClient creates a client for the Home Assistant instance at baseURL,
// authenticating with a long-lived access token.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		retry:      resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether an endpoint and token are set.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != "" && c.token != ""
}

// Ping checks API reachability. It satisfies the readiness Pinger contract.
func (c *Client) Ping(ctx context.Context) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	_, err := c.doRequest(ctx, http.MethodGet, "/api/", nil)
	return err
}

// ExecuteCommand runs cmd against the entity with the given ID. The entity
// must already be resolved from the command's spoken target; see
// [Service.Execute].
func (c *Client) ExecuteCommand(ctx context.Context, entityID string, cmd *types.HomeCommand) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	domain, service, data, err := buildServiceCall(entityID, cmd)
	if err != nil {
		return err
	}
	data["entity_id"] = entityID
	return c.callService(ctx, domain, service, data)
}

// TriggerScene activates the scene with the given entity ID.
func (c *Client) TriggerScene(ctx context.Context, sceneID string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	return c.callService(ctx, "scene", "turn_on", map[string]any{"entity_id": sceneID})
}

// haEntity mirrors a Home Assistant /api/states entry.
type haEntity struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// GetDevices lists controllable entities.
func (c *Client) GetDevices(ctx context.Context) ([]Device, error) {
	entities, err := c.states(ctx)
	if err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(entities))
	for _, e := range entities {
		domain := entityDomain(e.EntityID)
		if !deviceDomains[domain] {
			continue
		}
		devices = append(devices, Device{
			EntityID: e.EntityID,
			Name:     friendlyName(e),
			Domain:   domain,
			Online:   e.State != "unavailable",
		})
	}
	return devices, nil
}

// GetScenes lists activatable scenes.
func (c *Client) GetScenes(ctx context.Context) ([]Scene, error) {
	entities, err := c.states(ctx)
	if err != nil {
		return nil, err
	}

	scenes := make([]Scene, 0)
	for _, e := range entities {
		if entityDomain(e.EntityID) != "scene" {
			continue
		}
		scenes = append(scenes, Scene{EntityID: e.EntityID, Name: friendlyName(e)})
	}
	return scenes, nil
}

func (c *Client) states(ctx context.Context) ([]haEntity, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/states", nil)
	if err != nil {
		return nil, fmt.Errorf("smarthome: fetch states: %w", err)
	}
	var entities []haEntity
	if err := json.Unmarshal(resp, &entities); err != nil {
		return nil, fmt.Errorf("smarthome: parse states: %w", err)
	}
	return entities, nil
}

func (c *Client) callService(ctx context.Context, domain, service string, data map[string]any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("smarthome: marshal service call: %w", err)
	}
	path := fmt.Sprintf("/api/services/%s/%s", domain, service)
	if _, err := c.doRequest(ctx, http.MethodPost, path, body); err != nil {
		return fmt.Errorf("smarthome: call %s.%s: %w", domain, service, err)
	}
	return nil
}

// doRequest performs an authenticated request with retry on retryable
// statuses. 401 is permanent: retrying an invalid token cannot help.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var respBody []byte
	err := resilience.WithRetry(ctx, c.retry, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("smarthome: request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("smarthome: %s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return fmt.Errorf("smarthome: read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			err := fmt.Errorf("smarthome: %s %s: status %d", method, path, resp.StatusCode)
			if resilience.IsRetryableStatus(resp.StatusCode) {
				return err
			}
			return resilience.Permanent(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return respBody, nil
}

// buildServiceCall maps a home command to a Home Assistant domain/service
// pair plus call data.
func buildServiceCall(entityID string, cmd *types.HomeCommand) (domain, service string, data map[string]any, err error) {
	data = make(map[string]any)
	entDomain := entityDomain(entityID)

	switch cmd.Action {
	case "turn_on":
		return entDomain, "turn_on", data, nil
	case "turn_off":
		return entDomain, "turn_off", data, nil
	case "trigger_scene":
		return "scene", "turn_on", data, nil
	case "set":
		return buildSetCall(entDomain, cmd.Parameters)
	default:
		return "", "", nil, fmt.Errorf("%w: action %q", ErrUnsupportedCommand, cmd.Action)
	}
}

// buildSetCall translates "set" parameters: temperature targets climate,
// brightness and color target lights, volume targets media players.
func buildSetCall(entDomain string, params map[string]string) (string, string, map[string]any, error) {
	data := make(map[string]any)

	if v, ok := params["temperature"]; ok {
		temp, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return "", "", nil, fmt.Errorf("%w: temperature %q", ErrUnsupportedCommand, v)
		}
		data["temperature"] = temp
		return "climate", "set_temperature", data, nil
	}
	if v, ok := params["brightness"]; ok {
		pct, err := strconv.Atoi(strings.TrimSuffix(v, "%"))
		if err != nil || pct < 0 || pct > 100 {
			return "", "", nil, fmt.Errorf("%w: brightness %q", ErrUnsupportedCommand, v)
		}
		data["brightness_pct"] = pct
		return "light", "turn_on", data, nil
	}
	if v, ok := params["color"]; ok {
		data["color_name"] = strings.ToLower(v)
		return "light", "turn_on", data, nil
	}
	if v, ok := params["volume"]; ok {
		pct, err := strconv.Atoi(strings.TrimSuffix(v, "%"))
		if err != nil || pct < 0 || pct > 100 {
			return "", "", nil, fmt.Errorf("%w: volume %q", ErrUnsupportedCommand, v)
		}
		data["volume_level"] = float64(pct) / 100
		return "media_player", "volume_set", data, nil
	}

	return "", "", nil, fmt.Errorf("%w: set with parameters %v", ErrUnsupportedCommand, params)
}

func entityDomain(entityID string) string {
	if before, _, ok := strings.Cut(entityID, "."); ok {
		return before
	}
	return entityID
}

func friendlyName(e haEntity) string {
	if n, ok := e.Attributes["friendly_name"].(string); ok && n != "" {
		return n
	}
	return e.EntityID
}
