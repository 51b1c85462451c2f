// Package motor talks to the desk motor control box over its HTTP API.
// Heights cross this boundary in centimetres; the box itself speaks
// millimetres, so the conversion happens here and nowhere else.
package motor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"deskhub-backend/config"
)

// State is the live motor state for a desk.
type State struct {
	PositionMM int    `json:"position_mm"`
	SpeedMMS   int    `json:"speed_mms"`
	Status     string `json:"status"`
}

// NormalizedStatus maps the box's status vocabulary onto the domain's. The
// raw strings never leave this package.
func (s *State) NormalizedStatus() string {
	switch s.Status {
	case "Normal", "":
		return "available"
	default:
		return "error"
	}
}

// Client is the HTTP implementation of the motor control API.
type Client struct {
	baseURL string
	apiKey  string
	version string
	hc      *http.Client
}

// NewClient creates a motor client from configuration.
func NewClient(cfg *config.MotorConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		version: cfg.Version,
		hc:      &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
}

func (c *Client) stateURL(externalID string) string {
	return fmt.Sprintf("%s/api/%s/%s/desks/%s/state", c.baseURL, c.version, c.apiKey, externalID)
}

// stateEnvelope tolerates both response shapes the box has been observed to
// produce: the state object flat, or nested under a "state" key.
type stateEnvelope struct {
	State      *State `json:"state"`
	PositionMM *int   `json:"position_mm"`
	SpeedMMS   *int   `json:"speed_mms"`
	Status     string `json:"status"`
}

// GetState fetches the current position, speed and status for a desk.
func (c *Client) GetState(ctx context.Context, externalID string) (*State, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.stateURL(externalID), nil)
	if err != nil {
		return nil, fmt.Errorf("build state request: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("motor state request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("motor state request returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read motor state response: %w", err)
	}
	var env stateEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("unmarshal motor state response: %w", err)
	}
	if env.State != nil {
		return env.State, nil
	}
	if env.PositionMM == nil {
		return nil, fmt.Errorf("motor state response carried no position")
	}
	st := &State{PositionMM: *env.PositionMM, Status: env.Status}
	if env.SpeedMMS != nil {
		st.SpeedMMS = *env.SpeedMMS
	}
	return st, nil
}

// SetHeight commands the desk to the given height in centimetres.
func (c *Client) SetHeight(ctx context.Context, externalID string, heightCm float64) error {
	payload, err := json.Marshal(map[string]int{"position_mm": int(heightCm * 10)})
	if err != nil {
		return fmt.Errorf("marshal height command: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.stateURL(externalID), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build height request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("motor height request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("motor height request returned status %d", resp.StatusCode)
	}
	return nil
}
