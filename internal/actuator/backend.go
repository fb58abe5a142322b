package actuator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gardenia/internal/models"
	"gardenia/internal/store"
)

// Credentials are the local account of a plug, required when driving it
// directly on its LAN.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Request is one actuator command. An empty Status queries state without
// changing it.
type Request struct {
	Target      models.Target `json:"target"`
	Status      string        `json:"status"`
	Duration    int           `json:"duration"`
	Credentials *Credentials  `json:"credentials,omitempty"`
}

// DeviceInfo is the hardware-reported state after a command.
type DeviceInfo struct {
	DeviceOn bool `json:"device_on"`
}

// Backend drives a plug either directly (the controller process shares a LAN
// with the devices) or by forwarding to the controller process over HTTP.
type Backend interface {
	Apply(ctx context.Context, req Request) (*DeviceInfo, error)
}

// ForwardingBackend relays commands to the controller process configured
// under settings/control. Used by the app process, which typically runs off
// the device network.
type ForwardingBackend struct {
	store store.KV
	http  *http.Client
}

// NewForwardingBackend creates a relay backend.
func NewForwardingBackend(kv store.KV) *ForwardingBackend {
	return &ForwardingBackend{store: kv, http: &http.Client{Timeout: 45 * time.Second}}
}

func (f *ForwardingBackend) Apply(ctx context.Context, req Request) (*DeviceInfo, error) {
	var baseURL, token string
	if _, err := f.store.Get(ctx, []string{"settings", "control", "url"}, &baseURL); err != nil {
		return nil, err
	}
	if _, err := f.store.Get(ctx, []string{"settings", "control", "token"}, &token); err != nil {
		return nil, err
	}
	if baseURL == "" {
		return nil, fmt.Errorf("control endpoint not configured")
	}
	payload, err := json.Marshal(map[string]any{"token": token, "args": req})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(baseURL, "/")+"/.api/plug_state", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := f.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var body struct {
		Error    string `json:"error"`
		DeviceOn *bool  `json:"device_on"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("control relay: %w", err)
	}
	if body.Error != "" {
		return nil, fmt.Errorf("control relay: %s", body.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("control relay: status %d", resp.StatusCode)
	}
	if body.DeviceOn == nil {
		return nil, fmt.Errorf("control relay: no device state in response")
	}
	return &DeviceInfo{DeviceOn: *body.DeviceOn}, nil
}

// SimulatedBackend fakes hardware: it mirrors the requested status back so
// the rest of the pipeline behaves as if every command succeeded instantly.
type SimulatedBackend struct {
	store store.KV
}

// NewSimulatedBackend creates a hardware-free backend.
func NewSimulatedBackend(kv store.KV) *SimulatedBackend {
	return &SimulatedBackend{store: kv}
}

func (s *SimulatedBackend) Apply(ctx context.Context, req Request) (*DeviceInfo, error) {
	if req.Status == "" {
		var overview models.Overview
		if _, err := s.store.Get(ctx, []string{"overview", req.Target.Module}, &overview); err != nil {
			return nil, err
		}
		return &DeviceInfo{DeviceOn: overview.Status == "on"}, nil
	}
	return &DeviceInfo{DeviceOn: req.Status == "on"}, nil
}
