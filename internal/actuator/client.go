package actuator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"gardenia/internal/history"
	"gardenia/internal/models"
	"gardenia/internal/store"

	"github.com/google/uuid"
)

// ErrSessionExpired marks a cloud API failure caused by a stale session
// token. The caller decides when to re-login.
var ErrSessionExpired = errors.New("actuator session token expired")

// Tapo cloud error code for an invalid/expired token.
const codeTokenInvalid = -20651

// Client talks to the Tapo cloud API: login, device inventory and generic
// RPC calls authenticated by a token in the query string.
type Client struct {
	store   store.KV
	history *history.History
	http    *http.Client
}

// NewClient creates a cloud client.
func NewClient(kv store.KV, hist *history.History) *Client {
	return &Client{store: kv, history: hist, http: &http.Client{Timeout: 30 * time.Second}}
}

// Login authenticates with the stored credentials and the stable per-install
// device UUID, persisting the session token for reuse across calls.
func (c *Client) Login(ctx context.Context) error {
	log.Println("ACTUATOR: refreshing tapo session token")
	var username, password, terminal string
	if _, err := c.store.Get(ctx, []string{"settings", "tapo", "username"}, &username); err != nil {
		return err
	}
	if _, err := c.store.Get(ctx, []string{"settings", "tapo", "password"}, &password); err != nil {
		return err
	}
	found, err := c.store.Get(ctx, []string{"settings", "tapo", "uuid"}, &terminal)
	if err != nil {
		return err
	}
	if !found || terminal == "" {
		terminal = strings.ToUpper(uuid.NewString())
		if err := c.store.Set(ctx, []string{"settings", "tapo", "uuid"}, terminal); err != nil {
			return err
		}
	}
	result, err := c.Call(ctx, "login", map[string]any{
		"appType":       "Tapo_Ios",
		"cloudUserName": username,
		"cloudPassword": password,
		"terminalUUID":  terminal,
	}, false)
	if err != nil {
		return err
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(result, &body); err != nil {
		return err
	}
	if err := c.store.Set(ctx, []string{"settings", "tapo", "token"}, body.Token); err != nil {
		return err
	}
	if c.history != nil {
		c.history.Push(ctx, "", "tapo_token_refresh", nil)
	}
	log.Println("ACTUATOR: tapo session token refreshed")
	return nil
}

// Call executes a cloud RPC. The session token is appended to the query
// string unless withToken is false (login itself).
func (c *Client) Call(ctx context.Context, method string, params any, withToken bool) (json.RawMessage, error) {
	var api string
	if _, err := c.store.Get(ctx, []string{"settings", "tapo", "api"}, &api); err != nil {
		return nil, err
	}
	if api == "" {
		return nil, fmt.Errorf("tapo api endpoint not configured")
	}
	if withToken {
		var token string
		if _, err := c.store.Get(ctx, []string{"settings", "tapo", "token"}, &token); err != nil {
			return nil, err
		}
		api += "?token=" + token
	}
	payload, err := json.Marshal(map[string]any{"method": method, "params": params})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, api, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var body struct {
		ErrorCode int             `json:"error_code"`
		Msg       string          `json:"msg"`
		Result    json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if body.ErrorCode != 0 {
		if body.ErrorCode == codeTokenInvalid {
			return nil, fmt.Errorf("tapo %s: %w", method, ErrSessionExpired)
		}
		return nil, fmt.Errorf("tapo %s: api error %d: %s", method, body.ErrorCode, body.Msg)
	}
	return body.Result, nil
}

// FetchDevices enumerates paired plugs, decoding the base64 display name and
// normalizing MAC addresses, and caches the inventory in the store. A stale
// session token triggers one re-login before giving up.
func (c *Client) FetchDevices(ctx context.Context) error {
	log.Println("ACTUATOR: loading tapo devices")
	result, err := c.Call(ctx, "getDeviceList", nil, true)
	if errors.Is(err, ErrSessionExpired) {
		if err := c.Login(ctx); err != nil {
			return err
		}
		result, err = c.Call(ctx, "getDeviceList", nil, true)
	}
	if err != nil {
		return err
	}
	var body struct {
		DeviceList []struct {
			Alias       string `json:"alias"`
			FwVer       string `json:"fwVer"`
			DeviceModel string `json:"deviceModel"`
			DeviceMac   string `json:"deviceMac"`
		} `json:"deviceList"`
	}
	if err := json.Unmarshal(result, &body); err != nil {
		return err
	}
	modules := make([]models.PlugModule, 0, len(body.DeviceList))
	for _, device := range body.DeviceList {
		name := device.Alias
		if decoded, err := base64.StdEncoding.DecodeString(device.Alias); err == nil {
			name = string(decoded)
		}
		modules = append(modules, models.PlugModule{
			Name:     name,
			Model:    device.DeviceModel,
			Firmware: device.FwVer,
			MAC:      NormalizeMAC(device.DeviceMac),
		})
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i].Name < modules[j].Name })
	if err := c.store.Set(ctx, []string{"settings", "tapo", "modules"}, modules); err != nil {
		return err
	}
	log.Printf("ACTUATOR: loaded %d tapo devices", len(modules))
	return nil
}

// NormalizeMAC converts a MAC address to canonical colon-separated lowercase
// form regardless of input separators.
func NormalizeMAC(mac string) string {
	hex := strings.ToLower(strings.NewReplacer(":", "", "-", "", ".", "").Replace(mac))
	var parts []string
	for i := 0; i+2 <= len(hex); i += 2 {
		parts = append(parts, hex[i:i+2])
	}
	return strings.Join(parts, ":")
}
