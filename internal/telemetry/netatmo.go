package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gardenia/internal/history"
	"gardenia/internal/models"
	"gardenia/internal/mqtt"
	"gardenia/internal/store"
)

// ErrTokenExpired marks an API failure caused by an expired access token.
// The tick scheduler refreshes the token and retries exactly once on it.
var ErrTokenExpired = errors.New("access token expired")

// ErrNotConfigured is returned when no station modules have been discovered
// yet (station discovery must run first).
var ErrNotConfigured = errors.New("no weather modules configured")

// netatmo uses error code 3 for expired access tokens.
const codeTokenExpired = 3

// moduleData maps a module type to its API identifier, the metrics it
// reports and the field suffix applied on merge (outdoor duplicates of
// indoor metrics get "_out" to avoid collisions).
type moduleData struct {
	ID     string
	Data   []string
	Suffix string
}

var catalogue = map[string]moduleData{
	"station": {ID: "NAMain", Data: []string{"temperature", "humidity", "co2", "pressure", "noise"}},
	"module":  {ID: "NAModule1", Data: []string{"temperature", "humidity"}, Suffix: "_out"},
	"wind":    {ID: "NAModule2", Data: []string{"windstrength", "windangle", "guststrength", "gustangle"}},
	"rain":    {ID: "NAModule3", Data: []string{"rain"}},
}

// Client fetches weather measurements from the Netatmo cloud API and merges
// them into time-bucketed storage.
type Client struct {
	store   store.KV
	history *history.History
	bridge  *mqtt.Bridge
	http    *http.Client
	baseURL string
	now     func() time.Time
}

// NewClient creates a telemetry client. bridge may be nil.
func NewClient(kv store.KV, hist *history.History, bridge *mqtt.Bridge) *Client {
	return &Client{
		store:   kv,
		history: hist,
		bridge:  bridge,
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: "https://api.netatmo.com",
		now:     time.Now,
	}
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) wrap(context string) error {
	if e.Code == codeTokenExpired || strings.Contains(strings.ToLower(e.Message), "expired") {
		return fmt.Errorf("%s: %w", context, ErrTokenExpired)
	}
	return fmt.Errorf("%s: api error %d: %s", context, e.Code, e.Message)
}

// RefreshToken exchanges the stored refresh token for a new access/refresh
// pair and persists both along with the expiration time.
func (c *Client) RefreshToken(ctx context.Context) error {
	log.Println("TELEMETRY: refreshing netatmo token")
	form := url.Values{"grant_type": {"refresh_token"}}
	for _, name := range []string{"client_id", "client_secret", "refresh_token"} {
		var value string
		if _, err := c.store.Get(ctx, []string{"settings", "netatmo", name}, &value); err != nil {
			return err
		}
		form.Set(name, value)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
		Error        string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("token refresh: %w", err)
	}
	if body.AccessToken == "" {
		return fmt.Errorf("token refresh failed: %s", body.Error)
	}
	expiration := c.now().UnixMilli() + body.ExpiresIn*1000
	if err := c.store.Set(ctx, []string{"settings", "netatmo", "refresh_token"}, body.RefreshToken); err != nil {
		return err
	}
	if err := c.store.Set(ctx, []string{"settings", "netatmo", "access_token"}, body.AccessToken); err != nil {
		return err
	}
	if err := c.store.Set(ctx, []string{"settings", "netatmo", "access_token_expiration"}, expiration); err != nil {
		return err
	}
	if c.history != nil {
		c.history.Push(ctx, "", "netatmo_token_refresh", nil)
	}
	log.Printf("TELEMETRY: netatmo token refreshed, expires at %s", models.Stamp(time.UnixMilli(expiration)))
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	var token string
	if _, err := c.store.Get(ctx, []string{"settings", "netatmo", "access_token"}, &token); err != nil {
		return err
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

// FetchStation enumerates the modules of the configured weather station and
// persists their identifiers, types, battery levels and update timestamps.
// Exactly one station is supported; more is a configuration error.
func (c *Client) FetchStation(ctx context.Context) error {
	log.Println("TELEMETRY: loading netatmo station")
	var body struct {
		Body struct {
			Devices []struct {
				ID              string `json:"_id"`
				LastStatusStore int64  `json:"last_status_store"`
				Modules         []struct {
					ID             string `json:"_id"`
					Type           string `json:"type"`
					BatteryPercent int    `json:"battery_percent"`
					LastMessage    int64  `json:"last_message"`
				} `json:"modules"`
			} `json:"devices"`
			User struct {
				Mail string `json:"mail"`
			} `json:"user"`
		} `json:"body"`
		Error *apiError `json:"error"`
	}
	if err := c.get(ctx, "/api/getstationsdata", nil, &body); err != nil {
		return err
	}
	if body.Error != nil {
		return body.Error.wrap("station discovery")
	}
	if n := len(body.Body.Devices); n != 1 {
		return fmt.Errorf("station discovery: expected exactly one station, got %d", n)
	}
	device := body.Body.Devices[0]
	modules := []models.StationModule{{
		MAC:     device.ID,
		Type:    "station",
		Battery: 100,
		Updated: models.Stamp(time.Unix(device.LastStatusStore, 0)),
	}}
	for _, m := range device.Modules {
		kind := ""
		for name, data := range catalogue {
			if data.ID == m.Type {
				kind = name
				break
			}
		}
		modules = append(modules, models.StationModule{
			MAC:     m.ID,
			Type:    kind,
			Battery: m.BatteryPercent,
			Updated: models.Stamp(time.Unix(m.LastMessage, 0)),
		})
	}
	if err := c.store.Set(ctx, []string{"settings", "netatmo", "modules"}, modules); err != nil {
		return err
	}
	if err := c.store.Set(ctx, []string{"settings", "netatmo", "user_mail"}, body.Body.User.Mail); err != nil {
		return err
	}
	log.Printf("TELEMETRY: netatmo station %s loaded with %d modules", device.ID, len(modules))
	return nil
}

// FetchData queries the measurement endpoint for every known module, for a
// window starting 30 minutes before t, and merges the returned vectors into
// the bucketed sample store. Per-module failures are collected and the
// remaining modules are still attempted; the aggregate error lists them all.
func (c *Client) FetchData(ctx context.Context, t time.Time) error {
	var modules []models.StationModule
	if _, err := c.store.Get(ctx, []string{"settings", "netatmo", "modules"}, &modules); err != nil {
		return err
	}
	if len(modules) == 0 {
		return ErrNotConfigured
	}
	station := modules[0]
	begin := t.Add(-30 * time.Minute).Unix()
	var errs []error
	for _, module := range modules {
		data, ok := catalogue[module.Type]
		if !ok {
			log.Printf("TELEMETRY: skipping module %s with unknown type %q", module.MAC, module.Type)
			continue
		}
		query := url.Values{
			"device_id":  {station.MAC},
			"scale":      {"30min"},
			"optimize":   {"false"},
			"date_begin": {fmt.Sprintf("%d", begin)},
			"type":       {strings.Join(data.Data, ",")},
		}
		if module.Type != "station" {
			query.Set("module_id", module.MAC)
		}
		var body struct {
			Body  map[string][]*float64 `json:"body"`
			Error *apiError             `json:"error"`
		}
		if err := c.get(ctx, "/api/getmeasure", query, &body); err != nil {
			errs = append(errs, fmt.Errorf("%s[%s]: %w", module.Type, module.MAC, err))
			continue
		}
		if body.Error != nil {
			errs = append(errs, body.Error.wrap(fmt.Sprintf("%s[%s]", module.Type, module.MAC)))
			continue
		}
		for ts, values := range body.Body {
			var seconds int64
			if _, err := fmt.Sscanf(ts, "%d", &seconds); err != nil {
				continue
			}
			if err := c.merge(ctx, seconds*1000, data, values); err != nil {
				errs = append(errs, fmt.Errorf("%s[%s]: merge: %w", module.Type, module.MAC, err))
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// merge unions the fetched vector into any existing bucket; existing fields
// are only ever added to, never removed.
func (c *Client) merge(ctx context.Context, millis int64, data moduleData, values []*float64) error {
	key := models.DataKey(millis)
	sample := models.Sample{}
	if _, err := c.store.Get(ctx, key, &sample); err != nil {
		return err
	}
	for i, name := range data.Data {
		if i >= len(values) {
			break
		}
		sample[name+data.Suffix] = values[i]
	}
	if err := c.store.Set(ctx, key, sample); err != nil {
		return err
	}
	c.bridge.PublishSample(millis, sample)
	return nil
}
