package actuator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// LocalBackend drives plugs directly over the LAN. The plug is addressed by
// MAC; the IP is resolved from the kernel ARP table, so the device must have
// been seen on the local segment recently.
type LocalBackend struct {
	arpPath string
	http    *http.Client
}

// NewLocalBackend creates a direct-drive backend.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{arpPath: "/proc/net/arp", http: &http.Client{Timeout: 15 * time.Second}}
}

func (l *LocalBackend) Apply(ctx context.Context, req Request) (*DeviceInfo, error) {
	if req.Credentials == nil {
		return nil, fmt.Errorf("plug %s: credentials required for direct control", req.Target.Module)
	}
	ip, err := l.resolveIP(req.Target.Module)
	if err != nil {
		return nil, err
	}
	plug := &plug{ip: ip, creds: *req.Credentials, http: l.http}
	switch req.Status {
	case "on":
		if err := plug.setState(ctx, true, 0); err != nil {
			return nil, err
		}
		if req.Duration > 0 {
			if err := plug.setState(ctx, false, req.Duration); err != nil {
				return nil, err
			}
		}
	case "off":
		if err := plug.setState(ctx, false, 0); err != nil {
			return nil, err
		}
	case "":
	default:
		return nil, fmt.Errorf("plug %s: bad status %q", req.Target.Module, req.Status)
	}
	return plug.info(ctx)
}

// resolveIP maps a MAC address to an IP via /proc/net/arp. Absence is a hard
// error so a mistyped MAC never silently drives the wrong device.
func (l *LocalBackend) resolveIP(mac string) (string, error) {
	f, err := os.Open(l.arpPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	want := strings.ToLower(mac)
	scanner := bufio.NewScanner(f)
	scanner.Scan() // header
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 4 && strings.ToLower(fields[3]) == want {
			return fields[0], nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("plug %s: not found in arp table", mac)
}

// plug is one addressable device on the LAN. Commands go through its local
// HTTP control endpoint; a delay schedules the state change on the device
// itself so it survives controller restarts.
type plug struct {
	ip    string
	creds Credentials
	http  *http.Client
}

func (p *plug) call(ctx context.Context, method string, params map[string]any, out any) error {
	payload, err := json.Marshal(map[string]any{
		"method":   method,
		"username": p.creds.Username,
		"password": p.creds.Password,
		"params":   params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+p.ip+"/app", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var body struct {
		ErrorCode int             `json:"error_code"`
		Result    json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}
	if body.ErrorCode != 0 {
		return fmt.Errorf("plug %s: device error %d", p.ip, body.ErrorCode)
	}
	if out != nil && body.Result != nil {
		return json.Unmarshal(body.Result, out)
	}
	return nil
}

func (p *plug) setState(ctx context.Context, on bool, delaySeconds int) error {
	if delaySeconds > 0 {
		return p.call(ctx, "add_countdown_rule", map[string]any{
			"desired_states": map[string]any{"on": on},
			"delay":          delaySeconds,
			"enable":         true,
		}, nil)
	}
	return p.call(ctx, "set_device_info", map[string]any{"device_on": on}, nil)
}

func (p *plug) info(ctx context.Context) (*DeviceInfo, error) {
	var info DeviceInfo
	if err := p.call(ctx, "get_device_info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
