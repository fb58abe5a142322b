package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gardenia/internal/history"
	"gardenia/internal/models"
	"gardenia/internal/store"
)

func testClock() time.Time {
	return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *store.Memory, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	kv := store.NewMemory()
	c := NewClient(kv, history.New(kv), nil)
	c.baseURL = server.URL
	c.now = testClock
	return c, kv, server
}

func seedCredentials(t *testing.T, kv store.KV) {
	t.Helper()
	ctx := context.Background()
	for key, value := range map[string]string{
		"client_id": "id", "client_secret": "secret",
		"refresh_token": "old-refresh", "access_token": "access",
	} {
		if err := kv.Set(ctx, []string{"settings", "netatmo", key}, value); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestRefreshTokenPersistsPair(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "old-refresh" {
			t.Fatalf("unexpected form: %v", r.Form)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "new-access", "refresh_token": "new-refresh", "expires_in": 10800,
		})
	})
	c, kv, _ := newTestClient(t, mux)
	seedCredentials(t, kv)

	if err := c.RefreshToken(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	ctx := context.Background()
	var access, refresh string
	var expiration int64
	kv.Get(ctx, []string{"settings", "netatmo", "access_token"}, &access)
	kv.Get(ctx, []string{"settings", "netatmo", "refresh_token"}, &refresh)
	kv.Get(ctx, []string{"settings", "netatmo", "access_token_expiration"}, &expiration)
	if access != "new-access" || refresh != "new-refresh" {
		t.Fatalf("tokens not rotated: %q %q", access, refresh)
	}
	if expiration != testClock().UnixMilli()+10800*1000 {
		t.Fatalf("expiration %d", expiration)
	}
}

func TestRefreshTokenFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"error": "invalid_grant"})
	})
	c, kv, _ := newTestClient(t, mux)
	seedCredentials(t, kv)

	if err := c.RefreshToken(context.Background()); err == nil {
		t.Fatal("expected error on invalid_grant")
	}
}

func seedModules(t *testing.T, kv store.KV) {
	t.Helper()
	modules := []models.StationModule{
		{MAC: "70:ee:50:00:00:01", Type: "station"},
		{MAC: "02:00:00:00:00:01", Type: "module"},
	}
	if err := kv.Set(context.Background(), []string{"settings", "netatmo", "modules"}, modules); err != nil {
		t.Fatalf("seed modules: %v", err)
	}
}

func TestFetchDataMergesAndSuffixesOutdoor(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/getmeasure", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("module_id") == "" {
			json.NewEncoder(w).Encode(map[string]any{
				"body": map[string][]*float64{"1700000000": {fp(21.5), fp(50), fp(420), fp(1013), fp(38)}},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"body": map[string][]*float64{"1700000000": {fp(14.2), fp(80)}},
		})
	})
	c, kv, _ := newTestClient(t, mux)
	seedCredentials(t, kv)
	seedModules(t, kv)

	if err := c.FetchData(context.Background(), testClock()); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	var sample models.Sample
	found, err := kv.Get(context.Background(), models.DataKey(1700000000*1000), &sample)
	if err != nil || !found {
		t.Fatalf("bucket missing: found=%v err=%v", found, err)
	}
	if *sample["temperature"] != 21.5 || *sample["temperature_out"] != 14.2 {
		t.Fatalf("merge wrong: %+v", sample)
	}
	if *sample["humidity"] != 50 || *sample["humidity_out"] != 80 {
		t.Fatalf("outdoor suffix wrong: %+v", sample)
	}
}

func TestFetchDataPartialFailureStillMergesRest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/getmeasure", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("module_id") != "" {
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"code": 3, "message": "Access token expired"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"body": map[string][]*float64{"1700000000": {fp(21.5), fp(50), fp(420), fp(1013), fp(38)}},
		})
	})
	c, kv, _ := newTestClient(t, mux)
	seedCredentials(t, kv)
	seedModules(t, kv)

	err := c.FetchData(context.Background(), testClock())
	if err == nil {
		t.Fatal("expected aggregate error")
	}
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("aggregate error lost the sentinel: %v", err)
	}

	var sample models.Sample
	if found, _ := kv.Get(context.Background(), models.DataKey(1700000000*1000), &sample); !found {
		t.Fatal("healthy module's data was not merged")
	}
	if sample["temperature"] == nil || *sample["temperature"] != 21.5 {
		t.Fatalf("station data missing: %+v", sample)
	}
}

func TestFetchDataUnionsExistingBucket(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/getmeasure", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"body": map[string][]*float64{"1700000000": {fp(21.5), fp(50), fp(420), fp(1013), fp(38)}},
		})
	})
	c, kv, _ := newTestClient(t, mux)
	seedCredentials(t, kv)
	if err := kv.Set(context.Background(), []string{"settings", "netatmo", "modules"},
		[]models.StationModule{{MAC: "70:ee:50:00:00:01", Type: "station"}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := kv.Set(context.Background(), models.DataKey(1700000000*1000),
		models.Sample{"rain": fp(2.5)}); err != nil {
		t.Fatalf("seed bucket: %v", err)
	}

	if err := c.FetchData(context.Background(), testClock()); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	var sample models.Sample
	kv.Get(context.Background(), models.DataKey(1700000000*1000), &sample)
	if sample["rain"] == nil || *sample["rain"] != 2.5 {
		t.Fatalf("existing field lost on merge: %+v", sample)
	}
	if sample["temperature"] == nil {
		t.Fatalf("new field not merged: %+v", sample)
	}
}

func TestFetchDataWithoutModules(t *testing.T) {
	c, kv, _ := newTestClient(t, http.NewServeMux())
	seedCredentials(t, kv)
	if err := c.FetchData(context.Background(), testClock()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("got %v", err)
	}
}

func TestFetchStationRequiresExactlyOneDevice(t *testing.T) {
	devices := 2
	mux := http.NewServeMux()
	mux.HandleFunc("/api/getstationsdata", func(w http.ResponseWriter, r *http.Request) {
		list := make([]map[string]any, devices)
		for i := range list {
			list[i] = map[string]any{"_id": "70:ee:50:00:00:01", "last_status_store": 1700000000}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"body": map[string]any{"devices": list, "user": map[string]any{"mail": "o@example.com"}},
		})
	})
	c, kv, _ := newTestClient(t, mux)
	seedCredentials(t, kv)

	if err := c.FetchStation(context.Background()); err == nil {
		t.Fatal("two stations accepted")
	}
	devices = 1
	if err := c.FetchStation(context.Background()); err != nil {
		t.Fatalf("one station rejected: %v", err)
	}
	var modules []models.StationModule
	kv.Get(context.Background(), []string{"settings", "netatmo", "modules"}, &modules)
	if len(modules) != 1 || modules[0].Type != "station" || modules[0].Battery != 100 {
		t.Fatalf("modules: %+v", modules)
	}
}

func fp(v float64) *float64 { return &v }
