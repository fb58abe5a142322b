package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"gardenia/auth"
	"gardenia/internal/history"
	"gardenia/internal/models"
	"gardenia/internal/store"
	"gardenia/internal/web/middleware"

	"github.com/gin-gonic/gin"
)

type recordingPlugs struct {
	calls []struct {
		Target   models.Target
		Status   string
		Duration int
	}
}

func (p *recordingPlugs) Apply(ctx context.Context, target models.Target, status string, duration int) error {
	p.calls = append(p.calls, struct {
		Target   models.Target
		Status   string
		Duration int
	}{target, status, duration})
	return nil
}

func newAutomationRouter(t *testing.T) (*gin.Engine, *store.Memory, *recordingPlugs, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	kv := store.NewMemory()
	hist := history.New(kv)
	authModule := auth.NewAuthModule(kv, nil, hist, "test-secret")
	if err := authModule.CreateUser(context.Background(), models.User{Username: "alice", GrantAutomation: true}, "pw"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := authModule.GenerateJWT("alice")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	plugs := &recordingPlugs{}
	router := gin.New()
	RegisterAutomationRoutes(router, kv, hist, plugs, middleware.NewMiddlewareManager(kv, authModule))
	return router, kv, plugs, token
}

func putTargetRequest(t *testing.T, router *gin.Engine, token, name string, target models.Target) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(target)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPut, "/api/automation/targets/"+name, bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestDisableTransitionForcesOff(t *testing.T) {
	router, kv, plugs, token := newAutomationRouter(t)
	ctx := context.Background()
	if err := kv.Set(ctx, []string{"automation", "targets", "pump"},
		models.Target{Name: "pump", Module: "aa:bb:cc:dd:ee:ff"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := putTargetRequest(t, router, token, "pump",
		models.Target{Icon: "water", Module: "aa:bb:cc:dd:ee:ff", Disabled: true})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if len(plugs.calls) != 1 {
		t.Fatalf("expected exactly one forced off, got %d calls", len(plugs.calls))
	}
	call := plugs.calls[0]
	if call.Status != "off" || call.Duration != 0 {
		t.Fatalf("forced command: status=%q duration=%d", call.Status, call.Duration)
	}
	if call.Target.Module != "aa:bb:cc:dd:ee:ff" || call.Target.Disabled {
		t.Fatalf("command must carry the enabled copy of the target: %+v", call.Target)
	}

	var stored models.Target
	if _, err := kv.Get(ctx, []string{"automation", "targets", "pump"}, &stored); err != nil {
		t.Fatalf("get: %v", err)
	}
	if !stored.Disabled {
		t.Fatal("disable not persisted")
	}
}

func TestDisableAlreadyDisabledTargetIsNoOp(t *testing.T) {
	router, kv, plugs, token := newAutomationRouter(t)
	if err := kv.Set(context.Background(), []string{"automation", "targets", "pump"},
		models.Target{Name: "pump", Module: "aa:bb:cc:dd:ee:ff", Disabled: true}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := putTargetRequest(t, router, token, "pump",
		models.Target{Module: "aa:bb:cc:dd:ee:ff", Disabled: true})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if len(plugs.calls) != 0 {
		t.Fatalf("already-disabled target received a command: %+v", plugs.calls)
	}
}

func TestDisableCameraTargetSkipsOff(t *testing.T) {
	router, kv, plugs, token := newAutomationRouter(t)
	if err := kv.Set(context.Background(), []string{"automation", "targets", "cam"},
		models.Target{Name: "cam", Module: models.CameraModule}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := putTargetRequest(t, router, token, "cam",
		models.Target{Module: models.CameraModule, Disabled: true})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if len(plugs.calls) != 0 {
		t.Fatalf("camera pseudo-target received a plug command: %+v", plugs.calls)
	}
}
