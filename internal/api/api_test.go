package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TheGojiOG/saveload/internal/auth"
	"github.com/TheGojiOG/saveload/internal/backup"
	"github.com/TheGojiOG/saveload/internal/config"
	"github.com/TheGojiOG/saveload/internal/logging"
	"github.com/TheGojiOG/saveload/internal/orchestrator"
	"github.com/TheGojiOG/saveload/internal/permissions"
	"github.com/TheGojiOG/saveload/internal/websocket"
)

type stubService struct {
	lastActor      string
	lastPrivileged bool
	lastText       string
	records        []backup.BackupRecord
}

func (s *stubService) Submit(ctx context.Context, actor string, privileged bool, text string) ([]orchestrator.Reply, error) {
	s.lastActor = actor
	s.lastPrivileged = privileged
	s.lastText = text
	return []orchestrator.Reply{{Level: "info", Text: "ok"}}, nil
}

func (s *stubService) Backups(ctx context.Context) ([]backup.BackupRecord, error) {
	return s.records, nil
}

func (s *stubService) RestoreStatus(ctx context.Context) (orchestrator.RestoreStatus, error) {
	return orchestrator.RestoreStatus{Phase: orchestrator.PhaseIdle}, nil
}

type nilActivity struct{}

func (nilActivity) Recent(q logging.ActivityQuery) ([]*logging.Activity, error) {
	return nil, logging.ErrNoDatabase
}

func setupRouter(t *testing.T, mutate ...func(cfg *config.Config)) (*gin.Engine, *stubService, *auth.JWTManager) {
	t.Helper()
	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.API.RateLimitPerMinute = 0
	for _, m := range mutate {
		m(cfg)
	}
	perms := permissions.New(cfg.Saveload.PermissionLevel, cfg.Operators, cfg.Server.OpsFile)

	service := &stubService{records: []backup.BackupRecord{{ID: "backup-1", CreatedAt: "2024-03-01 12:00:00", Actor: "alice", SizeBytes: 10}}}
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	router := SetupRouter(cfg, service, nilActivity{}, perms, jwtManager, websocket.NewHub())
	gin.SetMode(gin.TestMode)
	return router, service, jwtManager
}

func TestHealthIsPublic(t *testing.T) {
	router, _, _ := setupRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	router, _, _ := setupRouter(t)

	for _, path := range []string{"/api/v1/backups", "/api/v1/restore", "/api/v1/events", "/api/v1/activity"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, rec.Code)
		}
	}
}

func TestCommandCarriesTokenIdentity(t *testing.T) {
	router, service, jwtManager := setupRouter(t)
	token, err := jwtManager.GenerateToken("alice", true)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	body, _ := json.Marshal(map[string]string{"command": "backup nightly"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/commands", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if service.lastActor != "alice" || !service.lastPrivileged || service.lastText != "!sl backup nightly" {
		t.Fatalf("unexpected submission: %+v", service)
	}
}

func TestAnyoneLevelPrivilegesPlainTokens(t *testing.T) {
	submit := func(router *gin.Engine, token string) int {
		body, _ := json.Marshal(map[string]string{"command": "backup"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/commands", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	router, service, jwtManager := setupRouter(t, func(cfg *config.Config) {
		cfg.Saveload.PermissionLevel = config.PermissionAnyone
	})
	token, err := jwtManager.GenerateToken("dave", false)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	if code := submit(router, token); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if !service.lastPrivileged {
		t.Fatalf("permission_level anyone should privilege every token")
	}

	router, service, jwtManager = setupRouter(t)
	token, _ = jwtManager.GenerateToken("dave", false)
	submit(router, token)
	if service.lastPrivileged {
		t.Fatalf("a plain token must not be privileged at level op")
	}
}

func TestListBackupsIncludesIndex(t *testing.T) {
	router, _, jwtManager := setupRouter(t)
	token, _ := jwtManager.GenerateToken("bob", false)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/backups", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Backups []struct {
			Index int    `json:"index"`
			ID    string `json:"id"`
		} `json:"backups"`
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != 1 || resp.Backups[0].Index != 0 || resp.Backups[0].ID != "backup-1" {
		t.Fatalf("unexpected response: %s", rec.Body.String())
	}
}

func TestActivityWithoutDatabase(t *testing.T) {
	router, _, jwtManager := setupRouter(t)
	token, _ := jwtManager.GenerateToken("bob", false)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/activity", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rec.Code)
	}
}
