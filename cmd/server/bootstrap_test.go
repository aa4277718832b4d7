package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quellen-dev/lobbyd/internal/app"
)

func defaultTestConfig(t *testing.T) *app.Config {
	t.Helper()
	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)
	return cfg
}

func TestBootstrapRuntimeServesLobby(t *testing.T) {
	cfg := defaultTestConfig(t)

	stack, err := bootstrapRuntime(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = stack.Shutdown(shutdownCtx)
	})

	srv := httptest.NewServer(stack.Router)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// A player joins over the websocket and shows up in the admin roster.
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","name":"alice"}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var welcome struct {
		Type     string `json:"type"`
		ClientID uint64 `json:"client_id"`
		PlayerID string `json:"player_id"`
	}
	require.NoError(t, json.Unmarshal(payload, &welcome))
	require.Equal(t, "welcome", welcome.Type)
	require.NotEmpty(t, welcome.PlayerID)

	resp, err = http.Get(srv.URL + "/api/roster")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var roster struct {
		Meta struct {
			Total int `json:"total"`
		} `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&roster))
	require.Equal(t, 1, roster.Meta.Total)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, stack.Shutdown(shutdownCtx))
	require.Zero(t, stack.Table.Len())
}

func TestBootstrapRuntimeAutoStart(t *testing.T) {
	cfg := defaultTestConfig(t)
	cfg.Session.AutoStart = true
	cfg.Maintenance.Enabled = false

	stack, err := bootstrapRuntime(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = stack.Shutdown(context.Background()) })

	require.True(t, stack.Table.SessionActive())
}

func TestBootstrapRuntimeDefaultsToReleaseMode(t *testing.T) {
	t.Setenv("GIN_DEBUG", "")

	cfg := defaultTestConfig(t)
	cfg.Maintenance.Enabled = false

	stack, err := bootstrapRuntime(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = stack.Shutdown(context.Background()) })

	require.Equal(t, gin.ReleaseMode, gin.Mode())
}

func TestBootstrapRuntimeBadSchedule(t *testing.T) {
	cfg := defaultTestConfig(t)
	cfg.Maintenance.Schedule = "definitely not cron"

	_, err := bootstrapRuntime(cfg, zap.NewNop())
	require.Error(t, err)
}

func TestLoadApplicationConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9999\n"), 0o600))

	cfg, err := loadApplicationConfig(dir)
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.Server.Port)

	// Pointing at the file itself resolves to its directory.
	cfg, err = loadApplicationConfig(path)
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.Server.Port)

	_, err = loadApplicationConfig(filepath.Join(dir, "missing"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not exist")
}

func TestRunHelp(t *testing.T) {
	err := run(context.Background(), []string{"-h"})
	require.ErrorIs(t, err, flag.ErrHelp)
}
