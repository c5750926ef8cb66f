package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dkeye/proximity/internal/config"
	"github.com/dkeye/proximity/internal/ice"
	"github.com/dkeye/proximity/internal/relay"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, servers []ice.Server) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	metrics := relay.NewMetrics(reg)
	cfg := &config.Config{
		Mode:       "test",
		Secret:     "test-secret",
		StaticPath: t.TempDir(),
		ICE:        config.ICEConfig{Servers: servers},
	}
	return SetupRouter(context.Background(), cfg, Deps{
		Hub:         relay.NewHub(relay.Options{}, nil, nil, metrics),
		Switchboard: relay.NewSwitchboard(relay.Options{}, metrics),
		Gatherer:    reg,
	})
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestICE_FiltersServers(t *testing.T) {
	r := newTestRouter(t, []ice.Server{
		{URLs: []string{"stun:stun.example.org:3478"}},
		{URLs: []string{"turn:turn.example.org:3478"}},
		{URLs: []string{"turns:turn.example.org:5349"}, Username: "u", Credential: "p"},
	})
	rec := do(r, httptest.NewRequest(http.MethodGet, "/ice", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []ice.Server
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "stun:stun.example.org:3478", got[0].URLs[0])
	assert.Equal(t, "u", got[1].Username)
}

func TestICE_EmptyIsArray(t *testing.T) {
	r := newTestRouter(t, nil)
	rec := do(r, httptest.NewRequest(http.MethodGet, "/ice", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestRooms_EmptyHub(t *testing.T) {
	r := newTestRouter(t, nil)
	rec := do(r, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestClientTokenCookie(t *testing.T) {
	r := newTestRouter(t, nil)
	rec := do(r, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var token string
	for _, c := range rec.Result().Cookies() {
		if c.Name == "ct" {
			token = c.Value
		}
	}
	require.NotEmpty(t, token)

	var me MeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, token, me.ClientToken)
	assert.True(t, strings.HasPrefix(me.Color, "#"))
}

func TestNickname_PersistsInSession(t *testing.T) {
	r := newTestRouter(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/nickname", strings.NewReader(`{"name":"  alice "}`))
	req.Header.Set("Content-Type", "application/json")
	rec := do(r, req)
	require.Equal(t, http.StatusOK, rec.Code)

	next := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	for _, c := range rec.Result().Cookies() {
		next.AddCookie(c)
	}
	rec = do(r, next)
	require.Equal(t, http.StatusOK, rec.Code)

	var me MeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "alice", me.Nickname)
}

func TestNickname_Rejects(t *testing.T) {
	r := newTestRouter(t, nil)
	for _, body := range []string{`not json`, `{"name":"` + strings.Repeat("x", 37) + `"}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/nickname", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		assert.Equal(t, http.StatusBadRequest, do(r, req).Code, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestRouter(t, nil)
	rec := do(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "proximity_relay_rooms")
}
