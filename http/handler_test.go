package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/nsauth/datasrc/internal/builder"
	"github.com/nsauth/datasrc/internal/datasrc"
)

func setupTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	pub := datasrc.NewPublisher()
	bld, err := builder.New(pub, nil)
	if err != nil {
		t.Fatalf("builder.New: %v", err)
	}
	go bld.Run()
	go bld.RunWakeLoop()
	t.Cleanup(func() {
		bld.Submit(builder.Command{ID: builder.Shutdown})
	})

	srv := NewServer(ServerConfig{Listen: ":0", AuthToken: "test-token"}, bld)
	return srv.Engine()
}

func doRequest(router *gin.Engine, method, path string, body any, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		b, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(b)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v, body: %s", err, w.Body.String())
	}
	return resp
}

// --- Health & Status ---

func TestHealthEndpoint(t *testing.T) {
	router := setupTestRouter(t)
	w := doRequest(router, http.MethodGet, "/health", nil, "")

	if w.Code != 200 {
		t.Fatalf("GET /health status = %d, want 200", w.Code)
	}
	resp := parseResponse(t, w)
	if resp.Code != 0 {
		t.Errorf("response code = %d, want 0", resp.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	router := setupTestRouter(t)
	w := doRequest(router, http.MethodGet, "/status", nil, "")

	if w.Code != 200 {
		t.Fatalf("GET /status status = %d, want 200", w.Code)
	}
	resp := parseResponse(t, w)
	if resp.Code != 0 {
		t.Errorf("response code = %d, want 0", resp.Code)
	}
}

// --- Auth middleware ---

func TestAuthMiddleware_NoToken(t *testing.T) {
	router := setupTestRouter(t)
	w := doRequest(router, http.MethodPost, "/commands/reconfigure", map[string]any{}, "")

	if w.Code != 401 {
		t.Errorf("POST /commands/reconfigure without token status = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	router := setupTestRouter(t)
	w := doRequest(router, http.MethodPost, "/commands/reconfigure", map[string]any{}, "wrong-token")

	if w.Code != 401 {
		t.Errorf("POST /commands/reconfigure with wrong token status = %d, want 401", w.Code)
	}
}

// --- Reconfigure ---

func TestReconfigure_Empty(t *testing.T) {
	router := setupTestRouter(t)
	w := doRequest(router, http.MethodPost, "/commands/reconfigure", map[string]any{}, "test-token")

	// A payload missing the {classes, _generation_id} envelope is
	// swallowed, not raised: the request still succeeds, it just never
	// installs anything.
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200, body: %s", w.Code, w.Body.String())
	}
}

func TestReconfigure_UnknownClass(t *testing.T) {
	router := setupTestRouter(t)
	body := map[string]any{
		"classes":        map[string]any{"NOTACLASS": []any{}},
		"_generation_id": 0,
	}
	w := doRequest(router, http.MethodPost, "/commands/reconfigure", body, "test-token")

	// An unknown class name fails construction of the scratch map; per
	// the generation protocol this is swallowed too, keeping the
	// previous (here: empty) map and still returning success.
	if w.Code != 200 {
		t.Errorf("status = %d, want 200 (invalid class name is swallowed, not raised), body: %s", w.Code, w.Body.String())
	}
	resp := parseResponse(t, w)
	data, _ := resp.Data.(map[string]any)
	if pending, _ := data["pending"].(bool); pending {
		t.Errorf("pending = %v, want false", data["pending"])
	}
}

func TestReconfigure_StaleGeneration(t *testing.T) {
	router := setupTestRouter(t)
	body := map[string]any{
		"classes":        map[string]any{},
		"_generation_id": 0,
	}
	if w := doRequest(router, http.MethodPost, "/commands/reconfigure", body, "test-token"); w.Code != 200 {
		t.Fatalf("first reconfigure status = %d, want 200, body: %s", w.Code, w.Body.String())
	}

	w := doRequest(router, http.MethodPost, "/commands/reconfigure", body, "test-token")
	if w.Code != 200 {
		t.Errorf("repeated generation 0 status = %d, want 200 (rejected but not an error), body: %s", w.Code, w.Body.String())
	}
}

// --- LoadZone ---

func TestLoadZone_UnconfiguredClass(t *testing.T) {
	router := setupTestRouter(t)
	body := LoadZoneRequest{Class: "IN", Origin: "example.com."}
	w := doRequest(router, http.MethodPost, "/commands/loadzone", body, "test-token")

	if w.Code != 500 {
		t.Errorf("status = %d, want 500, body: %s", w.Code, w.Body.String())
	}
}

func TestLoadZone_MissingFields(t *testing.T) {
	router := setupTestRouter(t)
	w := doRequest(router, http.MethodPost, "/commands/loadzone", map[string]any{"class": "IN"}, "test-token")

	if w.Code != 400 {
		t.Errorf("status = %d, want 400, body: %s", w.Code, w.Body.String())
	}
}

// --- ReleaseSegments ---

func TestReleaseSegments(t *testing.T) {
	router := setupTestRouter(t)
	body := ReleaseSegmentsRequest{GenerationID: 1}
	w := doRequest(router, http.MethodPost, "/commands/release-segments", body, "test-token")

	if w.Code != 200 {
		t.Errorf("status = %d, want 200, body: %s", w.Code, w.Body.String())
	}
}

// --- Invalid JSON ---

func TestReconfigure_InvalidJSON(t *testing.T) {
	router := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/commands/reconfigure", bytes.NewBufferString("{bad json"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer test-token")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != 400 {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
