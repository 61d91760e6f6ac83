package httpserver

import (
	"bytes"
	"context"
	"errors"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tokligence/chatrelay/internal/auth"
	"github.com/tokligence/chatrelay/internal/graphql"
	"github.com/tokligence/chatrelay/internal/health"
	"github.com/tokligence/chatrelay/internal/ratelimit"
	"github.com/tokligence/chatrelay/internal/testutil"
	"github.com/tokligence/chatrelay/internal/upload"
	"github.com/tokligence/chatrelay/internal/userstore/sqlite"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) (*Server, *auth.Manager) {
	t.Helper()
	dir := t.TempDir()
	store, err := upload.NewLocalStore(dir, "/uploads")
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	users, err := sqlite.New(filepath.Join(dir, "users.db"))
	if err != nil {
		t.Fatalf("userstore: %v", err)
	}
	t.Cleanup(func() { _ = users.Close() })

	manager := auth.NewManager(testSecret)
	gql := graphql.NewHandler(&graphql.Resolver{Users: users})
	srv := New(gql, upload.NewService(store, 0), manager, auth.NewProvisioner(users, 0, nil))
	srv.SetUploadDir(dir)
	srv.SetAdapters([]string{"loopback"})
	return srv, manager
}

func doRequest(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func graphqlRequest(t *testing.T, query, token string) *http.Request {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"query": query})
	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv.Router(), httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var payload struct {
		Status   string   `json:"status"`
		Adapters []string `json:"adapters"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Status != "ok" || len(payload.Adapters) != 1 || payload.Adapters[0] != "loopback" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestReadyReportsUnhealthyStore(t *testing.T) {
	srv, _ := newTestServer(t)
	checker := health.New(health.Config{})
	checker.Add(health.Probe{Name: "users", Kind: health.KindDatabase, Check: func(context.Context) error {
		return errors.New("database is closed")
	}})
	srv.SetHealthChecker(checker)
	rec := doRequest(t, srv.Router(), httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "database is closed") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestMetricsExposed(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()
	doRequest(t, router, httptest.NewRequest(http.MethodGet, "/health", nil))
	rec := doRequest(t, router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "chatrelay_http_request_duration_seconds") {
		t.Fatalf("expected http request counter in metrics output")
	}
}

func TestAnonymousGraphQL(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv.Router(), graphqlRequest(t, `{ ping viewer { userId } }`, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"ping":"pong"`) || !strings.Contains(body, `"userId":null`) {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.SetAuthRequired(true)
	router := srv.Router()

	rec := doRequest(t, router, graphqlRequest(t, `{ ping }`, ""))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	rec = doRequest(t, router, graphqlRequest(t, `{ ping }`, "not-a-token"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}
	rec = doRequest(t, router, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health must stay public, got %d", rec.Code)
	}
}

func TestBearerTokenProvisionsViewer(t *testing.T) {
	srv, manager := newTestServer(t)
	srv.SetAuthRequired(true)
	token, err := manager.IssueToken(auth.Identity{UserID: "u-1", UserName: "Ada", Email: "ada@example.com"}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	rec := doRequest(t, srv.Router(), graphqlRequest(t, `{ viewer { userId email balance } }`, token))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Data struct {
			Viewer struct {
				UserID  string `json:"userId"`
				Email   string `json:"email"`
				Balance int64  `json:"balance"`
			} `json:"viewer"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Data.Viewer.UserID != "u-1" || payload.Data.Viewer.Email != "ada@example.com" {
		t.Fatalf("unexpected viewer %+v", payload.Data.Viewer)
	}
	if payload.Data.Viewer.Balance <= 0 {
		t.Fatalf("expected provisioned balance, got %d", payload.Data.Viewer.Balance)
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", strings.NewReader("GIF89a"))
	req.Header.Set("Content-Type", "image/gif")
	rec := doRequest(t, srv.Router(), req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["error"] != "Accepted formats: PNG, JPEG." {
		t.Fatalf("unexpected error %q", payload["error"])
	}
}

func TestUploadRejectsOversize(t *testing.T) {
	srv, _ := newTestServer(t)
	data := append(pngBytes(t), make([]byte, upload.DefaultLimit)...)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", bytes.NewReader(data))
	req.Header.Set("Content-Type", "image/png")
	rec := doRequest(t, srv.Router(), req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Max image size: 5MB") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestUploadStoresAndServesImage(t *testing.T) {
	srv, _ := newTestServer(t)
	server := testutil.NewIPv4Server(t, srv.Router())
	defer server.Close()

	data := pngBytes(t)
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/v1/uploads", bytes.NewReader(data))
	req.Header.Set("Content-Type", "image/png")
	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var result upload.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.ContentType != "image/png" || result.Size != int64(len(data)) {
		t.Fatalf("unexpected result %+v", result)
	}
	if !strings.HasPrefix(result.URL, "/uploads/") {
		t.Fatalf("unexpected url %q", result.URL)
	}

	get, err := server.Client().Get(server.URL + result.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	defer get.Body.Close()
	stored, _ := io.ReadAll(get.Body)
	if get.StatusCode != http.StatusOK || !bytes.Equal(stored, data) {
		t.Fatalf("stored image mismatch: status %d, %d bytes", get.StatusCode, len(stored))
	}
}

func TestRateLimitReturns429(t *testing.T) {
	srv, _ := newTestServer(t)
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Store:             ratelimit.NewMemoryStore(),
		RequestsPerSecond: 0.001,
		Burst:             1,
	})
	defer limiter.Close()
	srv.SetRateLimiter(limiter)
	router := srv.Router()

	if rec := doRequest(t, router, graphqlRequest(t, `{ ping }`, "")); rec.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", rec.Code)
	}
	rec := doRequest(t, router, graphqlRequest(t, `{ ping }`, ""))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"":               "",
		"Bearer abc":     "abc",
		"bearer  abc ":   "abc",
		"Basic dXNlcjpw": "",
	}
	for header, want := range cases {
		if got := bearerToken(header); got != want {
			t.Fatalf("bearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
