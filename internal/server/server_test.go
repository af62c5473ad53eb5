package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jamesrr39/goutil/errorsx"
	"github.com/jamesrr39/goutil/logpkg"
	"github.com/kiesman99/mapraster/internal/backend"
	"github.com/kiesman99/mapraster/internal/pipeline"
	"github.com/kiesman99/mapraster/internal/scene"
	"github.com/kiesman99/mapraster/pkg/frame"
	"github.com/kiesman99/mapraster/pkg/tile"
)

const testSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="10mm" height="10mm"></svg>`

var pngSignature = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

type renderFunc func(ctx context.Context, req pipeline.Request) (*pipeline.Result, errorsx.Error)

func (f renderFunc) Render(ctx context.Context, req pipeline.Request) (*pipeline.Result, errorsx.Error) {
	return f(ctx, req)
}

// Test server setup
func setupTestServer(renderer Renderer) *httptest.Server {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))

	logger := logpkg.NewLogger(io.Discard, logpkg.LogLevelDebug)
	r.Mount("/api/v1", NewServer("2.0.0-test", renderer, 2, logger))

	return httptest.NewServer(r)
}

func postRender(t *testing.T, server *httptest.Server, request RenderRequest) *http.Response {
	t.Helper()

	jsonData, err := json.Marshal(request)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	resp, err := http.Post(server.URL+"/api/v1/render", "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	return resp
}

func decodeError(t *testing.T, resp *http.Response) ErrorResponse {
	t.Helper()

	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	return errResp
}

func failWith(err error) Renderer {
	return renderFunc(func(ctx context.Context, req pipeline.Request) (*pipeline.Result, errorsx.Error) {
		return nil, errorsx.Wrap(err)
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := setupTestServer(failWith(context.Canceled))
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", contentType)
	}

	var healthResp HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if healthResp.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got %s", healthResp.Status)
	}
	if healthResp.Version != "2.0.0-test" {
		t.Errorf("Expected version '2.0.0-test', got %s", healthResp.Version)
	}
	if healthResp.Uptime < 0 {
		t.Errorf("Expected valid uptime, got %d", healthResp.Uptime)
	}
	if time.Since(healthResp.Timestamp) > time.Minute {
		t.Errorf("Timestamp seems too old: %v", healthResp.Timestamp)
	}
}

func TestRenderEndpoint_Success(t *testing.T) {
	var got pipeline.Request
	renderer := renderFunc(func(ctx context.Context, req pipeline.Request) (*pipeline.Result, errorsx.Error) {
		got = req
		return &pipeline.Result{
			ImageData:     append(append([]byte{}, pngSignature...), "rest"...),
			WorldFileData: []byte("world\n"),
			Format:        tile.FormatPNG,
			Width:         118,
			Height:        118,
			PPI:           300,
			Resolution:    2.1166666666666667,
			Backend:       "stub",
		}, nil
	})

	server := setupTestServer(renderer)
	defer server.Close()

	resp := postRender(t, server, RenderRequest{
		SVG: testSVG,
		PPI: 300,
		Map: MapRequest{Scale: 25000, Rotation: 12.5, OriginX: 100, OriginY: 200},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 200, got %d. Body: %s", resp.StatusCode, string(body))
	}

	if contentType := resp.Header.Get("Content-Type"); contentType != "image/png" {
		t.Errorf("Expected Content-Type image/png, got %s", contentType)
	}

	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	if !bytes.HasPrefix(imageData, pngSignature) {
		t.Error("Response does not appear to be a valid PNG file")
	}

	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID header")
	}
	if res := resp.Header.Get("X-Pixel-Resolution"); res != "2.1166666666666667" {
		t.Errorf("Expected X-Pixel-Resolution 2.1166666666666667, got %s", res)
	}

	world, err := base64.StdEncoding.DecodeString(resp.Header.Get("X-World-File"))
	if err != nil {
		t.Fatalf("X-World-File is not base64: %v", err)
	}
	if string(world) != "world\n" {
		t.Errorf("Unexpected world file %q", world)
	}

	if string(got.Scene) != testSVG {
		t.Errorf("Scene was not passed through: %q", got.Scene)
	}
	if got.Map.Scale != 25000 || got.Map.Rotation != 12.5 || got.Map.OriginX != 100 || got.Map.OriginY != 200 {
		t.Errorf("Unexpected map %+v", got.Map)
	}
	if got.PPI != 300 || got.Format != tile.FormatPNG {
		t.Errorf("Unexpected ppi %g or format %v", got.PPI, got.Format)
	}
}

func TestRenderEndpoint_TIFF(t *testing.T) {
	var format tile.Format
	renderer := renderFunc(func(ctx context.Context, req pipeline.Request) (*pipeline.Result, errorsx.Error) {
		format = req.Format
		return &pipeline.Result{ImageData: []byte("II*\x00"), Format: req.Format}, nil
	})

	server := setupTestServer(renderer)
	defer server.Close()

	resp := postRender(t, server, RenderRequest{SVG: testSVG, Map: MapRequest{Scale: 1000}, Format: "tiff"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if format != tile.FormatTIFF {
		t.Errorf("Expected tiff to be requested, got %v", format)
	}
	if contentType := resp.Header.Get("Content-Type"); contentType != "image/tiff" {
		t.Errorf("Expected Content-Type image/tiff, got %s", contentType)
	}
}

func TestRenderEndpoint_InvalidJSON(t *testing.T) {
	server := setupTestServer(failWith(context.Canceled))
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/v1/render", "application/json", strings.NewReader(`{"svg": `))
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
	if errResp := decodeError(t, resp); errResp.Error != "INVALID_JSON" {
		t.Errorf("Expected error INVALID_JSON, got %s", errResp.Error)
	}
}

func TestRenderEndpoint_UnknownFormat(t *testing.T) {
	server := setupTestServer(failWith(context.Canceled))
	defer server.Close()

	resp := postRender(t, server, RenderRequest{SVG: testSVG, Map: MapRequest{Scale: 1000}, Format: "gif"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
	errResp := decodeError(t, resp)
	if errResp.Error != "VALIDATION_ERROR" || errResp.Field != "format" {
		t.Errorf("Unexpected error response %+v", errResp)
	}
}

func TestRenderEndpoint_ErrorStatus(t *testing.T) {
	testCases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &pipeline.ValidationError{Field: "scale", Message: "must be a positive number"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"no backend", &backend.NoBackendError{Tried: []string{"firefox", "chrome"}}, http.StatusServiceUnavailable, "NO_BACKEND"},
		{"render failure", &backend.RenderFailure{Backend: "chrome", Op: "capture", Message: "exited with status 3"}, http.StatusBadGateway, "RENDER_FAILED"},
		{"render timeout", &backend.RenderFailure{Backend: "electron", Op: "goto", Message: "no reply", Err: context.DeadlineExceeded}, http.StatusGatewayTimeout, "RENDER_TIMEOUT"},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "RENDER_TIMEOUT"},
		{"geometry", &frame.GeometryError{Width: 0, Height: 10, Reason: "frame size must be positive and finite"}, http.StatusUnprocessableEntity, "INVALID_GEOMETRY"},
		{"missing data", &scene.MissingDataError{References: []string{"relief.png"}}, http.StatusUnprocessableEntity, "MISSING_DATA"},
		{"other", os.ErrPermission, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := setupTestServer(failWith(tc.err))
			defer server.Close()

			resp := postRender(t, server, RenderRequest{SVG: testSVG, Map: MapRequest{Scale: 1000}})
			defer resp.Body.Close()

			if resp.StatusCode != tc.status {
				t.Errorf("Expected status %d, got %d", tc.status, resp.StatusCode)
			}

			errResp := decodeError(t, resp)
			if errResp.Error != tc.code {
				t.Errorf("Expected error %s, got %s", tc.code, errResp.Error)
			}
			if errResp.RequestID == "" {
				t.Error("Expected request_id in error response")
			}
		})
	}
}

func TestRenderEndpoint_MissingDataMessage(t *testing.T) {
	server := setupTestServer(failWith(&scene.MissingDataError{References: []string{"relief.png"}}))
	defer server.Close()

	resp := postRender(t, server, RenderRequest{SVG: testSVG, Map: MapRequest{Scale: 1000}})
	defer resp.Body.Close()

	if errResp := decodeError(t, resp); !strings.Contains(errResp.Message, "relief.png") {
		t.Errorf("Expected the missing reference in the message, got %q", errResp.Message)
	}
}

func TestRenderEndpoint_WithPipeline(t *testing.T) {
	registry := backend.NewRegistry()
	registry.LookPath = func(file string) (string, error) { return "", os.ErrNotExist }
	registry.Register("firefox", backend.Firefox, "firefox")

	p, err := pipeline.New(pipeline.Config{}, registry, logpkg.NewLogger(io.Discard, logpkg.LogLevelDebug))
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	server := setupTestServer(p)
	defer server.Close()

	// scale is missing
	resp := postRender(t, server, RenderRequest{SVG: testSVG})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400 for a missing scale, got %d", resp.StatusCode)
	}

	resp = postRender(t, server, RenderRequest{SVG: testSVG, Map: MapRequest{Scale: 25000}})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 without a backend, got %d", resp.StatusCode)
	}
	if errResp := decodeError(t, resp); !strings.Contains(errResp.Message, "--backend-path") {
		t.Errorf("Expected a remediation hint, got %q", errResp.Message)
	}
}

func TestRenderEndpoint_ClientGoneWhileQueued(t *testing.T) {
	called := false
	renderer := renderFunc(func(ctx context.Context, req pipeline.Request) (*pipeline.Result, errorsx.Error) {
		called = true
		return &pipeline.Result{}, nil
	})

	s := NewServer("2.0.0-test", renderer, 1, logpkg.NewLogger(io.Discard, logpkg.LogLevelDebug))

	body, err := json.Marshal(RenderRequest{SVG: testSVG, Map: MapRequest{Scale: 1000}})
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/render", bytes.NewReader(body)).WithContext(ctx)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if called {
		t.Error("Expected no render for a cancelled request")
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", rec.Code)
	}
	if running := s.renders.CurrentlyRunning(); running != 0 {
		t.Errorf("Expected the render slot to be released, %d still held", running)
	}
}
