package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jamesrr39/goutil/errorsx"
	"github.com/jamesrr39/goutil/logpkg"
	"github.com/jamesrr39/semaphore"
	"github.com/kiesman99/mapraster/internal/backend"
	"github.com/kiesman99/mapraster/internal/pipeline"
	"github.com/kiesman99/mapraster/internal/scene"
	"github.com/kiesman99/mapraster/pkg/frame"
	"github.com/kiesman99/mapraster/pkg/tile"
)

// Renderer is the part of the pipeline the server needs
type Renderer interface {
	Render(ctx context.Context, req pipeline.Request) (*pipeline.Result, errorsx.Error)
}

// Server serves the render API. Mount it under a prefix such as /api/v1.
type Server struct {
	startTime time.Time
	version   string
	renderer  Renderer
	renders   *semaphore.Semaphore
	logger    *logpkg.Logger
	chi.Router
}

// NewServer creates a new server instance. At most maxRenders renders run
// at once; further requests wait for a free slot.
func NewServer(version string, renderer Renderer, maxRenders uint, logger *logpkg.Logger) *Server {
	if maxRenders == 0 {
		maxRenders = 1
	}

	s := &Server{
		startTime: time.Now(),
		version:   version,
		renderer:  renderer,
		renders:   semaphore.NewSemaphore(maxRenders),
		logger:    logger,
		Router:    chi.NewRouter(),
	}

	s.Get("/health", s.GetHealth)
	s.Post("/render", s.CreateRender)

	return s
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    int       `json:"uptime"`
	Version   string    `json:"version"`
	Rendering int       `json:"rendering"`
}

// MapRequest is the map geometry of a render request
type MapRequest struct {
	Scale    float64 `json:"scale"`
	Rotation float64 `json:"rotation,omitempty"`
	WidthMM  float64 `json:"width_mm,omitempty"`
	HeightMM float64 `json:"height_mm,omitempty"`
	OriginX  float64 `json:"origin_x,omitempty"`
	OriginY  float64 `json:"origin_y,omitempty"`
}

// RenderRequest is the body of POST /render
type RenderRequest struct {
	SVG string `json:"svg"`
	// SceneDir resolves relative image references, on the server's filesystem
	SceneDir string     `json:"scene_dir,omitempty"`
	PPI      float64    `json:"ppi,omitempty"`
	Map      MapRequest `json:"map"`
	// Format is png (default) or tiff
	Format string `json:"format,omitempty"`
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// GetHealth implements the health check endpoint
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    int(time.Since(s.startTime).Seconds()),
		Version:   s.version,
		Rendering: s.renders.CurrentlyRunning(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("encoding health response: %s", err)
	}
}

// CreateRender renders the posted scene and replies with the raster. The
// world file travels base64 encoded in the X-World-File header.
func (s *Server) CreateRender(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())
	if requestID == "" {
		requestID = generateRequestID()
	}

	var body RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON in request body", "", requestID)
		return
	}

	req, err := convertToPipelineRequest(&body)
	if err != nil {
		s.handleRenderError(w, err, requestID)
		return
	}

	s.renders.Add()
	defer s.renders.Done()

	// the client may have gone while this request waited for a slot
	if err := r.Context().Err(); err != nil {
		s.handleRenderError(w, errorsx.Wrap(err), requestID)
		return
	}

	result, err := s.renderer.Render(r.Context(), req)
	if err != nil {
		s.handleRenderError(w, err, requestID)
		return
	}

	s.logger.Info("%s: rendered %dx%d px with %s", requestID, result.Width, result.Height, result.Backend)

	w.Header().Set("Content-Type", result.Format.ContentType())
	w.Header().Set("X-Request-ID", requestID)
	w.Header().Set("X-Pixel-Resolution", strconv.FormatFloat(result.Resolution, 'g', -1, 64))
	w.Header().Set("X-World-File", base64.StdEncoding.EncodeToString(result.WorldFileData))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.ImageData)))

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.ImageData); err != nil {
		s.logger.Warn("%s: writing response: %s", requestID, err)
	}
}

// convertToPipelineRequest converts an API request to a pipeline request
func convertToPipelineRequest(body *RenderRequest) (pipeline.Request, errorsx.Error) {
	format := tile.FormatPNG
	if body.Format != "" {
		var err error
		format, err = tile.ParseFormat(body.Format)
		if err != nil {
			return pipeline.Request{}, errorsx.Wrap(&pipeline.ValidationError{Field: "format", Message: err.Error()})
		}
	}

	return pipeline.Request{
		Scene:    []byte(body.SVG),
		SceneDir: body.SceneDir,
		Format:   format,
		PPI:      body.PPI,
		Map: pipeline.Map{
			Scale:    body.Map.Scale,
			Rotation: body.Map.Rotation,
			WidthMM:  body.Map.WidthMM,
			HeightMM: body.Map.HeightMM,
			OriginX:  body.Map.OriginX,
			OriginY:  body.Map.OriginY,
		},
	}, nil
}

// handleRenderError maps pipeline errors to status codes
func (s *Server) handleRenderError(w http.ResponseWriter, err errorsx.Error, requestID string) {
	status, code, field := classify(err)

	if status < 500 {
		s.logger.Warn("%s: %s", requestID, err.Error())
	} else {
		s.logger.Error("%s: %s. Stack trace:\n%s", requestID, err.Error(), err.Stack())
	}

	message := errorsx.Cause(err).Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
	}

	s.writeErrorResponse(w, status, code, message, field, requestID)
}

func classify(err errorsx.Error) (status int, code, field string) {
	cause := errorsx.Cause(err)

	switch e := cause.(type) {
	case *pipeline.ValidationError:
		return http.StatusBadRequest, "VALIDATION_ERROR", e.Field
	case *backend.NoBackendError:
		return http.StatusServiceUnavailable, "NO_BACKEND", ""
	case *backend.RenderFailure:
		if e.Timeout() {
			return http.StatusGatewayTimeout, "RENDER_TIMEOUT", ""
		}
		return http.StatusBadGateway, "RENDER_FAILED", ""
	case *frame.GeometryError:
		return http.StatusUnprocessableEntity, "INVALID_GEOMETRY", ""
	case *scene.MissingDataError:
		return http.StatusUnprocessableEntity, "MISSING_DATA", ""
	}

	if errors.Is(cause, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "RENDER_TIMEOUT", ""
	}
	if errors.Is(cause, context.Canceled) {
		return http.StatusServiceUnavailable, "CANCELLED", ""
	}

	return http.StatusInternalServerError, "INTERNAL_ERROR", ""
}

// writeErrorResponse writes a standard error response
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message, field, requestID string) {
	response := ErrorResponse{
		Error:     errorCode,
		Message:   message,
		Field:     field,
		RequestID: requestID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

// generateRequestID generates a unique request ID
func generateRequestID() string {
	return fmt.Sprintf("req_%d", time.Now().UnixNano())
}
