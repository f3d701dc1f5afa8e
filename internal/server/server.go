package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"piesta-gateway/internal/config"
	"piesta-gateway/internal/dispatch"
	"piesta-gateway/internal/fanout"
	"piesta-gateway/internal/models"
	"piesta-gateway/internal/provider"
	"piesta-gateway/internal/refine"
	"piesta-gateway/internal/router"
	"piesta-gateway/internal/store"
	"piesta-gateway/internal/trust"
)

const (
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	// Compare waits for the slowest target, so writes get the upstream
	// timeout plus headroom.
	writeTimeout = 150 * time.Second
	idleTimeout  = 120 * time.Second
)

// Credential headers accepted on every route that reaches an upstream.
const (
	HeaderChatKey        = "X-API-Key-OpenRouter"
	HeaderFalKey         = "X-API-Key-Fal"
	HeaderHuggingFaceKey = "X-API-Key-HuggingFace"
)

// Services are the components the HTTP layer exposes.
type Services struct {
	Router     *router.Router
	Dispatcher fanout.Dispatcher
	Fanout     *fanout.Orchestrator
	Refiner    *refine.Service
	Trust      *trust.Annotator
	History    *store.History
	// Credentials fill in keys the caller did not send.
	Credentials models.Credentials
}

type Server struct {
	cfg     config.Config
	svc     Services
	app     *echo.Echo
	address string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, svc Services) (*Server, error) {
	if svc.Router == nil {
		return nil, errors.New("router must not be nil")
	}
	if svc.Dispatcher == nil || svc.Fanout == nil {
		return nil, errors.New("dispatcher and fan-out orchestrator must not be nil")
	}
	if svc.Refiner == nil || svc.Trust == nil || svc.History == nil {
		return nil, errors.New("refiner, trust annotator and history must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = jsonErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))

	srv := &Server{
		cfg:     cfg,
		svc:     svc,
		app:     e,
		address: fmt.Sprintf(":%d", cfg.Server.Port),
	}

	srv.registerRoutes()

	return srv, nil
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port)
	slog.Info("starting server", "addr", s.address)

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: max(writeTimeout, s.cfg.Providers.Timeout*2),
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.app.GET("/v1/models", s.handleModels)
	s.app.POST("/v1/compare", s.handleCompare)
	s.app.POST("/v1/chat/completions", s.handleChatCompletions)
	s.app.POST("/v1/prompt/refine", s.handleRefine)
	s.app.POST("/v1/trust/check", s.handleTrustCheck)
	s.app.GET("/v1/chat/history", s.handleHistoryGet)
	s.app.POST("/v1/chat/history", s.handleHistoryPost)
	s.app.DELETE("/v1/chat/history", s.handleHistoryDelete)
}

// credentials resolves the keys for one call: explicit values first, then
// request headers, then the server defaults.
func (s *Server) credentials(c echo.Context, explicit models.Credentials) models.Credentials {
	h := c.Request().Header
	creds := explicit.Merge(models.Credentials{
		Chat:        h.Get(HeaderChatKey),
		Fal:         h.Get(HeaderFalKey),
		HuggingFace: h.Get(HeaderHuggingFaceKey),
	}).Merge(s.svc.Credentials)

	slog.Debug("credentials resolved",
		"chat_key_present", creds.Has(models.FamilyChat),
		"fal_key_present", creds.Has(models.FamilyFal),
		"huggingface_key_present", creds.Has(models.FamilyHuggingFace),
	)
	return creds
}

func decodeRequestBody[T any](c echo.Context, target *T, limit int64) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, limit)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    "invalid_request_error",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Type:    "invalid_request_error",
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    "invalid_request_error",
		}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
	Type    string
	Code    string
}

func (e requestError) Error() string {
	return e.Message
}

func badRequest(message string) requestError {
	return requestError{Status: http.StatusBadRequest, Message: message, Type: "invalid_request_error"}
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

func writeError(c echo.Context, status int, message, errType, code string) error {
	var payload errorBody
	payload.Error.Message = message
	payload.Error.Type = errType
	payload.Error.Code = code
	return c.JSON(status, payload)
}

func jsonErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Type, reqErr.Code)
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = writeError(c, he.Code, fmt.Sprint(he.Message), "invalid_request_error", "")
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "internal server error", "server_error", "")
}

// toHTTPError maps core errors onto statuses. Credential problems are the
// caller's to fix, so they surface as 401 with a stable code.
func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	var fbErr *dispatch.FallbackError
	if errors.As(err, &fbErr) {
		return requestError{
			Status:  http.StatusBadGateway,
			Message: err.Error(),
			Type:    "upstream_error",
			Code:    "FALLBACK_FAILED",
		}
	}

	if errors.Is(err, provider.ErrCredentialMissing) || errors.Is(err, dispatch.ErrNoCredentialsAvailable) {
		return requestError{
			Status:  http.StatusUnauthorized,
			Message: err.Error(),
			Type:    "authentication_error",
			Code:    "API_KEY_REQUIRED",
		}
	}

	var pErr *provider.Error
	if errors.As(err, &pErr) {
		return requestError{
			Status:  http.StatusBadGateway,
			Message: pErr.Message,
			Type:    "upstream_error",
			Code:    string(pErr.Cause),
		}
	}

	if errors.Is(err, fanout.ErrNoTargets) || errors.Is(err, refine.ErrEmptyPrompt) || errors.Is(err, store.ErrInvalidMessage) {
		return badRequest(err.Error())
	}
	if errors.Is(err, store.ErrNotFound) {
		return requestError{Status: http.StatusNotFound, Message: err.Error(), Type: "not_found_error"}
	}

	slog.Error("unhandled error", "error", err)
	return requestError{
		Status:  http.StatusInternalServerError,
		Message: "internal server error",
		Type:    "server_error",
	}
}

// startSSE commits the event-stream headers.
func startSSE(c echo.Context) (http.Flusher, error) {
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		slog.Error("http writer does not support flushing")
		return nil, requestError{
			Status:  http.StatusInternalServerError,
			Message: "server does not support streaming responses",
			Type:    "server_error",
		}
	}

	header := c.Response().Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")

	c.Response().WriteHeader(http.StatusOK)
	return flusher, nil
}

func writeSSEEvent(w io.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal SSE payload: %w", err)
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return fmt.Errorf("write SSE event name: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write SSE data: %w", err)
	}
	return nil
}

func printStartupBanner(port int) {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("piesta-gateway ready")
	fmt.Printf("Listening on http://%s:%d\n", host, port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET    /health")
	fmt.Println("  GET    /metrics")
	fmt.Println("  GET    /v1/models")
	fmt.Println("  POST   /v1/compare")
	fmt.Println("  POST   /v1/chat/completions")
	fmt.Println("  POST   /v1/prompt/refine")
	fmt.Println("  POST   /v1/trust/check")
	fmt.Println("  GET|POST|DELETE /v1/chat/history")
	fmt.Printf("Compare example:\n  curl http://%s:%d/v1/compare -H 'Content-Type: application/json' -d '{\"targets\":[\"openai/gpt-4o\",\"fal-ai/flux-dev\"],\"turns\":[{\"role\":\"user\",\"content\":\"a red fox\"}]}'\n\n", host, port)
}
