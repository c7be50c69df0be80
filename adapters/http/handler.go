// Package http serves the document API: every path below the server root is
// a stored document, addressed through HTTP verbs and selector ranges.
package http

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/alistaircroll/pagelove/app"
	"github.com/alistaircroll/pagelove/domain/request"
)

// maxBodyBytes bounds incoming representations.
const maxBodyBytes = 10 << 20 // 10MB

// DocumentHandler translates HTTP requests into engine operations.
type DocumentHandler struct {
	engine  *app.Engine
	logger  zerolog.Logger
	metrics app.Metrics
}

// NewDocumentHandler creates the document handler.
func NewDocumentHandler(engine *app.Engine, logger zerolog.Logger, metrics app.Metrics) *DocumentHandler {
	if metrics == nil {
		metrics = app.NopMetrics{}
	}
	return &DocumentHandler{
		engine:  engine,
		logger:  logger.With().Str("component", "http").Logger(),
		metrics: metrics,
	}
}

func (h *DocumentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// HEAD is never a permitted method, regardless of any rule.
	if r.Method == http.MethodHead {
		writeError(w, errPtr(request.ErrUnauthorized))
		return
	}

	sel, errResp := selectorRange(r)
	if errResp != nil {
		writeError(w, errResp)
		return
	}

	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			h.logger.Error().Err(err).Msg("failed to read request body")
			writeError(w, errPtr(request.ErrMalformed))
			return
		}
	}

	actor := ActorFrom(ctx)
	req := request.Request{
		Actor:    actor.Name,
		Admin:    actor.Admin,
		Method:   r.Method,
		Path:     r.URL.Path,
		Selector: sel,
		IfMatch:  r.Header.Get("If-Match"),
		Query:    r.URL.Query(),
		Body:     string(body),
		RemoteIP: extractIP(r),
		TraceID:  middleware.GetReqID(ctx),
	}

	switch r.Method {
	case http.MethodGet:
		resp, errResp := h.engine.Get(ctx, req)
		h.write(w, resp, errResp)
	case http.MethodPut:
		resp, errResp := h.engine.Put(ctx, req)
		h.write(w, resp, errResp)
	case http.MethodPost:
		resp, errResp := h.engine.Post(ctx, req)
		h.write(w, resp, errResp)
	case http.MethodDelete:
		resp, errResp := h.engine.Delete(ctx, req)
		h.write(w, resp, errResp)
	case http.MethodOptions:
		caps, errResp := h.engine.Capabilities(ctx, req)
		if errResp != nil {
			writeError(w, errResp)
			return
		}
		writeCapabilities(w, caps)
	default:
		writeError(w, &request.ErrorResponse{
			Status:  http.StatusMethodNotAllowed,
			Code:    "method_not_allowed",
			Message: "Documents speak GET, PUT, POST, DELETE and OPTIONS",
		})
	}
}

func (h *DocumentHandler) write(w http.ResponseWriter, resp request.Response, errResp *request.ErrorResponse) {
	if errResp != nil {
		writeError(w, errResp)
		return
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	if resp.ContentRange != "" {
		w.Header().Set("Content-Range", "selector "+resp.ContentRange)
	}
	if resp.ETag != "" {
		w.Header().Set("ETag", resp.ETag)
	}
	if resp.Location != "" {
		w.Header().Set("Location", resp.Location)
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		w.Write(resp.Body)
	}
}

// selectorRange extracts the selector from a Range header of the form
// "selector=<css-selector>". Absence means whole-document scope; any other
// range unit is rejected.
func selectorRange(r *http.Request) (string, *request.ErrorResponse) {
	raw := r.Header.Get("Range")
	if raw == "" {
		return "", nil
	}
	sel, ok := strings.CutPrefix(raw, "selector=")
	if !ok || strings.TrimSpace(sel) == "" {
		return "", &request.ErrorResponse{
			Status:  400,
			Code:    "invalid_range",
			Message: "Range must be of the form selector=<css-selector>",
		}
	}
	return strings.TrimSpace(sel), nil
}

// writeCapabilities renders the capability map as a 207 multipart/mixed
// response: one part per canonical selector, carrying Content-Range and
// Allow headers.
func writeCapabilities(w http.ResponseWriter, caps []app.Capability) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, c := range caps {
		header := textproto.MIMEHeader{}
		header.Set("Content-Range", "selector "+c.Selector)
		header.Set("Allow", strings.Join(c.Methods, ", "))
		if _, err := mw.CreatePart(header); err != nil {
			writeError(w, errPtr(request.ErrInternal))
			return
		}
	}
	if err := mw.Close(); err != nil {
		writeError(w, errPtr(request.ErrInternal))
		return
	}
	w.Header().Set("Content-Type", "multipart/mixed; boundary="+mw.Boundary())
	w.WriteHeader(http.StatusMultiStatus)
	w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, errResp *request.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errResp.Status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   errResp.Code,
		"message": errResp.Message,
	})
}

func errPtr(er request.ErrorResponse) *request.ErrorResponse {
	return &er
}

func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Liveness returns a simple liveness check.
func Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// RouterConfig tunes the HTTP surface.
type RouterConfig struct {
	RequestTimeout time.Duration
	Metrics        http.Handler // mounted at /_/metrics when set
}

// NewRouter assembles the server: operational endpoints under the reserved
// /_/ prefix, every other path handled as a document.
func NewRouter(docs *DocumentHandler, auth *BasicAuth, logger zerolog.Logger, cfg RouterConfig) chi.Router {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(docs.recordMetrics)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Route("/_", func(r chi.Router) {
		r.Get("/healthz", Liveness)
		if cfg.Metrics != nil {
			r.Handle("/metrics", cfg.Metrics)
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Handle("/*", docs)
	})

	return r
}

// requestLogger emits one structured line per request.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("range", r.Header.Get("Range")).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}

// recordMetrics tracks in-flight requests and counts finished ones by verb
// and status.
func (h *DocumentHandler) recordMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.metrics.RequestStarted()
		defer h.metrics.RequestFinished()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.metrics.RequestHandled(r.Method, ww.Status())
	})
}
