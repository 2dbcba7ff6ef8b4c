package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"sync"
	"time"

	"it8951ctl/internal/config"
	"it8951ctl/internal/it8951"
	appLog "it8951ctl/internal/log"
	"it8951ctl/internal/panel"
	"it8951ctl/internal/wire"
)

// maxImageBytes bounds uploaded images.
const maxImageBytes = 32 << 20

// Panel is the part of *panel.Session exposed over HTTP.
type Panel interface {
	Status() panel.Status
	Last() image.Image
	Show(img image.Image, mode it8951.DisplayMode) error
	Clear(mode it8951.DisplayMode) error
	Redraw() error
	Sleep() error
	Wake() error
	VCOM() (int, error)
	SetVCOM(mV int, persist bool) (int, error)
	Temperature() (it8951.Temperature, error)
	ForceTemperature(celsius int16) error
	CancelForcedTemperature() error
}

// Server provides the HTTP control API for the panel.
type Server struct {
	cfg   *config.Config
	panel Panel
	mux   *http.ServeMux

	// Temperature does not need sub-second precision; a short cache keeps
	// polling clients off the bus.
	tempMu    sync.RWMutex
	tempCache *tempCache
}

type tempCache struct {
	temp      it8951.Temperature
	updatedAt time.Time
}

const tempCacheTTL = 30 * time.Second

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, p Panel) *Server {
	s := &Server{
		cfg:   cfg,
		panel: p,
		mux:   http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured. An empty
// username or password disables it.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="it8951ctl", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve listens on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/device", s.handleDevice)
	s.mux.HandleFunc("GET /api/vcom", s.handleGetVCOM)
	s.mux.HandleFunc("POST /api/vcom", s.handleSetVCOM)
	s.mux.HandleFunc("GET /api/temperature", s.handleGetTemperature)
	s.mux.HandleFunc("POST /api/temperature", s.handleForceTemperature)
	s.mux.HandleFunc("DELETE /api/temperature", s.handleCancelTemperature)
	s.mux.HandleFunc("POST /api/clear", s.handleClear)
	s.mux.HandleFunc("POST /api/image", s.handleImage)
	s.mux.HandleFunc("POST /api/redraw", s.handleAction(Panel.Redraw, "redraw"))
	s.mux.HandleFunc("POST /api/sleep", s.handleAction(Panel.Sleep, "sleep"))
	s.mux.HandleFunc("POST /api/wake", s.handleAction(Panel.Wake, "wake"))
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleDevice(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.panel.Status())
}

type vcomRequest struct {
	VCOMmV  int  `json:"vcom_mv"`
	Persist bool `json:"persist"`
}

type vcomResponse struct {
	VCOMmV int `json:"vcom_mv"`
}

func (s *Server) handleGetVCOM(w http.ResponseWriter, _ *http.Request) {
	v, err := s.panel.VCOM()
	if err != nil {
		s.deviceError(w, "vcom read", err)
		return
	}
	writeJSON(w, http.StatusOK, vcomResponse{VCOMmV: v})
}

func (s *Server) handleSetVCOM(w http.ResponseWriter, r *http.Request) {
	var req vcomRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	got, err := s.panel.SetVCOM(req.VCOMmV, req.Persist)
	if err != nil {
		s.deviceError(w, "vcom write", err)
		return
	}
	appLog.Info("api vcom set", "want_mv", req.VCOMmV, "got_mv", got, "persist", req.Persist)
	writeJSON(w, http.StatusOK, vcomResponse{VCOMmV: got})
}

func (s *Server) handleGetTemperature(w http.ResponseWriter, _ *http.Request) {
	now := time.Now()
	s.tempMu.RLock()
	tc := s.tempCache
	s.tempMu.RUnlock()
	if tc != nil && now.Sub(tc.updatedAt) < tempCacheTTL {
		writeJSON(w, http.StatusOK, tc.temp)
		return
	}

	t, err := s.panel.Temperature()
	if err != nil {
		s.deviceError(w, "temperature read", err)
		return
	}
	s.tempMu.Lock()
	s.tempCache = &tempCache{temp: t, updatedAt: time.Now()}
	s.tempMu.Unlock()
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) invalidateTemperature() {
	s.tempMu.Lock()
	s.tempCache = nil
	s.tempMu.Unlock()
}

type temperatureRequest struct {
	Celsius *int `json:"celsius"`
}

func (s *Server) handleForceTemperature(w http.ResponseWriter, r *http.Request) {
	var req temperatureRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Celsius == nil || *req.Celsius < -128 || *req.Celsius > 127 {
		writeError(w, http.StatusBadRequest, "celsius must be between -128 and 127")
		return
	}
	if err := s.panel.ForceTemperature(int16(*req.Celsius)); err != nil {
		s.deviceError(w, "temperature force", err)
		return
	}
	s.invalidateTemperature()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelTemperature(w http.ResponseWriter, _ *http.Request) {
	if err := s.panel.CancelForcedTemperature(); err != nil {
		s.deviceError(w, "temperature cancel", err)
		return
	}
	s.invalidateTemperature()
	w.WriteHeader(http.StatusNoContent)
}

// modeParam reads ?mode=, falling back to def.
func modeParam(r *http.Request, def it8951.DisplayMode) (it8951.DisplayMode, error) {
	m := r.URL.Query().Get("mode")
	if m == "" {
		return def, nil
	}
	return it8951.ParseDisplayMode(m)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	mode, err := modeParam(r, it8951.ModeINIT)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.panel.Clear(mode); err != nil {
		s.deviceError(w, "clear", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) defaultMode() it8951.DisplayMode {
	if s.cfg != nil {
		if m, err := s.cfg.Mode(); err == nil {
			return m
		}
	}
	return it8951.ModeGC16
}

// handleImage displays a PNG or JPEG request body.
//
// POST /api/image?mode=GC16
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	mode, err := modeParam(r, s.defaultMode())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	img, format, err := image.Decode(http.MaxBytesReader(w, r.Body, maxImageBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode image: %v", err))
		return
	}
	appLog.Info("api image", "format", format, "size", img.Bounds().Size().String(), "mode", mode)
	if err := s.panel.Show(img, mode); err != nil {
		s.deviceError(w, "show", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAction(fn func(Panel) error, name string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := fn(s.panel); err != nil {
			s.deviceError(w, name, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handlePreview serves the last shown image as PNG.
func (s *Server) handlePreview(w http.ResponseWriter, _ *http.Request) {
	img := s.panel.Last()
	if img == nil {
		writeError(w, http.StatusNotFound, "nothing shown yet")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, img); err != nil {
		appLog.Error("failed to encode preview", err)
	}
}

// deviceError maps driver errors: argument problems are the client's fault,
// anything else is the panel's.
func (s *Server) deviceError(w http.ResponseWriter, op string, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, it8951.ErrInvalidValue),
		errors.Is(err, it8951.ErrInvalidColor),
		errors.Is(err, it8951.ErrOutOfBounds),
		errors.Is(err, it8951.ErrSizeMismatch),
		errors.Is(err, wire.ErrRange):
		status = http.StatusBadRequest
	case errors.Is(err, it8951.ErrDeviceNotResponding):
		status = http.StatusGatewayTimeout
	}
	appLog.Error("api "+op+" failed", err, "status", status)
	writeError(w, status, err.Error())
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
