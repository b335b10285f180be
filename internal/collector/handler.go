package collector

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/Proton-105/clearity-bot/pkg/metrics"
)

const (
	maxBodyBytes   = 64 << 10
	successMessage = "Data saved successfully"
)

type reply struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Handler serves POST /submit.
type Handler struct {
	repo  Repository
	clock clockwork.Clock
	log   *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(repo Repository, clock clockwork.Clock, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Handler{repo: repo, clock: clock, log: log}
}

// Routes registers the collector endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.Handle("/submit", h)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		h.fail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		h.log.Warn("invalid submission body", slog.Any("error", err))
		metrics.RecordCollectorResponse("invalid")
		h.fail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	response := NewResponse(req, clientIP(r), h.clock.Now())
	if err := h.repo.Insert(r.Context(), response); err != nil {
		metrics.RecordCollectorResponse("error")
		h.fail(w, http.StatusInternalServerError, err.Error())
		return
	}

	metrics.RecordCollectorResponse("stored")
	h.log.Info("response stored", slog.Int64("id", response.ID))
	h.write(w, http.StatusOK, reply{Success: true, Message: successMessage})
}

func (h *Handler) fail(w http.ResponseWriter, status int, msg string) {
	h.write(w, status, reply{Success: false, Error: msg})
}

func (h *Handler) write(w http.ResponseWriter, status int, body reply) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		h.log.Warn("failed to write reply", slog.Any("error", err))
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
