package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sentriq/ipwatch/internal/blocklist"
	"github.com/sentriq/ipwatch/internal/findings"
	"github.com/sentriq/ipwatch/internal/httputil"
	"github.com/sentriq/ipwatch/internal/logging"
	"github.com/sentriq/ipwatch/internal/models"
	"github.com/sentriq/ipwatch/internal/report"
	"github.com/sentriq/ipwatch/internal/scan"
	"github.com/sentriq/ipwatch/internal/store"
	"github.com/sentriq/ipwatch/internal/tracker"
)

// Handler serves the admin and check API.
type Handler struct {
	tracker   *tracker.Tracker
	blocklist *blocklist.Cache
	sink      *findings.Sink
	orch      *scan.Orchestrator
	reporter  *report.Reporter
	logger    *logging.Logger
}

// NewHandler creates a Handler.
func NewHandler(tr *tracker.Tracker, bl *blocklist.Cache, sink *findings.Sink, orch *scan.Orchestrator, reporter *report.Reporter, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		tracker:   tr,
		blocklist: bl,
		sink:      sink,
		orch:      orch,
		reporter:  reporter,
		logger:    logger,
	}
}

// HealthCheck reports liveness.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type checkRequest struct {
	IP     string `json:"ip"`
	Path   string `json:"path"`
	UserID string `json:"user_id,omitempty"`
	Scope  string `json:"scope,omitempty"`
}

type checkResponse struct {
	Outcome    tracker.Outcome `json:"outcome"`
	RetryAfter float64         `json:"retry_after_seconds,omitempty"`
}

// Check runs the request path for one forwarded request. The fronting
// layer translates the outcome into its own 403/429 responses.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.tracker.Process(r.Context(), tracker.Request{
		IP:     req.IP,
		Path:   req.Path,
		UserID: req.UserID,
		Scope:  req.Scope,
	})
	if err != nil {
		if errors.Is(err, tracker.ErrInvalidIP) {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("check failed", "error", err)
		httputil.WriteError(w, http.StatusServiceUnavailable, "dependency unavailable")
		return
	}

	resp := checkResponse{Outcome: result.Outcome}
	if result.Outcome == tracker.OutcomeRateLimited {
		resp.RetryAfter = result.Decision.RetryAfter.Seconds()
	}
	status := http.StatusOK
	switch result.Outcome {
	case tracker.OutcomeBlocked:
		status = http.StatusForbidden
	case tracker.OutcomeRateLimited:
		status = http.StatusTooManyRequests
	}
	httputil.WriteJSON(w, status, resp)
}

type blockRequest struct {
	IP     string `json:"ip"`
	Reason string `json:"reason,omitempty"`
}

// Block adds an IP to the blocklist.
func (h *Handler) Block(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.IP == "" {
		httputil.WriteError(w, http.StatusBadRequest, "ip is required")
		return
	}

	if err := h.blocklist.Block(r.Context(), req.IP, req.Reason); err != nil {
		if errors.Is(err, store.ErrAlreadyBlocked) {
			httputil.WriteError(w, http.StatusConflict, "ip already blocked")
			return
		}
		h.logger.Error("block failed", "ip", req.IP, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to block ip")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"ip": req.IP, "status": "blocked"})
}

// Unblock removes an IP from the blocklist.
func (h *Handler) Unblock(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	if err := h.blocklist.Unblock(r.Context(), ip); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "ip not blocked")
			return
		}
		h.logger.Error("unblock failed", "ip", ip, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to unblock ip")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"ip": ip, "status": "unblocked"})
}

// ListBlocked returns the blocklist.
func (h *Handler) ListBlocked(w http.ResponseWriter, r *http.Request) {
	entries, err := h.blocklist.List(r.Context())
	if err != nil {
		h.logger.Error("list blocklist failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list blocklist")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"blocked": entries})
}

// ListFindings returns suspicion findings, active-only by default.
func (h *Handler) ListFindings(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") != "true"
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := h.sink.List(r.Context(), activeOnly, limit)
	if err != nil {
		h.logger.Error("list findings failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list findings")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"findings": list})
}

type deactivateRequest struct {
	IP     string `json:"ip"`
	Reason string `json:"reason"`
}

// DeactivateFinding clears an active finding.
func (h *Handler) DeactivateFinding(w http.ResponseWriter, r *http.Request) {
	var req deactivateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.IP == "" || req.Reason == "" {
		httputil.WriteError(w, http.StatusBadRequest, "ip and reason are required")
		return
	}

	if err := h.sink.Deactivate(r.Context(), req.IP, models.Reason(req.Reason)); err != nil {
		h.logger.Error("deactivate finding failed", "ip", req.IP, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to deactivate finding")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// RunScan triggers a scan. With ?async=true it is dispatched to the
// background; results are identical either way.
func (h *Handler) RunScan(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("async") == "true" {
		// Detach from the request context; the scan outlives the response.
		go func() {
			if _, err := h.orch.RunScan(context.Background()); err != nil {
				h.logger.Error("background scan failed", "error", err)
			}
		}()
		httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "scan dispatched"})
		return
	}

	stats, err := h.orch.RunScan(r.Context())
	if err != nil {
		h.logger.Error("scan failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "scan failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// Report returns a traffic summary over the trailing 24 hours.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	period := 24 * time.Hour
	if p := r.URL.Query().Get("period"); p != "" {
		if d, err := time.ParseDuration(p); err == nil && d > 0 {
			period = d
		}
	}

	rep, err := h.reporter.Generate(r.Context(), period)
	if err != nil {
		h.logger.Error("report failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to generate report")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rep)
}
