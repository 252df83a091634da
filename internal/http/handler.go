package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/davidbz/hostmeter/internal/budget"
	"github.com/davidbz/hostmeter/internal/config"
	"github.com/davidbz/hostmeter/internal/domain"
	"github.com/davidbz/hostmeter/internal/observability"
	"github.com/davidbz/hostmeter/internal/report"
)

const (
	paramsSourceHeader = "X-Hostmeter-Params-Source"
	paramsSourceStore  = "store"
	paramsSourceRef    = "reference"

	outcomeOK = "ok"
)

// ChargeItem is one charge of a simulation request. An absent Iterations is
// billed as a single charge; an explicit zero is charged as sent, which
// bills only the input-dependent term.
type ChargeItem struct {
	CostType   domain.CostType `json:"cost_type"`
	Iterations *uint64         `json:"iterations,omitempty"`
	Input      domain.Input    `json:"input"`
}

// IterationsOrOne returns the requested iteration count, one when absent.
func (c ChargeItem) IterationsOrOne() uint64 {
	if c.Iterations == nil {
		return 1
	}
	return *c.Iterations
}

// ChargeRequest replays a sequence of charges against a fresh Budget.
type ChargeRequest struct {
	Limits  *domain.Limits `json:"limits,omitempty"`
	Charges []ChargeItem   `json:"charges"`
}

// ChargeRefusal describes the charge that exhausted the budget.
type ChargeRefusal struct {
	Index     int              `json:"index"`
	CostType  domain.CostType  `json:"cost_type"`
	Dimension domain.Dimension `json:"dimension"`
	Limit     uint64           `json:"limit"`
	Consumed  uint64           `json:"consumed"`
	Requested uint64           `json:"requested"`
}

// ChargeResponse is the ledger state after a simulation.
type ChargeResponse struct {
	RunID       string         `json:"run_id,omitempty"`
	Limits      domain.Limits  `json:"limits"`
	CPUConsumed uint64         `json:"cpu_consumed"`
	MemConsumed uint64         `json:"mem_consumed"`
	MeterCount  uint64         `json:"meter_count"`
	Exceeded    *ChargeRefusal `json:"exceeded,omitempty"`
}

// Handler serves the calibrated cost tables.
type Handler struct {
	store   domain.ParamsStore
	budget  *config.BudgetConfig
	metrics *observability.Metrics
}

// NewHandler creates a new HTTP handler (DI constructor).
func NewHandler(store domain.ParamsStore, cfg *config.BudgetConfig, metrics *observability.Metrics) *Handler {
	return &Handler{
		store:   store,
		budget:  cfg,
		metrics: metrics,
	}
}

// HandleParams returns the latest snapshot, or the one named by ?run_id=.
func (h *Handler) HandleParams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	snap, err := h.lookup(ctx, r.URL.Query().Get("run_id"))
	if err != nil {
		h.writeLookupError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, snap)
}

// HandleReport renders a snapshot as a text table.
func (h *Handler) HandleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	snap, err := h.lookup(ctx, r.URL.Query().Get("run_id"))
	if err != nil {
		h.writeLookupError(ctx, w, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteSnapshot(&buf, snap); err != nil {
		observability.FromContext(ctx).Error("report rendering failed", observability.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// HandleCharge replays the requested charges against a Budget built from the
// latest params. The reference table is used when nothing has been stored.
func (h *Handler) HandleCharge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Charges) == 0 {
		http.Error(w, "no charges given", http.StatusBadRequest)
		return
	}

	limits := domain.Limits{CPU: h.budget.CPULimit, Mem: h.budget.MemLimit}
	if req.Limits != nil {
		limits = *req.Limits
	}

	params := domain.DefaultParams()
	version := domain.ProtocolVersion(h.budget.ProtocolVersion)
	source := paramsSourceRef
	var runID string

	snap, err := h.store.Latest(ctx)
	switch {
	case err == nil:
		params = snap.Params()
		version = snap.Protocol
		source = paramsSourceStore
		runID = snap.RunID.String()
		ctx = observability.WithRunID(ctx, runID)
	case errors.Is(err, domain.ErrSnapshotNotFound):
	default:
		observability.FromContext(ctx).Error("params lookup failed", observability.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	logger := observability.FromContext(ctx)

	b, err := budget.New(params, limits, version)
	if err != nil {
		logger.Error("stored params rejected", observability.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := ChargeResponse{RunID: runID, Limits: limits}
	for i, item := range req.Charges {
		chargeErr := b.BulkCharge(item.CostType, item.IterationsOrOne(), item.Input)
		if chargeErr == nil {
			h.metrics.ObserveCharge(item.CostType.String(), outcomeOK)
			continue
		}

		var exceeded *domain.BudgetExceededError
		if !errors.As(chargeErr, &exceeded) {
			http.Error(w, fmt.Sprintf("charge %d: %v", i, chargeErr), http.StatusUnprocessableEntity)
			return
		}

		h.metrics.ObserveCharge(item.CostType.String(), string(exceeded.Dimension))
		resp.Exceeded = &ChargeRefusal{
			Index:     i,
			CostType:  exceeded.CostType,
			Dimension: exceeded.Dimension,
			Limit:     exceeded.Limit,
			Consumed:  exceeded.Consumed,
			Requested: exceeded.Requested,
		}
		break
	}

	resp.CPUConsumed = b.CPUConsumed()
	resp.MemConsumed = b.MemConsumed()
	resp.MeterCount = b.MeterCount()

	logger.Info("charge simulation finished",
		observability.Int("charges", len(req.Charges)),
		observability.Uint64("cpu_consumed", resp.CPUConsumed),
		observability.Uint64("mem_consumed", resp.MemConsumed),
		observability.Bool("exceeded", resp.Exceeded != nil),
	)

	w.Header().Set(paramsSourceHeader, source)
	writeJSON(ctx, w, http.StatusOK, resp)
}

// HandleHealth handles health check requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	}); err != nil {
		// Already written status, can't change it, just log.
		return
	}
}

func (h *Handler) lookup(ctx context.Context, runID string) (*domain.ParamsSnapshot, error) {
	if runID == "" {
		return h.store.Latest(ctx)
	}
	return h.store.Get(ctx, runID)
}

func (h *Handler) writeLookupError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrSnapshotNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	observability.FromContext(ctx).Error("params lookup failed", observability.Error(err))
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observability.FromContext(ctx).Error("failed to encode response", observability.Error(err))
	}
}
