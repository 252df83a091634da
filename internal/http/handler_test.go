package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/davidbz/hostmeter/internal/config"
	"github.com/davidbz/hostmeter/internal/domain"
	hmhttp "github.com/davidbz/hostmeter/internal/http"
	"github.com/davidbz/hostmeter/internal/http/middleware"
	"github.com/davidbz/hostmeter/internal/observability"
)

// brokenStore fails every call.
type brokenStore struct{}

var errStoreDown = errors.New("store down")

func (brokenStore) Save(context.Context, *domain.ParamsSnapshot) error { return errStoreDown }

func (brokenStore) Latest(context.Context) (*domain.ParamsSnapshot, error) {
	return nil, errStoreDown
}

func (brokenStore) Get(context.Context, string) (*domain.ParamsSnapshot, error) {
	return nil, errStoreDown
}

func (brokenStore) List(context.Context) ([]string, error) { return nil, errStoreDown }

func budgetConfig() *config.BudgetConfig {
	return &config.BudgetConfig{CPULimit: 1_000_000, MemLimit: 1_000_000, ProtocolVersion: 22}
}

func newHandler(t *testing.T, store domain.ParamsStore) (*hmhttp.Handler, *prometheus.Registry) {
	t.Helper()

	reg := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(reg)
	require.NoError(t, err)
	return hmhttp.NewHandler(store, budgetConfig(), metrics), reg
}

func postCharge(t *testing.T, h *hmhttp.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/v1/charge", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.HandleCharge(w, req)
	return w
}

func TestHandleParams(t *testing.T) {
	t.Run("should return 404 when nothing is stored", func(t *testing.T) {
		h, _ := newHandler(t, domain.NewInMemoryParamsStore())

		w := httptest.NewRecorder()
		h.HandleParams(w, httptest.NewRequest(http.MethodGet, "/v1/params", nil))

		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("should return latest and named snapshots", func(t *testing.T) {
		ctx := context.Background()
		store := domain.NewInMemoryParamsStore()
		first := domain.NewParamsSnapshot(domain.DefaultParams(), 22, "aa", time.Now())
		second := domain.NewParamsSnapshot(domain.DefaultParams(), 22, "bb", time.Now())
		require.NoError(t, store.Save(ctx, first))
		require.NoError(t, store.Save(ctx, second))

		h, _ := newHandler(t, store)

		w := httptest.NewRecorder()
		h.HandleParams(w, httptest.NewRequest(http.MethodGet, "/v1/params", nil))
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var got domain.ParamsSnapshot
		require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
		require.Equal(t, second.RunID, got.RunID)
		require.Equal(t, domain.DefaultParams(), got.Params())

		w = httptest.NewRecorder()
		h.HandleParams(w, httptest.NewRequest(http.MethodGet, "/v1/params?run_id="+first.RunID.String(), nil))
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
		require.Equal(t, "aa", got.Seed)
	})

	t.Run("should surface store failures", func(t *testing.T) {
		h, _ := newHandler(t, brokenStore{})

		w := httptest.NewRecorder()
		h.HandleParams(w, httptest.NewRequest(http.MethodGet, "/v1/params", nil))

		require.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("should reject non-GET", func(t *testing.T) {
		h, _ := newHandler(t, domain.NewInMemoryParamsStore())

		w := httptest.NewRecorder()
		h.HandleParams(w, httptest.NewRequest(http.MethodPost, "/v1/params", nil))

		require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestHandleReport(t *testing.T) {
	store := domain.NewInMemoryParamsStore()
	snap := domain.NewParamsSnapshot(domain.DefaultParams(), 22, "cafe", time.Now())
	require.NoError(t, store.Save(context.Background(), snap))

	h, _ := newHandler(t, store)

	w := httptest.NewRecorder()
	h.HandleReport(w, httptest.NewRequest(http.MethodGet, "/v1/report", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	body := w.Body.String()
	require.Contains(t, body, snap.RunID.String())
	require.Contains(t, body, "ComputeSha256Hash")
	require.Contains(t, body, "Bls12381Pairing")
}

func TestHandleCharge(t *testing.T) {
	t.Run("should charge against the reference table when nothing is stored", func(t *testing.T) {
		h, reg := newHandler(t, domain.NewInMemoryParamsStore())

		w := postCharge(t, h, `{"charges":[
			{"cost_type":"MemCpy","input":10},
			{"cost_type":"MemCpy","iterations":2,"input":10},
			{"cost_type":"DispatchHostFunction","input":null}
		]}`)

		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "reference", w.Header().Get("X-Hostmeter-Params-Source"))

		var resp hmhttp.ChargeResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		require.Empty(t, resp.RunID)
		require.Nil(t, resp.Exceeded)
		require.Equal(t, uint64(52+94+310), resp.CPUConsumed)
		require.Equal(t, uint64(0), resp.MemConsumed)
		require.Equal(t, uint64(3), resp.MeterCount)
		require.Equal(t, domain.Limits{CPU: 1_000_000, Mem: 1_000_000}, resp.Limits)

		families, err := reg.Gather()
		require.NoError(t, err)
		require.NotEmpty(t, families)
	})

	t.Run("should charge zero iterations as sent", func(t *testing.T) {
		h, _ := newHandler(t, domain.NewInMemoryParamsStore())

		w := postCharge(t, h, `{"charges":[
			{"cost_type":"MemCpy","iterations":0,"input":10}
		]}`)

		require.Equal(t, http.StatusOK, w.Code)

		var resp hmhttp.ChargeResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		require.Nil(t, resp.Exceeded)
		require.Equal(t, uint64(10), resp.CPUConsumed)
		require.Equal(t, uint64(1), resp.MeterCount)
	})

	t.Run("should stop at the first refused charge", func(t *testing.T) {
		h, _ := newHandler(t, domain.NewInMemoryParamsStore())

		w := postCharge(t, h, `{"limits":{"cpu_limit":100,"mem_limit":100},"charges":[
			{"cost_type":"MemCpy","input":10},
			{"cost_type":"MemCpy","input":10},
			{"cost_type":"MemCpy","input":10}
		]}`)

		require.Equal(t, http.StatusOK, w.Code)

		var resp hmhttp.ChargeResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		require.Equal(t, uint64(52), resp.CPUConsumed)
		require.Equal(t, uint64(1), resp.MeterCount)
		require.NotNil(t, resp.Exceeded)
		require.Equal(t, 1, resp.Exceeded.Index)
		require.Equal(t, domain.MemCpy, resp.Exceeded.CostType)
		require.Equal(t, domain.DimensionCPU, resp.Exceeded.Dimension)
		require.Equal(t, uint64(100), resp.Exceeded.Limit)
		require.Equal(t, uint64(52), resp.Exceeded.Consumed)
		require.Equal(t, uint64(52), resp.Exceeded.Requested)
	})

	t.Run("should use the latest stored params", func(t *testing.T) {
		params := domain.DefaultParams()
		params[domain.MemCpy] = domain.CostModel{CPUConst: 1, CPULinear: 3, MemConst: 2}
		snap := domain.NewParamsSnapshot(params, 22, "aa", time.Now())

		store := domain.NewInMemoryParamsStore()
		require.NoError(t, store.Save(context.Background(), snap))
		h, _ := newHandler(t, store)

		w := postCharge(t, h, `{"charges":[{"cost_type":"MemCpy","input":10}]}`)

		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "store", w.Header().Get("X-Hostmeter-Params-Source"))

		var resp hmhttp.ChargeResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		require.Equal(t, snap.RunID.String(), resp.RunID)
		require.Equal(t, uint64(31), resp.CPUConsumed)
		require.Equal(t, uint64(2), resp.MemConsumed)
	})

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "malformed body", body: `{`, status: http.StatusBadRequest},
		{name: "unknown cost type", body: `{"charges":[{"cost_type":"Teleport"}]}`, status: http.StatusBadRequest},
		{name: "empty charge list", body: `{"charges":[]}`, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run("should reject "+tt.name, func(t *testing.T) {
			h, _ := newHandler(t, domain.NewInMemoryParamsStore())
			w := postCharge(t, h, tt.body)
			require.Equal(t, tt.status, w.Code)
		})
	}

	t.Run("should reject a cost type missing from the stored table", func(t *testing.T) {
		snap := domain.NewParamsSnapshot(domain.DefaultParams(), 20, "aa", time.Now())
		store := domain.NewInMemoryParamsStore()
		require.NoError(t, store.Save(context.Background(), snap))

		params := snap.Params()
		delete(params, domain.ComputeBlake3Hash)
		trimmed := domain.NewParamsSnapshot(params, 20, "bb", time.Now())
		require.NoError(t, store.Save(context.Background(), trimmed))

		h, _ := newHandler(t, store)
		w := postCharge(t, h, `{"charges":[{"cost_type":"ComputeBlake3Hash","input":32}]}`)

		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("should reject non-POST", func(t *testing.T) {
		h, _ := newHandler(t, domain.NewInMemoryParamsStore())

		w := httptest.NewRecorder()
		h.HandleCharge(w, httptest.NewRequest(http.MethodGet, "/v1/charge", nil))

		require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestServerRoutes(t *testing.T) {
	h, reg := newHandler(t, domain.NewInMemoryParamsStore())
	server := hmhttp.NewServer(
		&config.ServerConfig{Port: 0, ReadTimeout: 1, WriteTimeout: 1},
		h,
		middleware.BuildMiddlewareChain(&config.CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
		}),
		reg,
	)

	ts := httptest.NewServer(server.Routes())
	defer ts.Close()

	t.Run("should report health with trace headers", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Len(t, resp.Header.Get("X-Trace-Id"), 32)
		require.NotEmpty(t, resp.Header.Get("X-Request-Id"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Equal(t, "healthy", body["status"])
	})

	t.Run("should keep a caller trace id", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
		require.NoError(t, err)
		req.Header.Set("X-Trace-Id", strings.Repeat("ab", 16))

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, strings.Repeat("ab", 16), resp.Header.Get("X-Trace-Id"))
	})

	t.Run("should expose charge metrics", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/v1/charge", "application/json",
			bytes.NewBufferString(`{"charges":[{"cost_type":"MemCmp","input":4}]}`))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, err = http.Get(ts.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Contains(t, string(data), `hostmeter_charges_total{cost_type="MemCmp",outcome="ok"} 1`)
	})
}
