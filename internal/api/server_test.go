package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"liquidAgent/internal/chain"
	"liquidAgent/internal/history"
	"liquidAgent/internal/metrics"
	"liquidAgent/internal/model"
	"liquidAgent/internal/orchestrator"
	"liquidAgent/internal/vault"
)

type stubOrchestrator struct {
	status  model.Status
	outcome model.CycleOutcome
	err     error
}

func (s *stubOrchestrator) Status() model.Status { return s.status }

func (s *stubOrchestrator) Trigger(context.Context) (model.CycleOutcome, error) {
	return s.outcome, s.err
}

func newTestServer(t *testing.T, orch Orchestrator, ledger vault.Ledger) (*Server, *history.Store) {
	t.Helper()
	store := history.NewStore(5)
	return NewServer(":0", store, orch, ledger, metrics.New(), nil), store
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	rec := do(t, s, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"OK"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestObservationsLimit(t *testing.T) {
	s, store := newTestServer(t, nil, nil)
	for i := 0; i < 4; i++ {
		store.Snapshots.Append(model.NewMarketSnapshot(time.UnixMilli(int64(i)), nil, 0, nil))
	}

	rec := do(t, s, http.MethodGet, "/api/observations?limit=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []model.MarketSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].Timestamp != 3 || got[1].Timestamp != 2 {
		t.Fatalf("expected newest two snapshots, got %+v", got)
	}

	if rec := do(t, s, http.MethodGet, "/api/observations?limit=abc"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	s, store := newTestServer(t, nil, nil)
	store.Strategies.Append(model.AllocationStrategy{ID: "s1"})
	store.Executions.Append(model.ExecutionResult{StrategyID: "s1", Success: true})
	store.Cycles.Append(model.CycleOutcome{ID: "c1", Status: model.CycleSkipped})

	for _, path := range []string{"/api/strategies", "/api/executions", "/api/cycles"} {
		rec := do(t, s, http.MethodGet, path)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", path, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"s1"`) && !strings.Contains(rec.Body.String(), `"c1"`) {
			t.Fatalf("%s: unexpected body %s", path, rec.Body.String())
		}
	}
}

func TestStatus(t *testing.T) {
	orch := &stubOrchestrator{status: model.Status{State: model.StateRunning, Cycles: 3, Interval: "5m0s", MinConfidence: 0.7}}
	s, _ := newTestServer(t, orch, nil)

	rec := do(t, s, http.MethodGet, "/api/status")
	var got model.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.State != model.StateRunning || got.Cycles != 3 {
		t.Fatalf("unexpected status: %+v", got)
	}

	s, _ = newTestServer(t, nil, nil)
	if rec := do(t, s, http.MethodGet, "/api/status"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without orchestrator, got %d", rec.Code)
	}
}

func TestTriggerCycle(t *testing.T) {
	orch := &stubOrchestrator{outcome: model.CycleOutcome{ID: "c9", Status: model.CycleExecuted}}
	s, _ := newTestServer(t, orch, nil)

	rec := do(t, s, http.MethodPost, "/api/cycles")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got model.CycleOutcome
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "c9" {
		t.Fatalf("unexpected outcome: %+v", got)
	}

	orch.err = orchestrator.ErrCycleInProgress
	if rec := do(t, s, http.MethodPost, "/api/cycles"); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 while busy, got %d", rec.Code)
	}
}

func TestPendingProposals(t *testing.T) {
	agent, _ := chain.GenerateSigner()
	owner, _ := chain.GenerateSigner()
	ledger := vault.NewMemoryLedger(owner.Address(), agent.Address(), nil)
	pool := common.HexToAddress("0x1234567890123456789012345678901234567890")
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := ledger.Propose(ctx, agent, []common.Address{pool}, []uint64{10000}, "Portfolio rebalancing"); err != nil {
			t.Fatalf("propose: %v", err)
		}
	}
	if _, err := ledger.Execute(ctx, owner, 0); err != nil {
		t.Fatalf("execute: %v", err)
	}

	s, _ := newTestServer(t, nil, ledger)
	rec := do(t, s, http.MethodGet, "/api/proposals/pending")
	var got []model.Proposal
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("expected only proposal 1 pending, got %+v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	rec := do(t, s, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "liquid_agent_snapshots_total") {
		t.Fatalf("metrics body missing collector: %s", rec.Body.String())
	}
}
