package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/retail-insights/backend/internal/engine"
	"github.com/retail-insights/backend/internal/executor"
	"github.com/retail-insights/backend/internal/fault"
	"github.com/retail-insights/backend/internal/storage/models"
)

type memStore struct {
	mu       sync.Mutex
	requests map[string]*models.Request
	queries  []*models.GeneratedQuery
	insights []*models.Insight
	statuses []models.RequestStatus
}

func newMemStore() *memStore {
	return &memStore{requests: make(map[string]*models.Request)}
}

func (s *memStore) SaveRequest(ctx context.Context, req *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *memStore) UpdateRequestStatus(ctx context.Context, requestID string, status models.RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	if req, ok := s.requests[requestID]; ok {
		req.Status = status
	}
	return nil
}

func (s *memStore) MarkRequestFailed(ctx context.Context, requestID, stage, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, models.StatusFailed)
	if req, ok := s.requests[requestID]; ok {
		req.Status = models.StatusFailed
		req.FailureStage = stage
		req.FailureReason = reason
	}
	return nil
}

func (s *memStore) SaveGeneratedQuery(ctx context.Context, q *models.GeneratedQuery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	return nil
}

func (s *memStore) SaveInsight(ctx context.Context, insight *models.Insight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insights = append(s.insights, insight)
	return nil
}

func (s *memStore) GetRequest(ctx context.Context, requestID string) (*models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("request %s not found", requestID)
	}
	cp := *req
	return &cp, nil
}

type stubGenerator struct {
	query *models.GeneratedQuery
	err   error
	calls int
}

func (g *stubGenerator) Generate(ctx context.Context, req *models.Request) (*models.GeneratedQuery, error) {
	g.calls++
	return g.query, g.err
}

type stubExecutor struct {
	exec   *models.QueryExecution
	result *executor.Result
	err    error
	calls  int
}

func (e *stubExecutor) Execute(ctx context.Context, q *models.GeneratedQuery) (*models.QueryExecution, *executor.Result, error) {
	e.calls++
	return e.exec, e.result, e.err
}

type stubSummarizer struct {
	insight *models.Insight
	err     error
	calls   int
}

func (s *stubSummarizer) Summarize(ctx context.Context, req *models.Request, exec *models.QueryExecution, result *executor.Result) (*models.Insight, error) {
	s.calls++
	return s.insight, s.err
}

type stubDispatcher struct {
	mu          sync.Mutex
	insightErr  error
	failureErr  error
	insights    int
	failures    int
	lastReport  *models.FailureReport
	lastInsight *models.Insight
}

func (d *stubDispatcher) NotifyInsight(ctx context.Context, req *models.Request, insight *models.Insight) (*models.DeliveryResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.insights++
	d.lastInsight = insight
	if d.insightErr != nil {
		return nil, d.insightErr
	}
	return &models.DeliveryResult{RequestID: req.ID, Outcome: "insight", ReceiptID: "r-1"}, nil
}

func (d *stubDispatcher) NotifyFailure(ctx context.Context, req *models.Request, report *models.FailureReport) (*models.DeliveryResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures++
	d.lastReport = report
	if d.failureErr != nil {
		return nil, d.failureErr
	}
	return &models.DeliveryResult{RequestID: req.ID, Outcome: "failure", ReceiptID: "r-2"}, nil
}

func acceptedQuery(requestID string) *models.GeneratedQuery {
	return &models.GeneratedQuery{
		RequestID:       requestID,
		SQLText:         "SELECT 1",
		ValidationState: models.ValidationAccepted,
	}
}

func happyExecution() (*models.QueryExecution, *executor.Result) {
	now := time.Now().UTC()
	exec := &models.QueryExecution{
		ExecutionID: "exec-1",
		RequestID:   "req-1",
		Attempt:     1,
		State:       models.ExecSucceeded,
		SubmittedAt: now,
		CompletedAt: &now,
	}
	result := &executor.Result{
		Rows:     []engine.Row{{"date": "2026-03-15", "total_revenue": "1200.50"}},
		RowCount: 1,
	}
	return exec, result
}

func seededRequest(store *memStore) *models.Request {
	req := &models.Request{
		ID:        "req-1",
		Text:      "daily sales for March",
		QueryType: models.QueryTypeDailySales,
		Recipient: "analyst@example.com",
		Status:    models.StatusReceived,
	}
	store.SaveRequest(context.Background(), req)
	return req
}

func newOrchestrator(store *memStore, gen *stubGenerator, exec *stubExecutor, sum *stubSummarizer, disp *stubDispatcher) *Orchestrator {
	o := New(store, gen, exec, sum, disp, Config{Workers: 1, QueueSize: 4})
	return o
}

func TestProcessDelivered(t *testing.T) {
	store := newMemStore()
	req := seededRequest(store)

	execRec, result := happyExecution()
	gen := &stubGenerator{query: acceptedQuery(req.ID)}
	exe := &stubExecutor{exec: execRec, result: result}
	sum := &stubSummarizer{insight: &models.Insight{RequestID: req.ID, ExecutionID: "exec-1", Summary: "Revenue grew."}}
	disp := &stubDispatcher{}

	o := newOrchestrator(store, gen, exe, sum, disp)
	o.Process(context.Background(), req)
	o.Stop()

	final, _ := store.GetRequest(context.Background(), req.ID)
	if final.Status != models.StatusDelivered {
		t.Fatalf("status = %q, want DELIVERED", final.Status)
	}

	wantOrder := []models.RequestStatus{
		models.StatusSQLGenerated,
		models.StatusExecuting,
		models.StatusSummarized,
		models.StatusDelivered,
	}
	if len(store.statuses) != len(wantOrder) {
		t.Fatalf("status transitions = %v, want %v", store.statuses, wantOrder)
	}
	for i, want := range wantOrder {
		if store.statuses[i] != want {
			t.Errorf("transition %d = %q, want %q", i, store.statuses[i], want)
		}
	}

	if disp.insights != 1 || disp.failures != 0 {
		t.Errorf("notifications: %d insight, %d failure; want exactly one insight", disp.insights, disp.failures)
	}
	if len(store.queries) != 1 || len(store.insights) != 1 {
		t.Errorf("persisted %d queries and %d insights, want 1 each", len(store.queries), len(store.insights))
	}
}

func TestProcessUnsafeQueryNeverExecutes(t *testing.T) {
	store := newMemStore()
	req := seededRequest(store)

	rejected := acceptedQuery(req.ID)
	rejected.ValidationState = models.ValidationRejected
	gen := &stubGenerator{
		query: rejected,
		err: fault.Newf(fault.StageGeneration, fault.KindUnsafeQuery,
			"statement contains denied keyword %q", "DROP"),
	}
	exe := &stubExecutor{}
	sum := &stubSummarizer{}
	disp := &stubDispatcher{}

	o := newOrchestrator(store, gen, exe, sum, disp)
	o.Process(context.Background(), req)
	o.Stop()

	if exe.calls != 0 {
		t.Fatalf("engine executor called %d times for a rejected query, want 0", exe.calls)
	}
	if sum.calls != 0 {
		t.Errorf("summarizer called %d times, want 0", sum.calls)
	}

	final, _ := store.GetRequest(context.Background(), req.ID)
	if final.Status != models.StatusFailed {
		t.Fatalf("status = %q, want FAILED", final.Status)
	}
	if final.FailureStage != string(fault.StageGeneration) {
		t.Errorf("failure stage = %q, want %q", final.FailureStage, fault.StageGeneration)
	}

	// The rejected statement is still persisted for audit.
	if len(store.queries) != 1 || store.queries[0].ValidationState != models.ValidationRejected {
		t.Errorf("rejected query not persisted: %+v", store.queries)
	}

	if disp.failures != 1 || disp.insights != 0 {
		t.Fatalf("notifications: %d insight, %d failure; want exactly one failure", disp.insights, disp.failures)
	}
	if disp.lastReport.Kind != string(fault.KindUnsafeQuery) {
		t.Errorf("report kind = %q, want %q", disp.lastReport.Kind, fault.KindUnsafeQuery)
	}
	if !strings.Contains(disp.lastReport.Reason, "denied keyword") {
		t.Errorf("report reason = %q", disp.lastReport.Reason)
	}
}

func TestProcessExecutionTimeoutReported(t *testing.T) {
	store := newMemStore()
	req := seededRequest(store)

	gen := &stubGenerator{query: acceptedQuery(req.ID)}
	exe := &stubExecutor{
		err: fault.Newf(fault.StageExecution, fault.KindTimeout,
			"execution exec-1 exceeded deadline of 5m0s"),
	}
	sum := &stubSummarizer{}
	disp := &stubDispatcher{}

	o := newOrchestrator(store, gen, exe, sum, disp)
	o.Process(context.Background(), req)
	o.Stop()

	final, _ := store.GetRequest(context.Background(), req.ID)
	if final.Status != models.StatusFailed {
		t.Fatalf("status = %q, want FAILED", final.Status)
	}
	if final.FailureStage != string(fault.StageExecution) {
		t.Errorf("failure stage = %q, want %q", final.FailureStage, fault.StageExecution)
	}
	if disp.failures != 1 {
		t.Fatalf("failure notifications = %d, want 1", disp.failures)
	}
	if disp.lastReport.Kind != string(fault.KindTimeout) {
		t.Errorf("report kind = %q, want %q", disp.lastReport.Kind, fault.KindTimeout)
	}
	if sum.calls != 0 {
		t.Errorf("summarizer called %d times after execution failure, want 0", sum.calls)
	}
}

func TestProcessSummarizationFailure(t *testing.T) {
	store := newMemStore()
	req := seededRequest(store)

	execRec, result := happyExecution()
	gen := &stubGenerator{query: acceptedQuery(req.ID)}
	exe := &stubExecutor{exec: execRec, result: result}
	sum := &stubSummarizer{err: fault.Newf(fault.StageSummarize, fault.KindSummarization, "capability returned empty summary")}
	disp := &stubDispatcher{}

	o := newOrchestrator(store, gen, exe, sum, disp)
	o.Process(context.Background(), req)
	o.Stop()

	final, _ := store.GetRequest(context.Background(), req.ID)
	if final.FailureStage != string(fault.StageSummarize) {
		t.Errorf("failure stage = %q, want %q", final.FailureStage, fault.StageSummarize)
	}
	if disp.insights != 0 || disp.failures != 1 {
		t.Errorf("notifications: %d insight, %d failure; want one failure only", disp.insights, disp.failures)
	}
	if len(store.insights) != 0 {
		t.Errorf("no insight should be persisted, got %d", len(store.insights))
	}
}

func TestProcessDeliveryFailureSkipsFailureNotice(t *testing.T) {
	store := newMemStore()
	req := seededRequest(store)

	execRec, result := happyExecution()
	gen := &stubGenerator{query: acceptedQuery(req.ID)}
	exe := &stubExecutor{exec: execRec, result: result}
	sum := &stubSummarizer{insight: &models.Insight{RequestID: req.ID, Summary: "Revenue grew."}}
	disp := &stubDispatcher{
		insightErr: fault.Newf(fault.StageNotify, fault.KindDelivery, "relay unreachable"),
	}

	o := newOrchestrator(store, gen, exe, sum, disp)
	o.Process(context.Background(), req)
	o.Stop()

	final, _ := store.GetRequest(context.Background(), req.ID)
	if final.Status != models.StatusFailed {
		t.Fatalf("status = %q, want FAILED", final.Status)
	}
	if final.FailureStage != string(fault.StageNotify) {
		t.Errorf("failure stage = %q, want %q", final.FailureStage, fault.StageNotify)
	}
	// The same broken transport must not get a second terminal message.
	if disp.failures != 0 {
		t.Errorf("failure notifications over a failed transport = %d, want 0", disp.failures)
	}
}

func TestProcessNonFaultErrorStillFails(t *testing.T) {
	store := newMemStore()
	req := seededRequest(store)

	gen := &stubGenerator{query: acceptedQuery(req.ID)}
	exe := &stubExecutor{err: errors.New("plain failure")}
	disp := &stubDispatcher{}

	o := newOrchestrator(store, gen, exe, &stubSummarizer{}, disp)
	o.Process(context.Background(), req)
	o.Stop()

	final, _ := store.GetRequest(context.Background(), req.ID)
	if final.Status != models.StatusFailed {
		t.Fatalf("status = %q, want FAILED", final.Status)
	}
	if final.FailureStage != string(fault.StageExecution) {
		t.Errorf("unclassified errors default to the execution stage, got %q", final.FailureStage)
	}
}

func TestEnqueueProcessesAsynchronously(t *testing.T) {
	store := newMemStore()
	req := seededRequest(store)

	execRec, result := happyExecution()
	gen := &stubGenerator{query: acceptedQuery(req.ID)}
	exe := &stubExecutor{exec: execRec, result: result}
	sum := &stubSummarizer{insight: &models.Insight{RequestID: req.ID, Summary: "ok"}}
	disp := &stubDispatcher{}

	o := newOrchestrator(store, gen, exe, sum, disp)
	if err := o.Enqueue(req); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	o.Stop()

	final, _ := store.GetRequest(context.Background(), req.ID)
	if final.Status != models.StatusDelivered {
		t.Fatalf("status = %q, want DELIVERED after drain", final.Status)
	}
}

func TestEnqueueFullQueue(t *testing.T) {
	store := newMemStore()

	// Zero workers cannot drain, so the queue fills deterministically.
	o := &Orchestrator{
		store: store,
		queue: make(chan *models.Request, 1),
	}
	if err := o.Enqueue(&models.Request{ID: "a"}); err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	if err := o.Enqueue(&models.Request{ID: "b"}); err == nil {
		t.Fatal("second enqueue should fail on a full queue")
	}
}
