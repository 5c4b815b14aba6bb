package summarize

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/retail-insights/backend/internal/engine"
	"github.com/retail-insights/backend/internal/executor"
	"github.com/retail-insights/backend/internal/fault"
	"github.com/retail-insights/backend/internal/storage/models"
)

type mockCapability struct {
	summaries []string
	errs      []error
	calls     int
	lastRows  []map[string]string
}

func (m *mockCapability) SummarizeResults(ctx context.Context, userRequest string, rows []map[string]string) (string, error) {
	i := m.calls
	m.calls++
	m.lastRows = rows
	var err error
	if i < len(m.errs) {
		err = m.errs[i]
	}
	var out string
	if i < len(m.summaries) {
		out = m.summaries[i]
	}
	return out, err
}

func testInputs(rowCount int) (*models.Request, *models.QueryExecution, *executor.Result) {
	req := &models.Request{ID: "req-1", Text: "top products"}
	exec := &models.QueryExecution{ExecutionID: "exec-1", RequestID: "req-1"}
	result := &executor.Result{}
	for i := 0; i < rowCount; i++ {
		result.Rows = append(result.Rows, engine.Row{"n": fmt.Sprintf("%d", i)})
	}
	result.RowCount = rowCount
	return req, exec, result
}

func TestSummarizeSuccess(t *testing.T) {
	cap := &mockCapability{summaries: []string{"Electronics led revenue."}}
	s := NewSummarizer(cap, DefaultConfig())

	req, exec, result := testInputs(3)
	insight, err := s.Summarize(context.Background(), req, exec, result)
	if err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}
	if insight.Summary != "Electronics led revenue." {
		t.Errorf("summary = %q", insight.Summary)
	}
	if insight.RequestID != "req-1" || insight.ExecutionID != "exec-1" {
		t.Errorf("insight not linked to request and execution: %+v", insight)
	}
	if cap.calls != 1 {
		t.Errorf("capability called %d times, want 1", cap.calls)
	}
}

func TestSummarizeEmptyResultSkipsCapability(t *testing.T) {
	cap := &mockCapability{}
	s := NewSummarizer(cap, DefaultConfig())

	req, exec, result := testInputs(0)
	insight, err := s.Summarize(context.Background(), req, exec, result)
	if err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}
	if insight.Summary != "No data found for the specified criteria." {
		t.Errorf("summary = %q", insight.Summary)
	}
	if cap.calls != 0 {
		t.Errorf("capability called %d times for an empty result, want 0", cap.calls)
	}
}

func TestSummarizeRetriesOnce(t *testing.T) {
	cap := &mockCapability{
		summaries: []string{"", "Revenue held steady."},
		errs:      []error{errors.New("capability overloaded"), nil},
	}
	s := NewSummarizer(cap, DefaultConfig())

	req, exec, result := testInputs(3)
	insight, err := s.Summarize(context.Background(), req, exec, result)
	if err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}
	if cap.calls != 2 {
		t.Errorf("capability called %d times, want 2", cap.calls)
	}
	if insight.Summary != "Revenue held steady." {
		t.Errorf("summary = %q", insight.Summary)
	}
}

func TestSummarizeFailureAfterRetry(t *testing.T) {
	boom := errors.New("capability down")
	cap := &mockCapability{errs: []error{boom, boom}}
	s := NewSummarizer(cap, DefaultConfig())

	req, exec, result := testInputs(3)
	_, err := s.Summarize(context.Background(), req, exec, result)
	if err == nil {
		t.Fatal("expected error after retry exhaustion")
	}
	if fault.KindOf(err) != fault.KindSummarization {
		t.Errorf("fault kind = %q, want %q", fault.KindOf(err), fault.KindSummarization)
	}
	if fault.StageOf(err) != fault.StageSummarize {
		t.Errorf("fault stage = %q, want %q", fault.StageOf(err), fault.StageSummarize)
	}
}

func TestSummarizeBlankOutputIsError(t *testing.T) {
	cap := &mockCapability{summaries: []string{"   \n  "}}
	s := NewSummarizer(cap, DefaultConfig())

	req, exec, result := testInputs(3)
	_, err := s.Summarize(context.Background(), req, exec, result)
	if err == nil {
		t.Fatal("blank summary must be an error")
	}
	if fault.KindOf(err) != fault.KindSummarization {
		t.Errorf("fault kind = %q, want %q", fault.KindOf(err), fault.KindSummarization)
	}
}

func TestSampleRowBudget(t *testing.T) {
	cap := &mockCapability{summaries: []string{"ok"}}
	s := NewSummarizer(cap, Config{MaxSampleRows: 5, MaxSampleBytes: 16384})

	req, exec, result := testInputs(50)
	if _, err := s.Summarize(context.Background(), req, exec, result); err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}
	if len(cap.lastRows) != 5 {
		t.Errorf("capability received %d rows, want 5", len(cap.lastRows))
	}
}

func TestSampleByteBudgetKeepsAtLeastOneRow(t *testing.T) {
	cap := &mockCapability{summaries: []string{"ok"}}
	s := NewSummarizer(cap, Config{MaxSampleRows: 50, MaxSampleBytes: 10})

	req := &models.Request{ID: "req-1", Text: "big rows"}
	exec := &models.QueryExecution{ExecutionID: "exec-1"}
	result := &executor.Result{
		Rows: []engine.Row{
			{"blob": "aaaaaaaaaaaaaaaaaaaaaaaa"},
			{"blob": "bbbbbbbbbbbbbbbbbbbbbbbb"},
		},
		RowCount: 2,
	}

	if _, err := s.Summarize(context.Background(), req, exec, result); err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}
	if len(cap.lastRows) != 1 {
		t.Errorf("capability received %d rows, want 1 (byte budget)", len(cap.lastRows))
	}
}
