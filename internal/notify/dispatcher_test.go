package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/retail-insights/backend/internal/fault"
	"github.com/retail-insights/backend/internal/storage/models"
)

type mockSender struct {
	errs     []error
	calls    int
	lastBody string
	lastSubj string
}

func (m *mockSender) Send(ctx context.Context, recipient, subject, body string) (string, error) {
	i := m.calls
	m.calls++
	m.lastSubj = subject
	m.lastBody = body
	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	return "receipt-1", nil
}

func testDeliveryRequest() *models.Request {
	return &models.Request{
		ID:        "req-1",
		Text:      "daily sales for March",
		Recipient: "analyst@example.com",
	}
}

func testInsight() *models.Insight {
	return &models.Insight{
		RequestID:   "req-1",
		ExecutionID: "exec-1",
		Summary:     "March revenue grew 12% on Electronics.",
	}
}

func TestNotifyInsightDelivers(t *testing.T) {
	sender := &mockSender{}
	d := NewDispatcher(sender, NewMemoryStore(), 3)

	result, err := d.NotifyInsight(context.Background(), testDeliveryRequest(), testInsight())
	if err != nil {
		t.Fatalf("NotifyInsight returned error: %v", err)
	}
	if result.Outcome != OutcomeInsight {
		t.Errorf("outcome = %q, want %q", result.Outcome, OutcomeInsight)
	}
	if result.ReceiptID == "" {
		t.Error("delivery result must carry a receipt id")
	}
	if result.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", result.Attempts)
	}
	if !strings.Contains(sender.lastBody, "March revenue grew") {
		t.Errorf("body missing summary: %q", sender.lastBody)
	}
}

func TestNotifyInsightIdempotentReplay(t *testing.T) {
	sender := &mockSender{}
	d := NewDispatcher(sender, NewMemoryStore(), 3)
	ctx := context.Background()

	first, err := d.NotifyInsight(ctx, testDeliveryRequest(), testInsight())
	if err != nil {
		t.Fatalf("first dispatch failed: %v", err)
	}
	second, err := d.NotifyInsight(ctx, testDeliveryRequest(), testInsight())
	if err != nil {
		t.Fatalf("replayed dispatch failed: %v", err)
	}

	if sender.calls != 1 {
		t.Fatalf("sender called %d times, want 1 (replay suppressed)", sender.calls)
	}
	if second.ReceiptID != first.ReceiptID {
		t.Errorf("replay returned a different receipt: %q vs %q", second.ReceiptID, first.ReceiptID)
	}
}

func TestNotifyOutcomesKeyedSeparately(t *testing.T) {
	sender := &mockSender{}
	d := NewDispatcher(sender, NewMemoryStore(), 3)
	ctx := context.Background()
	req := testDeliveryRequest()

	if _, err := d.NotifyInsight(ctx, req, testInsight()); err != nil {
		t.Fatalf("insight dispatch failed: %v", err)
	}
	report := &models.FailureReport{
		RequestID: req.ID,
		Stage:     string(fault.StageExecution),
		Kind:      string(fault.KindTimeout),
		Reason:    "deadline exceeded",
	}
	if _, err := d.NotifyFailure(ctx, req, report); err != nil {
		t.Fatalf("failure dispatch failed: %v", err)
	}

	// Different outcomes for the same request are distinct deliveries.
	if sender.calls != 2 {
		t.Errorf("sender called %d times, want 2", sender.calls)
	}
}

func TestNotifyRetriesTransportErrors(t *testing.T) {
	sender := &mockSender{errs: []error{errors.New("connection reset"), nil}}
	d := NewDispatcher(sender, NewMemoryStore(), 3)

	result, err := d.NotifyInsight(context.Background(), testDeliveryRequest(), testInsight())
	if err != nil {
		t.Fatalf("NotifyInsight returned error: %v", err)
	}
	if result.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", result.Attempts)
	}
}

func TestNotifyExhaustionIsDeliveryFault(t *testing.T) {
	boom := errors.New("relay unreachable")
	sender := &mockSender{errs: []error{boom, boom, boom}}
	d := NewDispatcher(sender, NewMemoryStore(), 3)

	_, err := d.NotifyInsight(context.Background(), testDeliveryRequest(), testInsight())
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if fault.KindOf(err) != fault.KindDelivery {
		t.Errorf("fault kind = %q, want %q", fault.KindOf(err), fault.KindDelivery)
	}
	if fault.StageOf(err) != fault.StageNotify {
		t.Errorf("fault stage = %q, want %q", fault.StageOf(err), fault.StageNotify)
	}
	if sender.calls != 3 {
		t.Errorf("sender called %d times, want 3", sender.calls)
	}
}

func TestNotifyFailureBodyNamesStage(t *testing.T) {
	sender := &mockSender{}
	d := NewDispatcher(sender, NewMemoryStore(), 3)

	report := &models.FailureReport{
		RequestID: "req-1",
		Stage:     string(fault.StageGeneration),
		Kind:      string(fault.KindUnsafeQuery),
		Reason:    "statement contains denied keyword \"DROP\"",
	}
	if _, err := d.NotifyFailure(context.Background(), testDeliveryRequest(), report); err != nil {
		t.Fatalf("NotifyFailure returned error: %v", err)
	}
	for _, want := range []string{"SQL_GENERATED", "UnsafeQuery", "denied keyword"} {
		if !strings.Contains(sender.lastBody, want) {
			t.Errorf("failure body missing %q:\n%s", want, sender.lastBody)
		}
	}
	if !strings.Contains(sender.lastSubj, "could not be completed") {
		t.Errorf("failure subject = %q", sender.lastSubj)
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok=%v err=%v, want miss", ok, err)
	}

	want := &models.DeliveryResult{RequestID: "req-1", Outcome: OutcomeInsight, ReceiptID: "r-1"}
	if err := store.Put(ctx, "k1", want); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, ok, err := store.Get(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("Get(k1) = ok=%v err=%v", ok, err)
	}
	if got.ReceiptID != "r-1" {
		t.Errorf("ReceiptID = %q, want r-1", got.ReceiptID)
	}
}

func TestTruncateKeepsSubjectValidUTF8(t *testing.T) {
	long := strings.Repeat("é", 80)
	got := truncate(long, 60)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated subject is not valid UTF-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != 63 { // 60 kept runes plus the ellipsis dots
		t.Errorf("rune count = %d, want 63", n)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated subject should end with an ellipsis, got %q", got)
	}
	if truncate("short request", 60) != "short request" {
		t.Error("strings under the limit should pass through unchanged")
	}
}
