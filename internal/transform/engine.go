package transform

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/retail-insights/backend/pkg/logger"
)

// Reject reason codes.
const (
	ReasonMissingField = "missing_required_field"
	ReasonBadAmount    = "invalid_total_amount"
	ReasonBadDate      = "unparseable_date"
	ReasonFutureDate   = "future_date"
)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

var categoryAliases = map[string]string{
	"electronics":       "Electronics",
	"clothing":          "Clothing",
	"apparel":           "Clothing",
	"home":              "Home",
	"home & garden":     "Home",
	"sports":            "Sports",
	"sports & outdoors": "Sports",
	"books":             "Books",
	"toys":              "Toys",
	"beauty":            "Beauty",
}

type Config struct {
	CompletenessWeight float64
	ValidityWeight     float64
	UniquenessWeight   float64
	DuplicatePenalty   float64
	QualityFloor       float64
	Workers            int
}

func DefaultConfig() Config {
	return Config{
		CompletenessWeight: 0.4,
		ValidityWeight:     0.4,
		UniquenessWeight:   0.2,
		DuplicatePenalty:   0.1,
		QualityFloor:       0.5,
		Workers:            4,
	}
}

// Engine cleans, scores, and partitions raw sales batches. A single bad
// record never aborts the batch; it lands in the rejects list instead.
type Engine struct {
	cfg Config
	now func() time.Time
}

func NewEngine(cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Engine{cfg: cfg, now: time.Now}
}

// Transform runs dedup, validation, normalization, scoring, and partition
// derivation over the batch. Re-running on an identical batch yields an
// identical delta and identical rejects.
func (e *Engine) Transform(ctx context.Context, batch []RawRecord) (*Delta, []Reject, error) {
	kept, absorbed := dedupKeepFirst(batch)

	type slot struct {
		rec    *ProcessedRecord
		reject *Reject
	}
	slots := make([]slot, len(kept))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i := range kept {
		i := i
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			rec, reason := e.process(kept[i], absorbed[i])
			if reason != "" {
				slots[i] = slot{reject: &Reject{Record: kept[i], Reason: reason}}
			} else {
				slots[i] = slot{rec: rec}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("transform batch aborted: %w", err)
	}

	delta := &Delta{}
	var rejects []Reject
	var scoreSum float64
	for _, s := range slots {
		if s.reject != nil {
			rejects = append(rejects, *s.reject)
			continue
		}
		delta.Records = append(delta.Records, *s.rec)
		scoreSum += s.rec.QualityScore
	}
	if n := len(delta.Records); n > 0 {
		delta.AverageScore = scoreSum / float64(n)
	}
	delta.BelowQualityFloor = len(delta.Records) > 0 && delta.AverageScore < e.cfg.QualityFloor

	logger.Info("Transform batch processed",
		zap.Int("input", len(batch)),
		zap.Int("kept", len(delta.Records)),
		zap.Int("rejected", len(rejects)),
		zap.Float64("avg_quality", delta.AverageScore),
		zap.Bool("below_floor", delta.BelowQualityFloor),
	)

	return delta, rejects, nil
}

// dedupKeepFirst drops repeated transaction ids, keeping the first
// occurrence and counting how many duplicates each kept record absorbed.
func dedupKeepFirst(batch []RawRecord) ([]RawRecord, []int) {
	kept := make([]RawRecord, 0, len(batch))
	absorbed := make([]int, 0, len(batch))
	seen := make(map[string]int, len(batch))

	for _, raw := range batch {
		id := strings.TrimSpace(raw["transaction_id"])
		if id != "" {
			if at, dup := seen[id]; dup {
				absorbed[at]++
				continue
			}
			seen[id] = len(kept)
		}
		kept = append(kept, raw)
		absorbed = append(absorbed, 0)
	}
	return kept, absorbed
}

func (e *Engine) process(raw RawRecord, absorbedDups int) (*ProcessedRecord, string) {
	id := strings.TrimSpace(raw["transaction_id"])
	if id == "" {
		return nil, ReasonMissingField + ":transaction_id"
	}
	rawDate := strings.TrimSpace(raw["date"])
	if rawDate == "" {
		return nil, ReasonMissingField + ":date"
	}
	category := strings.TrimSpace(raw["product_category"])
	if category == "" {
		return nil, ReasonMissingField + ":product_category"
	}
	rawTotal := strings.TrimSpace(raw["total_amount"])
	if rawTotal == "" {
		return nil, ReasonMissingField + ":total_amount"
	}
	total, err := strconv.ParseFloat(rawTotal, 64)
	if err != nil || total <= 0 {
		return nil, ReasonBadAmount
	}

	date, ok := parseDate(rawDate)
	if !ok {
		return nil, ReasonBadDate
	}
	if date.After(e.now()) {
		return nil, ReasonFutureDate
	}

	rec := &ProcessedRecord{
		TransactionID:   id,
		Date:            date,
		CustomerID:      strings.TrimSpace(raw["customer_id"]),
		Gender:          normalizeGender(raw["gender"]),
		ProductCategory: normalizeCategory(category),
		TotalAmount:     total,
		RevenueCategory: revenueCategory(total),
		Partition:       PartitionOf(date),
	}

	validityChecks, validityPassed := 1, 1 // total_amount positivity already held

	if q := strings.TrimSpace(raw["quantity"]); q != "" {
		validityChecks++
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			rec.Quantity = n
			validityPassed++
		}
	}
	if p := strings.TrimSpace(raw["price_per_unit"]); p != "" {
		validityChecks++
		if v, err := strconv.ParseFloat(p, 64); err == nil && v > 0 {
			rec.PricePerUnit = v
			validityPassed++
		}
	}
	if a := strings.TrimSpace(raw["age"]); a != "" {
		validityChecks++
		if n, err := strconv.Atoi(a); err == nil && n > 0 && n < 120 {
			rec.Age = n
			validityPassed++
		}
	}
	// Amount consistency is only checkable when both factors parsed.
	if rec.Quantity > 0 && rec.PricePerUnit > 0 {
		validityChecks++
		if diff := total - float64(rec.Quantity)*rec.PricePerUnit; diff < 0.01 && diff > -0.01 {
			validityPassed++
		}
	}

	completeness := completenessScore(raw)
	validity := float64(validityPassed) / float64(validityChecks)
	uniqueness := 1.0 - e.cfg.DuplicatePenalty*float64(absorbedDups)
	if uniqueness < 0 {
		uniqueness = 0
	}

	score := e.cfg.CompletenessWeight*completeness +
		e.cfg.ValidityWeight*validity +
		e.cfg.UniquenessWeight*uniqueness
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	rec.QualityScore = score

	return rec, ""
}

var optionalFields = []string{"customer_id", "gender", "age", "quantity", "price_per_unit"}

func completenessScore(raw RawRecord) float64 {
	present := 0
	for _, f := range optionalFields {
		if strings.TrimSpace(raw[f]) != "" {
			present++
		}
	}
	return float64(present) / float64(len(optionalFields))
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			// Canonical calendar date, no timezone reinterpretation.
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

func normalizeCategory(s string) string {
	key := strings.ToLower(strings.TrimSpace(s))
	if canonical, ok := categoryAliases[key]; ok {
		return canonical
	}
	return "Other"
}

func normalizeGender(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "m", "male":
		return "Male"
	case "f", "female":
		return "Female"
	case "":
		return ""
	default:
		return "Other"
	}
}

func revenueCategory(total float64) string {
	switch {
	case total >= 500:
		return "High"
	case total >= 100:
		return "Medium"
	default:
		return "Low"
	}
}
