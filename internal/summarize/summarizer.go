// Package summarize turns bounded query results into a narrative Insight
// through the summarization capability.
package summarize

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/retail-insights/backend/internal/executor"
	"github.com/retail-insights/backend/internal/fault"
	"github.com/retail-insights/backend/internal/storage/models"
	"github.com/retail-insights/backend/pkg/logger"
)

// Capability is the narrow contract around the result-to-narrative
// service. Deterministic mocks replace it in tests.
type Capability interface {
	SummarizeResults(ctx context.Context, userRequest string, rows []map[string]string) (string, error)
}

type Config struct {
	MaxSampleRows  int
	MaxSampleBytes int
}

func DefaultConfig() Config {
	return Config{MaxSampleRows: 50, MaxSampleBytes: 16384}
}

type Summarizer struct {
	capability Capability
	cfg        Config
}

func NewSummarizer(capability Capability, cfg Config) *Summarizer {
	if cfg.MaxSampleRows <= 0 {
		cfg.MaxSampleRows = 50
	}
	if cfg.MaxSampleBytes <= 0 {
		cfg.MaxSampleBytes = 16384
	}
	return &Summarizer{capability: capability, cfg: cfg}
}

// Summarize samples the result rows down to the configured budget and
// asks the capability for a narrative. Empty or blank capability output
// is a SummarizationError; the capability gets one retry before that
// surfaces as fatal.
func (s *Summarizer) Summarize(ctx context.Context, req *models.Request, exec *models.QueryExecution, result *executor.Result) (*models.Insight, error) {
	if len(result.Rows) == 0 {
		// No rows is a legitimate outcome, not a capability failure.
		return &models.Insight{
			RequestID:   req.ID,
			ExecutionID: exec.ExecutionID,
			Summary:     "No data found for the specified criteria.",
			CreatedAt:   time.Now().UTC(),
		}, nil
	}

	sample := s.sample(result)

	summary, err := s.capability.SummarizeResults(ctx, req.Text, sample)
	if err != nil {
		logger.Warn("Summarization failed, retrying once",
			zap.String("request_id", req.ID),
			zap.Error(err),
		)
		summary, err = s.capability.SummarizeResults(ctx, req.Text, sample)
	}
	if err != nil {
		return nil, fault.New(fault.StageSummarize, fault.KindSummarization, err)
	}
	if strings.TrimSpace(summary) == "" {
		return nil, fault.Newf(fault.StageSummarize, fault.KindSummarization,
			"capability returned empty summary")
	}

	logger.Info("Insight summarized",
		zap.String("request_id", req.ID),
		zap.Int("sampled_rows", len(sample)),
		zap.Bool("result_truncated", result.Truncated),
	)

	return &models.Insight{
		RequestID:   req.ID,
		ExecutionID: exec.ExecutionID,
		Summary:     summary,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// sample truncates rows to the configured row and byte budget so the
// capability input stays predictable.
func (s *Summarizer) sample(result *executor.Result) []map[string]string {
	var out []map[string]string
	bytes := 0
	for _, row := range result.Rows {
		if len(out) >= s.cfg.MaxSampleRows {
			break
		}
		for _, v := range row {
			bytes += len(v)
		}
		if bytes > s.cfg.MaxSampleBytes && len(out) > 0 {
			break
		}
		out = append(out, map[string]string(row))
	}
	return out
}
