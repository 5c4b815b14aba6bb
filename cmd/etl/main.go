package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/retail-insights/backend/internal/metrics"
	"github.com/retail-insights/backend/internal/storage/sqlite"
	"github.com/retail-insights/backend/internal/transform"
	"github.com/retail-insights/backend/pkg/config"
	appLogger "github.com/retail-insights/backend/pkg/logger"
)

func main() {
	inputPath := flag.String("input", "", "path to the raw sales CSV export")
	batchID := flag.String("batch", "", "batch id, defaults to a new UUID")
	flag.Parse()

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "usage: etl -input <file.csv> [-batch <id>]")
		os.Exit(2)
	}
	if *batchID == "" {
		*batchID = uuid.New().String()
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting transform batch",
		zap.String("batch_id", *batchID),
		zap.String("input", *inputPath),
	)

	batch, err := readBatch(*inputPath)
	if err != nil {
		appLogger.Fatal("Failed to read input", zap.Error(err))
	}

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	engine := transform.NewEngine(transform.Config{
		CompletenessWeight: cfg.Transform.CompletenessWeight,
		ValidityWeight:     cfg.Transform.ValidityWeight,
		UniquenessWeight:   cfg.Transform.UniquenessWeight,
		DuplicatePenalty:   cfg.Transform.DuplicatePenalty,
		QualityFloor:       cfg.Transform.QualityFloor,
		Workers:            cfg.Transform.Workers,
	})

	ctx := context.Background()
	started := time.Now()

	delta, rejects, err := engine.Transform(ctx, batch)
	if err != nil {
		appLogger.Fatal("Transform failed", zap.Error(err))
	}

	loaded, err := sqliteClient.LoadDelta(ctx, *batchID, delta)
	if err != nil {
		appLogger.Fatal("Failed to load delta", zap.Error(err))
	}

	metrics.RecordsTransformed.WithLabelValues("loaded").Add(float64(len(delta.Records)))
	metrics.RecordsTransformed.WithLabelValues("rejected").Add(float64(len(rejects)))
	for _, rec := range delta.Records {
		metrics.QualityScore.Observe(rec.QualityScore)
	}

	appLogger.Info("Transform batch complete",
		zap.String("batch_id", *batchID),
		zap.Int("input_records", len(batch)),
		zap.Int("loaded", loaded),
		zap.Int("rejected", len(rejects)),
		zap.Int("partitions", len(delta.Partitions())),
		zap.Float64("average_quality", delta.AverageScore),
		zap.Bool("below_quality_floor", delta.BelowQualityFloor),
		zap.Duration("elapsed", time.Since(started)),
	)

	for _, reject := range rejects {
		appLogger.Warn("Rejected record",
			zap.String("transaction_id", reject.Record["transaction_id"]),
			zap.String("reason", reject.Reason),
		)
	}

	if delta.BelowQualityFloor {
		appLogger.Warn("Batch average quality is below the configured floor",
			zap.Float64("average_quality", delta.AverageScore),
			zap.Float64("floor", cfg.Transform.QualityFloor),
		)
	}
}

// readBatch reads the export CSV into raw records keyed by header name.
func readBatch(path string) ([]transform.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) < 1 {
		return nil, fmt.Errorf("input file has no header row")
	}

	header := rows[0]
	batch := make([]transform.RawRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		record := make(transform.RawRecord, len(header))
		for i, name := range header {
			if i < len(row) {
				record[name] = row[i]
			}
		}
		batch = append(batch, record)
	}
	return batch, nil
}
