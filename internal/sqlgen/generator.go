package sqlgen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/retail-insights/backend/internal/fault"
	"github.com/retail-insights/backend/internal/storage/models"
	"github.com/retail-insights/backend/pkg/logger"
)

// Capability is the narrow contract around the natural-language-to-SQL
// service. Deterministic mocks replace it in tests.
type Capability interface {
	GenerateSQL(ctx context.Context, userRequest, schemaContext string) (string, error)
}

// SchemaContext describes the analytical table handed to the capability.
type SchemaContext struct {
	Table      string
	Columns    []string
	Partitions []string
}

func DefaultSchema() SchemaContext {
	return SchemaContext{
		Table: "cleaned_sales_data",
		Columns: []string{
			"transaction_id", "date", "customer_id", "gender", "age",
			"product_category", "quantity", "price_per_unit", "total_amount",
			"revenue_category", "quality_score",
		},
		Partitions: []string{"year", "month", "day"},
	}
}

func (s SchemaContext) String() string {
	return fmt.Sprintf("Database Schema:\nTable: %s\nColumns: %s\nPartitions: %s",
		s.Table, strings.Join(s.Columns, ", "), strings.Join(s.Partitions, ", "))
}

// Generator produces one validated GeneratedQuery per request. Known query
// types resolve to SQL templates; custom requests go through the
// generation capability and then the safety gate.
type Generator struct {
	capability Capability
	schema     SchemaContext
}

func NewGenerator(capability Capability, schema SchemaContext) *Generator {
	return &Generator{capability: capability, schema: schema}
}

func (g *Generator) Generate(ctx context.Context, req *models.Request) (*models.GeneratedQuery, error) {
	var sqlText string
	templated := false

	if req.QueryType == models.QueryTypeCustom {
		text, err := g.capability.GenerateSQL(ctx, req.Text, g.schema.String())
		if err != nil {
			logger.Warn("SQL generation failed, retrying once",
				zap.String("request_id", req.ID),
				zap.Error(err),
			)
			text, err = g.capability.GenerateSQL(ctx, req.Text, g.schema.String())
		}
		if err != nil {
			return nil, fault.New(fault.StageGeneration, fault.KindGeneration,
				fmt.Errorf("generation capability: %w", err))
		}
		sqlText = strings.TrimSpace(text)
		if sqlText == "" {
			return nil, fault.Newf(fault.StageGeneration, fault.KindGeneration,
				"generation capability returned empty statement")
		}
	} else {
		tmpl, err := templateFor(req)
		if err != nil {
			return nil, fault.New(fault.StageGeneration, fault.KindValidation, err)
		}
		sqlText = tmpl
		templated = true
	}

	query := &models.GeneratedQuery{
		RequestID:       req.ID,
		SQLText:         sqlText,
		ValidationState: models.ValidationPending,
		Templated:       templated,
		CreatedAt:       time.Now().UTC(),
	}

	if err := CheckReadOnly(sqlText); err != nil {
		query.ValidationState = models.ValidationRejected
		logger.Warn("Generated query rejected by safety gate",
			zap.String("request_id", req.ID),
			zap.Error(err),
		)
		return query, fault.New(fault.StageGeneration, fault.KindUnsafeQuery, err)
	}
	query.ValidationState = models.ValidationAccepted

	logger.Info("Query generated",
		zap.String("request_id", req.ID),
		zap.Bool("templated", templated),
		zap.Int("sql_length", len(sqlText)),
	)

	return query, nil
}
