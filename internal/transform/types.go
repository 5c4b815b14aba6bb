package transform

import (
	"fmt"
	"time"
)

// RawRecord is a row as ingested, untyped. Keys follow the raw sales
// export: transaction_id, date, customer_id, gender, age,
// product_category, quantity, price_per_unit, total_amount.
type RawRecord map[string]string

// PartitionKey groups processed records by the canonical calendar date.
type PartitionKey struct {
	Year  int
	Month int
	Day   int
}

func PartitionOf(date time.Time) PartitionKey {
	return PartitionKey{Year: date.Year(), Month: int(date.Month()), Day: date.Day()}
}

func (k PartitionKey) String() string {
	return fmt.Sprintf("year=%d/month=%02d/day=%02d", k.Year, k.Month, k.Day)
}

// ProcessedRecord is a cleaned, scored row ready for the warehouse.
type ProcessedRecord struct {
	TransactionID   string
	Date            time.Time
	CustomerID      string
	Gender          string
	Age             int
	ProductCategory string
	Quantity        int
	PricePerUnit    float64
	TotalAmount     float64
	RevenueCategory string
	QualityScore    float64
	Partition       PartitionKey
}

// Reject pairs a dropped raw record with a machine-readable reason code.
type Reject struct {
	Record RawRecord
	Reason string
}

// Delta is the output of one transform batch. Records keep input order so
// identical batches produce identical deltas.
type Delta struct {
	Records           []ProcessedRecord
	AverageScore      float64
	BelowQualityFloor bool
}

// Partitions regroups the delta by partition key for loading.
func (d *Delta) Partitions() map[PartitionKey][]ProcessedRecord {
	out := make(map[PartitionKey][]ProcessedRecord)
	for _, rec := range d.Records {
		out[rec.Partition] = append(out[rec.Partition], rec)
	}
	return out
}
