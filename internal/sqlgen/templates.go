package sqlgen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/retail-insights/backend/internal/storage/models"
)

// templateFor builds deterministic SQL for the known query types from the
// request's date range and filters. Values are quote-escaped; the result
// still passes through the safety gate like any generated statement.
func templateFor(req *models.Request) (string, error) {
	switch req.QueryType {
	case models.QueryTypeDailySales:
		return dailySalesQuery(req), nil
	case models.QueryTypeTopProducts:
		return topProductsQuery(req), nil
	case models.QueryTypeCustomerAnalytics:
		return customerAnalyticsQuery(req), nil
	case models.QueryTypeRevenueTrends:
		return revenueTrendsQuery(req), nil
	default:
		return "", fmt.Errorf("no template for query type %q", req.QueryType)
	}
}

func dailySalesQuery(req *models.Request) string {
	var b strings.Builder
	b.WriteString(`SELECT date, product_category,
       COUNT(*) AS transaction_count,
       SUM(total_amount) AS total_revenue,
       AVG(total_amount) AS avg_transaction_value,
       SUM(quantity) AS total_items_sold
FROM cleaned_sales_data
WHERE 1=1`)
	appendDateFilter(&b, req.DateRange)
	appendCategoryFilter(&b, req.Filters)
	b.WriteString("\nGROUP BY date, product_category\nORDER BY date DESC, total_revenue DESC")
	return b.String()
}

func topProductsQuery(req *models.Request) string {
	limit := filterLimit(req.Filters, 10)
	var b strings.Builder
	b.WriteString(`SELECT product_category,
       COUNT(*) AS transaction_count,
       SUM(quantity) AS total_quantity_sold,
       SUM(total_amount) AS total_revenue,
       AVG(price_per_unit) AS avg_unit_price
FROM cleaned_sales_data
WHERE 1=1`)
	appendDateFilter(&b, req.DateRange)
	appendCategoryFilter(&b, req.Filters)
	fmt.Fprintf(&b, "\nGROUP BY product_category\nORDER BY total_revenue DESC\nLIMIT %d", limit)
	return b.String()
}

func customerAnalyticsQuery(req *models.Request) string {
	var b strings.Builder
	b.WriteString(`SELECT customer_id,
       COUNT(*) AS transaction_count,
       SUM(total_amount) AS lifetime_value,
       AVG(total_amount) AS avg_order_value,
       MAX(date) AS last_purchase_date
FROM cleaned_sales_data
WHERE 1=1`)
	appendDateFilter(&b, req.DateRange)
	b.WriteString("\nGROUP BY customer_id\nORDER BY lifetime_value DESC\nLIMIT 100")
	return b.String()
}

func revenueTrendsQuery(req *models.Request) string {
	var b strings.Builder
	b.WriteString(`SELECT year, month, product_category,
       SUM(total_amount) AS monthly_revenue,
       COUNT(*) AS transaction_count,
       AVG(total_amount) AS avg_transaction_value
FROM cleaned_sales_data
WHERE 1=1`)
	appendDateFilter(&b, req.DateRange)
	appendCategoryFilter(&b, req.Filters)
	b.WriteString("\nGROUP BY year, month, product_category\nORDER BY year DESC, month DESC, monthly_revenue DESC")
	return b.String()
}

func appendDateFilter(b *strings.Builder, dr *models.DateRange) {
	if dr == nil {
		return
	}
	if dr.StartDate != "" {
		fmt.Fprintf(b, " AND date >= '%s'", escape(dr.StartDate))
	}
	if dr.EndDate != "" {
		fmt.Fprintf(b, " AND date <= '%s'", escape(dr.EndDate))
	}
}

func appendCategoryFilter(b *strings.Builder, filters map[string]string) {
	if category := filters["category"]; category != "" {
		fmt.Fprintf(b, " AND product_category = '%s'", escape(category))
	}
	if gender := filters["gender"]; gender != "" {
		fmt.Fprintf(b, " AND gender = '%s'", escape(gender))
	}
}

func filterLimit(filters map[string]string, fallback int) int {
	if raw := filters["limit"]; raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return fallback
}

func escape(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}
