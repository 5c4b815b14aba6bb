package sqlgen

import (
	"strings"

	"github.com/jdkato/prose/v2"

	"github.com/retail-insights/backend/internal/storage/models"
)

// InferQueryType tokenizes the request text and maps keyword families to
// the known query types. The result is advisory: it is stored next to the
// caller's explicit query_type and never overrides it.
func InferQueryType(text string) models.QueryType {
	doc, err := prose.NewDocument(text,
		prose.WithExtraction(false),
		prose.WithSegmentation(false),
		prose.WithTagging(false),
	)
	if err != nil {
		return models.QueryTypeCustom
	}

	tokens := make(map[string]bool)
	for _, tok := range doc.Tokens() {
		tokens[strings.ToLower(tok.Text)] = true
	}

	switch {
	case tokens["top"] && (tokens["products"] || tokens["product"] || tokens["categories"] || tokens["category"]):
		return models.QueryTypeTopProducts
	case tokens["trend"] || tokens["trends"] || (tokens["monthly"] && tokens["revenue"]):
		return models.QueryTypeRevenueTrends
	case tokens["customer"] || tokens["customers"]:
		return models.QueryTypeCustomerAnalytics
	case tokens["daily"] && (tokens["sales"] || tokens["summary"]):
		return models.QueryTypeDailySales
	default:
		return models.QueryTypeCustom
	}
}
