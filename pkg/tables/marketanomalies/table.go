// Package marketanomalies defines the analytics.market_level_anomalies_v3
// table: market-level pricing anomalies with impact scores and competitive
// position data.
package marketanomalies

import (
	"fmt"
	"strings"

	"github.com/farescope/dsmcp/pkg/engine"
)

const (
	schemaName = "analytics"
	tableName  = "market_level_anomalies_v3"
)

func upperCode(value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("must be a string, got %T", value)
	}
	return strings.ToUpper(strings.TrimSpace(s)), nil
}

// Definition returns the declarative table definition.
func Definition() *engine.TableDef {
	return &engine.TableDef{
		Slug:          "market_anomalies_v3",
		SchemaName:    schemaName,
		TableName:     tableName,
		DisplayName:   "Market Level Anomalies V3",
		Description:   "Market-level pricing anomalies with impact scores and competitive position data",
		QueryToolName: "query_anomalies",
		DefaultLimit:  200,
		MaxLimit:      1000,
		Macros: map[string]engine.MacroValue{
			"MLA": engine.Literal(schemaName + "." + tableName),
		},
		Metadata: map[string]any{
			"version":     "3.0",
			"primary_key": []string{"customer", "sales_date", "seg_mkt"},
			"customers":   []string{"AS", "SK", "B6", "INS"},
			"key_metrics": []string{
				"impact_score", "any_anomaly", "freq_pcnt_val", "mag_pcnt_val", "revenue_score",
			},
			"dimensions": []string{
				"customer", "sales_date", "seg_mkt", "cp", "region_name", "cabin_group",
			},
		},
		Tools: []engine.ToolSpec{
			availableCustomersSpec(),
			anomalyCountsTodaySpec(),
			cpDistributionTodaySpec(),
			topAnomaliesByImpactSpec(),
		},
	}
}

func availableCustomersSpec() engine.ToolSpec {
	return engine.ToolSpec{
		Name: "get_available_customers",
		Doc: "List available customers with record counts, anomaly counts, and the " +
			"covered sales_date range.",
		SQL: `SELECT
    customer,
    COUNT(*) AS total_records,
    SUM(CASE WHEN any_anomaly = 1 THEN 1 ELSE 0 END) AS anomaly_records,
    MIN(sales_date) AS first_date,
    MAX(sales_date) AS last_date
FROM {{MLA}}
GROUP BY customer
ORDER BY customer`,
	}
}

func perDimLimitParam(def, max float64) engine.ParamSpec {
	return engine.ParamSpec{
		Name:        "per_dim_limit",
		Description: "Maximum buckets to return.",
		Type:        engine.TypeInt,
		Default:     int(def),
		Min:         ptr(1),
		Max:         ptr(max),
		AsLiteral:   true,
	}
}

func anomalyCountsTodaySpec() engine.ToolSpec {
	return engine.ToolSpec{
		Name: "anomaly_counts_today",
		Doc:  "Today's anomaly counts by customer, largest first.",
		SQL: "SELECT customer AS bucket, COUNT(*) AS cnt " +
			"FROM {{MLA}} WHERE sales_date = {{TODAY}} AND any_anomaly = 1 " +
			"GROUP BY 1 ORDER BY 2 DESC LIMIT :per_dim_limit",
		Params:       []engine.ParamSpec{perDimLimitParam(5, 25)},
		MaxRowsParam: "per_dim_limit",
	}
}

func cpDistributionTodaySpec() engine.ToolSpec {
	return engine.ToolSpec{
		Name: "cp_distribution_today",
		Doc:  "Today's anomaly counts by competitive position, largest first.",
		SQL: "SELECT NULLIF(TRIM(cp::VARCHAR), '') AS bucket, COUNT(*) AS cnt " +
			"FROM {{MLA}} WHERE sales_date = {{TODAY}} AND any_anomaly = 1 " +
			"GROUP BY 1 ORDER BY 2 DESC LIMIT :per_dim_limit",
		Params:       []engine.ParamSpec{perDimLimitParam(5, 25)},
		MaxRowsParam: "per_dim_limit",
	}
}

func topAnomaliesByImpactSpec() engine.ToolSpec {
	return engine.ToolSpec{
		Name: "top_anomalies_by_impact",
		Doc: "Top anomalies for a customer ordered by impact_score. " +
			"Defaults to today when sales_date is omitted.",
		Params: []engine.ParamSpec{
			{
				Name:        "customer",
				Description: "Two-letter customer code (AS, SK, B6, INS).",
				Type:        engine.TypeString,
				Required:    true,
				Coerce:      upperCode,
				Choices:     []string{"AS", "SK", "B6", "INS"},
			},
			{
				Name:        "sales_date",
				Description: "Optional YYYYMMDD integer; defaults to today.",
				Type:        engine.TypeInt,
				Coerce:      coerceOptionalDate,
			},
			{
				Name:        "limit",
				Description: "Rows to return.",
				Type:        engine.TypeInt,
				Default:     20,
				Min:         ptr(1),
				Max:         ptr(100),
				AsLiteral:   true,
			},
		},
		MaxRowsParam: "limit",
		Prepare: func(values map[string]any) (string, error) {
			dateClause := "sales_date = {{TODAY}}"
			if values["sales_date"] != nil {
				dateClause = "sales_date = :sales_date"
			}
			return "SELECT customer, sales_date, seg_mkt, cp, region_name, cabin_group, " +
				"impact_score, revenue_score, freq_pcnt_val, mag_pcnt_val, mag_nominal_val " +
				"FROM {{MLA}} WHERE customer = :customer AND " + dateClause +
				" AND any_anomaly = 1 ORDER BY impact_score DESC LIMIT :limit", nil
		},
	}
}

func coerceOptionalDate(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	return engine.DateInt(value)
}

func ptr(f float64) *float64 {
	return &f
}
