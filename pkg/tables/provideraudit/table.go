// Package provideraudit defines the monitoring_prod.provider_combined_audit
// table: the audit trail of provider-level monitoring events and issues.
package provideraudit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/farescope/dsmcp/pkg/engine"
)

const (
	schemaName = "monitoring_prod"
	tableName  = "provider_combined_audit"

	eventTSExpr = "COALESCE(observationtimestamp, actualscheduletimestamp)"
	issueExpr   = "COALESCE(NULLIF(TRIM(issue_reasons::VARCHAR), ''), NULLIF(TRIM(issue_sources::VARCHAR), ''))"
)

// Grouping dimensions accepted by issue_scope, with their SELECT expressions.
var scopeDims = map[string]string{
	"obs_hour":    "DATE_TRUNC('hour', " + eventTSExpr + ") AS obs_hour",
	"pos":         "NULLIF(TRIM(pos::VARCHAR), '') AS pos",
	"od":          "(originairportcode || '-' || destinationairportcode) AS od",
	"cabin":       "NULLIF(TRIM(cabin::VARCHAR), '') AS cabin",
	"triptype":    "NULLIF(TRIM(triptype::VARCHAR), '') AS triptype",
	"los":         "los::VARCHAR AS los",
	"depart_week": "DATE_TRUNC('week', TO_DATE(departdate::VARCHAR, 'YYYYMMDD')) AS depart_week",
	"depart_dow":  "EXTRACT(DOW FROM TO_DATE(departdate::VARCHAR, 'YYYYMMDD'))::INT AS depart_dow",
}

// Dimensions that also get an IS NOT NULL filter when grouped on.
var scopeDimFilters = map[string]string{
	"pos":      "pos IS NOT NULL",
	"cabin":    "cabin IS NOT NULL",
	"triptype": "triptype IS NOT NULL",
	"los":      "los IS NOT NULL",
}

// Columns exposed to top_by_dimension. The dim name is spliced into SQL, so
// only values from this list are ever accepted.
var topDimensions = []string{
	"providercode", "sitecode", "pos", "cabin", "triptype", "response_statuses",
	"issue_sources", "issue_reasons",
}

// Definition returns the declarative table definition.
func Definition() *engine.TableDef {
	return &engine.TableDef{
		Slug:        "provider_combined_audit",
		SchemaName:  schemaName,
		TableName:   tableName,
		DisplayName: "Provider Combined Audit",
		Description: "Audit trail for provider-level monitoring. Contains historical " +
			"events and changes to combined provider monitoring data.",
		QueryToolName: "query_audit",
		DefaultLimit:  100,
		MaxLimit:      1000,
		Macros: map[string]engine.MacroValue{
			"PCA":        engine.Literal(schemaName + "." + tableName),
			"EVENT_TS":   engine.Computed(expandEventTS),
			"OD":         engine.Literal("(originairportcode || '-' || destinationairportcode)"),
			"OBS_HOUR":   engine.Literal("DATE_TRUNC('hour', " + eventTSExpr + ")"),
			"ISSUE_TYPE": engine.Literal(issueExpr),
			"IS_SITE":    engine.Literal("NULLIF(TRIM(sitecode::VARCHAR), '') IS NOT NULL"),
		},
		Metadata: map[string]any{
			"primary_key": "unknown",
			"notes":       "Use get_table_schema to see actual columns and types",
		},
		Tools: []engine.ToolSpec{
			dateRangeSpec(),
			rowsBySalesDateSpec(),
			topByDimensionSpec(),
			topSiteIssuesSpec(),
			listProviderSitesSpec(),
			overviewSiteIssuesTodaySpec(),
			dailyStatusTotalsSpec(),
			topIssuePairsSpec(),
			issueScopeSpec(),
		},
	}
}

// expandEventTS renders the best-effort event timestamp, aliased on request
// so ORDER BY can reference it by name.
func expandEventTS(alias string) string {
	if alias == "" {
		return eventTSExpr
	}
	return eventTSExpr + " AS " + alias
}

func dateRangeSpec() engine.ToolSpec {
	return engine.ToolSpec{
		Name:      "get_date_range",
		Doc:       "Min and max sales_date available in the table.",
		SQL:       "SELECT MIN(sales_date) AS min_date, MAX(sales_date) AS max_date FROM {{PCA}}",
		SkipLimit: true,
	}
}

func rowsBySalesDateSpec() engine.ToolSpec {
	return engine.ToolSpec{
		Name: "get_rows_by_sales_date",
		Doc:  "Rows for a sales_date, newest events first.",
		SQL: "SELECT *, {{EVENT_TS:event_ts}} FROM {{PCA}} " +
			"WHERE sales_date = :sales_date " +
			"ORDER BY event_ts DESC NULLS LAST",
		Params: []engine.ParamSpec{
			{
				Name:        "sales_date",
				Description: "YYYYMMDD integer.",
				Type:        engine.TypeInt,
				Required:    true,
				Coerce:      engine.DateInt,
			},
			{
				Name:        "limit",
				Description: "Rows to return.",
				Type:        engine.TypeInt,
				Default:     100,
				Min:         ptr(1),
				Max:         ptr(200),
				OmitFromSQL: true,
			},
		},
		MaxRowsParam: "limit",
	}
}

func topByDimensionSpec() engine.ToolSpec {
	return engine.ToolSpec{
		Name: "get_top_by_dimension",
		Doc: "Top values by count for a dimension column (" +
			strings.Join(topDimensions, ", ") + "). Optional sales_date filter.",
		Params: []engine.ParamSpec{
			{
				Name:        "dim_column",
				Description: "Column to group by.",
				Type:        engine.TypeString,
				Required:    true,
				Coerce:      engine.LowerString,
				Choices:     topDimensions,
				AsLiteral:   true,
			},
			{
				Name:        "sales_date",
				Description: "Optional YYYYMMDD filter.",
				Type:        engine.TypeInt,
				Coerce:      coerceOptionalDate,
			},
			{
				Name:        "top_n",
				Description: "Rows to return.",
				Type:        engine.TypeInt,
				Default:     20,
				Min:         ptr(1),
				Max:         ptr(200),
				OmitFromSQL: true,
			},
		},
		MaxRowsParam: "top_n",
		Prepare: func(values map[string]any) (string, error) {
			where := ""
			if values["sales_date"] != nil {
				where = "WHERE sales_date = :sales_date "
			}
			return "SELECT :dim_column AS dim_value, COUNT(*) AS cnt FROM {{PCA}} " +
				where + "GROUP BY :dim_column ORDER BY cnt DESC NULLS LAST", nil
		},
	}
}

func providerParam() engine.ParamSpec {
	return engine.ParamSpec{
		Name:        "provider",
		Description: "Provider code, matched case-insensitively as a substring.",
		Type:        engine.TypeString,
		Required:    true,
		Transform:   wrapLike,
	}
}

func lookbackParam() engine.ParamSpec {
	return engine.ParamSpec{
		Name:        "lookback_days",
		Description: "Days of history to scan.",
		Type:        engine.TypeInt,
		Default:     7,
		Min:         ptr(1),
		Max:         ptr(90),
		AsLiteral:   true,
	}
}

func topSiteIssuesSpec() engine.ToolSpec {
	return engine.ToolSpec{
		Name: "top_site_issues",
		Doc:  "Most frequent issue types for a provider over a lookback window.",
		SQL: "SELECT {{ISSUE_TYPE}} AS issue_key, COUNT(*) AS cnt FROM {{PCA}} " +
			"WHERE providercode ILIKE :provider " +
			"AND " + salesDateBoundMacro() + " " +
			"AND {{ISSUE_TYPE}} IS NOT NULL " +
			"GROUP BY 1 ORDER BY 2 DESC",
		Params: []engine.ParamSpec{
			providerParam(),
			lookbackParam(),
			limitParam(10, 50),
		},
		MaxRowsParam: "limit",
	}
}

func listProviderSitesSpec() engine.ToolSpec {
	return engine.ToolSpec{
		Name: "list_provider_sites",
		Doc:  "Sites with issues for a provider over a lookback window.",
		SQL: "SELECT NULLIF(TRIM(sitecode::VARCHAR), '') AS site, COUNT(*) AS cnt FROM {{PCA}} " +
			"WHERE providercode ILIKE :provider " +
			"AND " + salesDateBoundMacro() + " " +
			"AND {{ISSUE_TYPE}} IS NOT NULL " +
			"AND {{IS_SITE}} " +
			"GROUP BY 1 ORDER BY 2 DESC",
		Params: []engine.ParamSpec{
			providerParam(),
			lookbackParam(),
			limitParam(10, 50),
		},
		MaxRowsParam: "limit",
	}
}

func overviewSiteIssuesTodaySpec() engine.ToolSpec {
	return engine.ToolSpec{
		Name: "overview_site_issues_today",
		Doc:  "Today's issue volume by issue key, provider, pos, and observation hour.",
		SQL: "SELECT " +
			"NULLIF(TRIM(LOWER(COALESCE(issue_reasons::VARCHAR, issue_sources::VARCHAR))), '') AS issue_key, " +
			"NULLIF(TRIM(providercode::VARCHAR), '') AS provider, " +
			"NULLIF(TRIM(pos::VARCHAR), '') AS pos, " +
			"{{OBS_HOUR}} AS obs_hour, " +
			"COUNT(*) AS cnt " +
			"FROM {{PCA}} WHERE sales_date = {{TODAY}} " +
			"AND {{ISSUE_TYPE}} IS NOT NULL " +
			"GROUP BY 1, 2, 3, 4 ORDER BY 5 DESC",
		Params: []engine.ParamSpec{
			{
				Name:        "per_dim_limit",
				Description: "Maximum buckets to return.",
				Type:        engine.TypeInt,
				Default:     50,
				Min:         ptr(1),
				Max:         ptr(500),
				OmitFromSQL: true,
			},
		},
		MaxRowsParam: "per_dim_limit",
	}
}

func dailyStatusTotalsSpec() engine.ToolSpec {
	return engine.ToolSpec{
		Name: "daily_status_totals",
		Doc:  "Row, success, and failure totals with failure rate for a sales_date (latest by default).",
		Params: []engine.ParamSpec{
			optionalSalesDateParam(),
		},
		SkipLimit: true,
		Prepare: func(values map[string]any) (string, error) {
			return "WITH base AS (" +
				"SELECT response_statuses FROM {{PCA}} WHERE " + salesDateFilter(values) +
				") SELECT " +
				"COUNT(*) AS total_rows, " +
				"SUM(CASE WHEN response_statuses = 'success' THEN 1 ELSE 0 END) AS total_success, " +
				"SUM(CASE WHEN response_statuses <> 'success' THEN 1 ELSE 0 END) AS total_failed, " +
				"ROUND(100.0 * SUM(CASE WHEN response_statuses <> 'success' THEN 1 ELSE 0 END) / NULLIF(COUNT(*), 0), 2) AS failure_rate " +
				"FROM base", nil
		},
	}
}

func topIssuePairsSpec() engine.ToolSpec {
	return engine.ToolSpec{
		Name: "top_issue_pairs",
		Doc:  "Top (issue_sources, issue_reasons) pairs by failure count for a sales_date (latest by default).",
		Params: []engine.ParamSpec{
			optionalSalesDateParam(),
			{
				Name:        "top_n",
				Description: "Issue pairs to return.",
				Type:        engine.TypeInt,
				Default:     10,
				Min:         ptr(1),
				Max:         ptr(50),
				OmitFromSQL: true,
			},
		},
		MaxRowsParam: "top_n",
		Prepare: func(values map[string]any) (string, error) {
			return "WITH base AS (SELECT " +
				"COALESCE(NULLIF(TRIM(issue_sources::VARCHAR), ''), '(null)') AS issue_sources, " +
				"COALESCE(NULLIF(TRIM(issue_reasons::VARCHAR), ''), '(null)') AS issue_reasons " +
				"FROM {{PCA}} WHERE " + salesDateFilter(values) +
				" AND response_statuses <> 'success'" +
				") SELECT issue_sources, issue_reasons, COUNT(*) AS failed_count " +
				"FROM base GROUP BY 1, 2 ORDER BY failed_count DESC NULLS LAST", nil
		},
	}
}

func optionalSalesDateParam() engine.ParamSpec {
	return engine.ParamSpec{
		Name:        "sales_date",
		Description: "Optional YYYYMMDD; defaults to the latest date in the table.",
		Type:        engine.TypeInt,
		Coerce:      coerceOptionalDate,
	}
}

// salesDateFilter targets the supplied sales_date, or the latest one present
// when the caller gave none.
func salesDateFilter(values map[string]any) string {
	if values["sales_date"] == nil {
		return "sales_date = (SELECT MAX(sales_date) FROM {{PCA}})"
	}
	return "sales_date = :sales_date"
}

func issueScopeSpec() engine.ToolSpec {
	dimNames := make([]string, 0, len(scopeDims))
	for name := range scopeDims {
		dimNames = append(dimNames, name)
	}
	sort.Strings(dimNames)
	return engine.ToolSpec{
		Name: "issue_scope",
		Doc: "Issue volume for a provider and site grouped by 2 to 4 dimensions " +
			"(obs_hour, pos, od, cabin, triptype, los, depart_week, depart_dow).",
		Params: []engine.ParamSpec{
			providerParam(),
			{
				Name:        "site",
				Description: "Site code, matched case-insensitively as a substring.",
				Type:        engine.TypeString,
				Required:    true,
				Transform:   wrapLike,
			},
			{
				Name:        "dims",
				Description: "2 to 4 grouping dimensions.",
				Type:        engine.TypeString,
				Kind:        engine.List,
				Required:    true,
				Coerce:      engine.LowerString,
				Choices:     dimNames,
				OmitFromSQL: true,
			},
			lookbackParam(),
			limitParam(200, 2000),
		},
		MaxRowsParam: "limit",
		Prepare:      prepareIssueScope,
	}
}

// prepareIssueScope synthesizes the SELECT and GROUP BY lists from the
// validated dims list.
func prepareIssueScope(values map[string]any) (string, error) {
	dims, _ := values["dims"].([]any)
	if len(dims) < 2 || len(dims) > 4 {
		return "", fmt.Errorf("dims must contain 2 to 4 valid items")
	}

	selectCols := make([]string, 0, len(dims))
	groupBy := make([]string, 0, len(dims))
	extra := make([]string, 0, len(dims))
	for i, d := range dims {
		name := d.(string)
		selectCols = append(selectCols, scopeDims[name])
		groupBy = append(groupBy, fmt.Sprintf("%d", i+1))
		if f, ok := scopeDimFilters[name]; ok {
			extra = append(extra, f)
		}
	}

	extraWhere := ""
	if len(extra) > 0 {
		extraWhere = " AND " + strings.Join(extra, " AND ")
	}

	sql := "SELECT " + strings.Join(selectCols, ", ") + ", COUNT(*) AS cnt " +
		"FROM {{PCA}} " +
		"WHERE providercode ILIKE :provider " +
		"AND sitecode ILIKE :site " +
		"AND " + salesDateBoundMacro() + " " +
		"AND " + issueExpr + " IS NOT NULL" + extraWhere + " " +
		"GROUP BY " + strings.Join(groupBy, ", ") + " " +
		"ORDER BY cnt DESC"
	return sql, nil
}

// salesDateBoundMacro embeds the lookback bound with the literal
// lookback_days spliced by the renderer.
func salesDateBoundMacro() string {
	return "sales_date >= CAST(TO_CHAR(CURRENT_DATE - :lookback_days, 'YYYYMMDD') AS INT)"
}

func limitParam(def, max float64) engine.ParamSpec {
	return engine.ParamSpec{
		Name:        "limit",
		Description: "Rows to return.",
		Type:        engine.TypeInt,
		Default:     int(def),
		Min:         ptr(1),
		Max:         ptr(max),
		OmitFromSQL: true,
	}
}

func coerceOptionalDate(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	return engine.DateInt(value)
}

func wrapLike(value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("must be a string, got %T", value)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("must not be empty")
	}
	return "%" + s + "%", nil
}

func ptr(f float64) *float64 {
	return &f
}
