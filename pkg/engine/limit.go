package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var limitPattern = regexp.MustCompile(`(?i)\blimit\b\s+(\d+)`)

// ApplyLimit bounds every executed statement. The effective cap is the
// requested cap (or defaultCap when requested <= 0), clamped to [1, maxCap].
// If the statement already carries a LIMIT n clause, the clause only ever
// tightens: the result is min(n, effective cap), rewritten in place when it
// differs from n. Statements without a LIMIT get one appended.
func ApplyLimit(sql string, requested, defaultCap, maxCap int) (string, int) {
	cap := requested
	if cap <= 0 {
		cap = defaultCap
	}
	if cap < 1 {
		cap = 1
	}
	if maxCap > 0 && cap > maxCap {
		cap = maxCap
	}

	if loc := limitPattern.FindStringSubmatchIndex(sql); loc != nil {
		existing, err := strconv.Atoi(sql[loc[2]:loc[3]])
		if err != nil {
			existing = cap
		}
		adjusted := existing
		if cap < adjusted {
			adjusted = cap
		}
		if adjusted != existing {
			sql = sql[:loc[0]] + fmt.Sprintf("LIMIT %d", adjusted) + sql[loc[1]:]
		}
		return sql, adjusted
	}

	sql = strings.TrimRight(strings.TrimSpace(sql), ";")
	return fmt.Sprintf("%s LIMIT %d", sql, cap), cap
}
