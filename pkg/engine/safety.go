package engine

import (
	"fmt"
	"regexp"
	"strings"
)

// forbiddenPattern matches mutating or data-movement keywords as whole words,
// so column names merely containing a keyword are not falsely rejected.
var forbiddenPattern = regexp.MustCompile(
	`(?i)\b(DELETE|UPDATE|INSERT|DROP|TRUNCATE|ALTER|CREATE|COPY|UNLOAD|GRANT|REVOKE)\b`)

// ValidateReadOnly enforces that sql is a single read-only statement. It must
// be called on fully macro-expanded text: macros may introduce keywords, so
// validating the raw template would be unsound.
func ValidateReadOnly(sql string) error {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return &RejectedStatementError{Reason: "SQL query cannot be empty"}
	}
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return &RejectedStatementError{Reason: "only SELECT or WITH queries are allowed"}
	}
	if kw := forbiddenPattern.FindString(trimmed); kw != "" {
		return &RejectedStatementError{
			Reason: fmt.Sprintf("forbidden keyword detected: %s", strings.ToUpper(kw)),
		}
	}
	return nil
}
