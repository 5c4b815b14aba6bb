package sqlgen

import (
	"fmt"
	"regexp"
	"strings"
)

// Keywords that can mutate state or escape the read-only contract. Any
// occurrence as a standalone token rejects the statement.
var deniedKeywords = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|truncate|merge|grant|revoke|exec|execute|attach|detach|pragma|vacuum|replace)\b`)

var commentMarkers = []string{"--", "/*", "#"}

// CheckReadOnly enforces the safety gate: exactly one SELECT-shaped
// statement, no mutating keywords, no comments, no statement chaining.
func CheckReadOnly(sqlText string) error {
	stmt := strings.TrimSpace(sqlText)
	if stmt == "" {
		return fmt.Errorf("empty statement")
	}

	// A single trailing semicolon is tolerated; anything beyond it is
	// statement chaining.
	stmt = strings.TrimSuffix(stmt, ";")
	if strings.Contains(stmt, ";") {
		return fmt.Errorf("multiple statements are not allowed")
	}

	for _, marker := range commentMarkers {
		if strings.Contains(stmt, marker) {
			return fmt.Errorf("comment sequences are not allowed: %q", marker)
		}
	}

	upper := strings.ToUpper(strings.TrimSpace(stmt))
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return fmt.Errorf("only SELECT statements are allowed")
	}

	if m := deniedKeywords.FindString(stmt); m != "" {
		return fmt.Errorf("statement contains denied keyword %q", strings.ToUpper(m))
	}

	return nil
}
