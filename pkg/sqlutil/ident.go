package sqlutil

import (
	"fmt"
	"regexp"
	"strings"
)

// Table and index names are built from record project names; only
// word characters, whitespace and hyphens may pass into a quoted
// identifier.
var identRe = regexp.MustCompile(`^[\w\s\-]+$`)

// QuoteIdent validates and double-quotes a PostgreSQL identifier.
// Whitespace and hyphens are allowed because per-project table names
// come straight from the record's project field.
func QuoteIdent(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty identifier")
	}
	if !identRe.MatchString(name) {
		return "", fmt.Errorf("invalid identifier: %s", name)
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`, nil
}
