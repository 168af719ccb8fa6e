package database

import (
	"fmt"

	"github.com/user/logfan/pkg/sqlutil"
)

// One table per project, created on first sight and never altered.
// The schema matches what log queries need: severity/time scans and
// module/function lookups.
func createTableStmt(project string) (string, error) {
	table, err := sqlutil.QuoteIdent(project)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	level VARCHAR(7) NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	module VARCHAR(50),
	function VARCHAR(50),
	message TEXT NOT NULL,
	code INTEGER NOT NULL DEFAULT 0
)`, table), nil
}

func createIndexStmts(project string) ([]string, error) {
	table, err := sqlutil.QuoteIdent(project)
	if err != nil {
		return nil, err
	}
	levelIdx, err := sqlutil.QuoteIdent(project + "_level_timestamp_idx")
	if err != nil {
		return nil, err
	}
	moduleIdx, err := sqlutil.QuoteIdent(project + "_module_function_idx")
	if err != nil {
		return nil, err
	}
	return []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (level, timestamp)`, levelIdx, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (module, function)`, moduleIdx, table),
	}, nil
}

func insertStmt(project string) (string, error) {
	table, err := sqlutil.QuoteIdent(project)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`INSERT INTO %s (level, timestamp, module, function, message, code) VALUES ($1, $2, $3, $4, $5, $6)`, table), nil
}
