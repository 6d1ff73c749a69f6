package sqldb

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	sqliteSchemaName   = "schema/sqlite.sql"
	postgresSchemaName = "schema/postgres.sql"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// LoadSchema returns the embedded schema for a driver.
func LoadSchema(driver string) (string, error) {
	name := sqliteSchemaName
	if driver == DriverPostgres {
		name = postgresSchemaName
	}
	data, err := schemaFS.ReadFile(name)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// schemaStatements splits a schema file into individual statements.
func schemaStatements(schema string) []string {
	var stmts []string
	for _, part := range strings.Split(schema, ";\n") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, strings.TrimSuffix(stmt, ";"))
		}
	}
	return stmts
}

// Migrate creates any missing tables and indexes. Every statement is
// idempotent, so Migrate is safe to run on each start.
func (s *Store) Migrate(ctx context.Context) error {
	schema, err := LoadSchema(s.Driver())
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	stmts := schemaStatements(schema)
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return wrapDBError("migrate", err)
		}
	}
	s.log.Debug("schema applied", zap.String("driver", s.Driver()), zap.Int("statements", len(stmts)))
	return nil
}
