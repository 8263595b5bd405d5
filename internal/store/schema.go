package store

import (
	"context"
	"fmt"
	"strings"
)

// schemaTemplate uses {{key}} for the surrogate key type, {{blob}} for binary
// columns and {{ts}} for timestamps. Statements without tokens pass through.
var schemaTemplate = []string{
	`CREATE TABLE IF NOT EXISTS Voters (
		id_number   VARCHAR(13) PRIMARY KEY,
		name        TEXT NOT NULL,
		surname     TEXT NOT NULL,
		fingerprint {{blob}},
		has_voted   BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS Admins (
		id_number   VARCHAR(13) PRIMARY KEY,
		name        TEXT NOT NULL,
		surname     TEXT NOT NULL,
		fingerprint {{blob}}
	)`,
	`CREATE TABLE IF NOT EXISTS NationalBallot (
		id              {{key}},
		party_name      TEXT NOT NULL,
		candidate_name  TEXT NOT NULL,
		candidate_image {{blob}},
		party_logo      {{blob}}
	)`,
	`CREATE TABLE IF NOT EXISTS RegionalBallot (
		id              {{key}},
		party_name      TEXT NOT NULL,
		candidate_name  TEXT NOT NULL,
		candidate_image {{blob}},
		party_logo      {{blob}},
		region          TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ProvincialBallot (
		id              {{key}},
		party_name      TEXT NOT NULL,
		candidate_name  TEXT NOT NULL,
		candidate_image {{blob}},
		party_logo      {{blob}},
		province        TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS Votes (
		id              {{key}},
		voter_id_number VARCHAR(13) NOT NULL,
		party_name      TEXT NOT NULL,
		candidate_name  TEXT,
		category        TEXT NOT NULL,
		vote_timestamp  {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS FraudAttempts (
		id              {{key}},
		voter_id_number VARCHAR(13) NOT NULL,
		attempt_type    TEXT NOT NULL,
		timestamp       {{ts}} NOT NULL,
		details         TEXT,
		resolved        BOOLEAN NOT NULL DEFAULT FALSE,
		attempt_count   INTEGER NOT NULL DEFAULT 1
	)`,
	auditTableDDL,
	`CREATE INDEX IF NOT EXISTS idx_votes_party ON Votes (party_name, category)`,
	`CREATE INDEX IF NOT EXISTS idx_votes_voter ON Votes (voter_id_number)`,
	`CREATE INDEX IF NOT EXISTS idx_fraud_timestamp ON FraudAttempts (timestamp)`,
}

// auditTableDDL is owned by the console, not the voting backend.
const auditTableDDL = `CREATE TABLE IF NOT EXISTS AuditEvents (
		id              VARCHAR(36) PRIMARY KEY,
		category        TEXT NOT NULL,
		event_timestamp {{ts}} NOT NULL,
		action          TEXT NOT NULL,
		actor_id        TEXT,
		subject         TEXT,
		subject_id_hash TEXT,
		decision        TEXT,
		reason          TEXT
	)`

// Schema returns the DDL statements for d.
func Schema(d Dialect) []string {
	out := make([]string, 0, len(schemaTemplate))
	for _, stmt := range schemaTemplate {
		out = append(out, render(stmt, d))
	}
	return out
}

var (
	postgresTypes = strings.NewReplacer("{{key}}", "BIGSERIAL PRIMARY KEY", "{{blob}}", "BYTEA", "{{ts}}", "TIMESTAMPTZ")
	sqliteTypes   = strings.NewReplacer("{{key}}", "INTEGER PRIMARY KEY AUTOINCREMENT", "{{blob}}", "BLOB", "{{ts}}", "TIMESTAMP")
)

func render(stmt string, d Dialect) string {
	if d == DialectSQLite {
		return sqliteTypes.Replace(stmt)
	}
	return postgresTypes.Replace(stmt)
}

// Migrate creates any missing tables. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	ctx, span := s.span(ctx, "migrate")
	var err error
	defer func() { endSpan(span, err) }()

	for _, stmt := range Schema(s.dialect) {
		if _, err = s.exec(ctx, stmt); err != nil {
			name := strings.Fields(stmt)
			return fmt.Errorf("migrate %s: %w", strings.Join(name[:min(6, len(name))], " "), err)
		}
	}
	return nil
}

// MigrateAudit creates the AuditEvents table only. Used against backends whose
// voting schema is managed elsewhere.
func (s *Store) MigrateAudit(ctx context.Context) error {
	ctx, span := s.span(ctx, "migrate_audit")
	var err error
	defer func() { endSpan(span, err) }()

	if _, err = s.exec(ctx, render(auditTableDDL, s.dialect)); err != nil {
		return fmt.Errorf("migrate audit table: %w", err)
	}
	return nil
}
