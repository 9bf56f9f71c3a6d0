package database

import (
	"context"
	"fmt"
	"regexp"
)

// AllowedTables is the closed set of identifiers any dynamic SQL may name.
// Everything else is a bound parameter. Checked once at bootstrap.
var AllowedTables = map[string]bool{
	"rules":           true,
	"pending_rules":   true,
	"corrections":     true,
	"learned_patterns": true,
	"email_threads":   true,
	"digest_sessions": true,
	"confidence_logs": true,
	"ab_test_runs":    true,
	"ab_test_metrics": true,
	"categories":      true,
}

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidateIdentifier rejects any identifier outside the allowlist shape.
// Used for the few spots that take a column name (report ordering).
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid sql identifier: %q", name)
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		pattern_type TEXT NOT NULL,
		pattern TEXT NOT NULL,
		category TEXT NOT NULL,
		confidence INTEGER NOT NULL DEFAULT 85,
		use_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, pattern_type, pattern, category)
	)`,
	`CREATE TABLE IF NOT EXISTS pending_rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		pattern_type TEXT NOT NULL,
		pattern TEXT NOT NULL,
		category TEXT NOT NULL,
		seen_count INTEGER NOT NULL DEFAULT 1,
		last_seen TIMESTAMP NOT NULL,
		UNIQUE(user_id, pattern_type, pattern, category)
	)`,
	`CREATE TABLE IF NOT EXISTS corrections (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		sender TEXT NOT NULL,
		subject TEXT NOT NULL,
		snippet TEXT,
		predicted_type TEXT NOT NULL,
		actual_type TEXT NOT NULL,
		predicted_label TEXT,
		actual_label TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS learned_patterns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pattern_type TEXT NOT NULL,
		pattern_value TEXT NOT NULL,
		classification_json TEXT NOT NULL,
		support_count INTEGER NOT NULL DEFAULT 1,
		confidence REAL NOT NULL DEFAULT 0,
		first_seen TIMESTAMP NOT NULL,
		last_seen TIMESTAMP NOT NULL,
		UNIQUE(pattern_type, pattern_value)
	)`,
	`CREATE TABLE IF NOT EXISTS email_threads (
		thread_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		last_subject TEXT,
		last_sender TEXT,
		type TEXT,
		client_label TEXT,
		last_seen_at TIMESTAMP,
		updated_at TIMESTAMP,
		PRIMARY KEY (thread_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS digest_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		total_fetched INTEGER NOT NULL DEFAULT 0,
		total_parsed INTEGER NOT NULL DEFAULT 0,
		total_deduped INTEGER NOT NULL DEFAULT 0,
		featured_n INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		generated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS confidence_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		type TEXT NOT NULL,
		type_conf REAL NOT NULL,
		importance TEXT NOT NULL,
		importance_conf REAL NOT NULL,
		attention TEXT NOT NULL,
		attention_conf REAL NOT NULL,
		relationship TEXT NOT NULL,
		relationship_conf REAL NOT NULL,
		decider TEXT NOT NULL,
		client_label TEXT NOT NULL,
		model_name TEXT NOT NULL,
		model_version TEXT NOT NULL,
		prompt_version TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(message_id, model_version, prompt_version)
	)`,
	`CREATE TABLE IF NOT EXISTS ab_test_runs (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		variant TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ab_test_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		name TEXT NOT NULL,
		value REAL NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS categories (
		type TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		description TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rules_user ON rules(user_id, pattern_type)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_rules_user ON pending_rules(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_corrections_user ON corrections(user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_confidence_logs_message ON confidence_logs(message_id)`,
	`CREATE INDEX IF NOT EXISTS idx_ab_metrics_run ON ab_test_metrics(run_id)`,
}

// Columns added after the original schema shipped. Applied only when the
// column is missing so bootstrap stays idempotent.
var schemaMigrations = []struct {
	table  string
	column string
	ddl    string
}{
	{"confidence_logs", "normalized_input_digest",
		"ALTER TABLE confidence_logs ADD COLUMN normalized_input_digest TEXT"},
	{"digest_sessions", "variant",
		"ALTER TABLE digest_sessions ADD COLUMN variant TEXT NOT NULL DEFAULT 'baseline'"},
	{"rules", "updated_at",
		"ALTER TABLE rules ADD COLUMN updated_at TIMESTAMP"},
}

var categorySeed = []struct {
	typ  string
	name string
	desc string
}{
	{"otp", "Verification Codes", "One-time passcodes and sign-in codes"},
	{"notification", "Notifications", "Automated service notifications"},
	{"receipt", "Receipts", "Purchases, orders, and payment confirmations"},
	{"event", "Events", "Calendar invitations and event updates"},
	{"promotion", "Promotions", "Sales, offers, and marketing"},
	{"newsletter", "Newsletters", "Periodicals and digests"},
	{"message", "Messages", "Personal correspondence"},
	{"uncategorized", "Everything Else", "Not yet categorized"},
}

// Bootstrap creates the schema once per process. Idempotent: create-if-
// missing plus column adds guarded by PRAGMA table_info. No validation
// beyond creation happens here; runtime checks belong to the components.
// Schema failures here are fatal to startup.
func (d *DB) Bootstrap(ctx context.Context) error {
	for table := range AllowedTables {
		if err := ValidateIdentifier(table); err != nil {
			return err
		}
	}

	for _, stmt := range schemaStatements {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	for _, m := range schemaMigrations {
		exists, err := d.columnExists(ctx, m.table, m.column)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := d.db.ExecContext(ctx, m.ddl); err != nil {
			return fmt.Errorf("failed to add column %s.%s: %w", m.table, m.column, err)
		}
		d.log.Info().Str("table", m.table).Str("column", m.column).Msg("schema column added")
	}

	for _, c := range categorySeed {
		_, err := d.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO categories (type, display_name, description) VALUES (?, ?, ?)`,
			c.typ, c.name, c.desc)
		if err != nil {
			return fmt.Errorf("failed to seed categories: %w", err)
		}
	}

	d.log.Info().Int("tables", len(AllowedTables)).Msg("schema bootstrap complete")
	return nil
}

func (d *DB) columnExists(ctx context.Context, table, column string) (bool, error) {
	if !AllowedTables[table] {
		return false, fmt.Errorf("table %q is not in the allowlist", table)
	}

	rows, err := d.db.QueryxContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, fmt.Errorf("failed to scan table info: %w", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
