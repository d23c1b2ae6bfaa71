package mysql

import (
	"fmt"
	"strings"
)

// Key columns use utf8mb4_bin so lookups and uniqueness are case and accent sensitive.
const outboxSchemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id CHAR(36) NOT NULL,
	action_type VARCHAR(16) NOT NULL,
	payload %s NOT NULL,
	business_key VARCHAR(191) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NULL,
	status VARCHAR(16) NOT NULL DEFAULT 'pending',
	attempted_count INT NOT NULL DEFAULT 0,
	next_attempt_at DATETIME(6) NULL,
	expires_at DATETIME(6) NULL,
	claim_id CHAR(36) NULL,
	claimed_at DATETIME(6) NULL,
	last_error VARCHAR(1024) NULL,
	created_at DATETIME(6) NOT NULL,
	updated_at DATETIME(6) NOT NULL,
	processed_at DATETIME(6) NULL,
	PRIMARY KEY (id),
	UNIQUE KEY uq_business_key (business_key),
	INDEX idx_status_created (status, created_at),
	INDEX idx_status_updated (status, updated_at),
	INDEX idx_expires (expires_at)
);`

const idempotencySchemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	actor_id VARCHAR(191) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL,
	idempotency_key VARCHAR(191) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL,
	endpoint VARCHAR(191) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL,
	client_tx_id VARCHAR(191) NULL,
	claim_token CHAR(36) NULL,
	payload_hash VARCHAR(128) NOT NULL,
	status VARCHAR(16) NOT NULL,
	response_payload LONGBLOB NULL,
	response_status INT NULL,
	error_details TEXT NULL,
	created_at DATETIME(6) NOT NULL,
	expires_at DATETIME(6) NOT NULL,
	PRIMARY KEY (actor_id, idempotency_key, endpoint),
	INDEX idx_expires (expires_at)
);`

const counterSchemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	actor_id VARCHAR(191) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL,
	resource VARCHAR(191) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL,
	window_start DATETIME(6) NOT NULL,
	counter BIGINT NOT NULL,
	expires_at DATETIME(6) NOT NULL,
	PRIMARY KEY (actor_id, resource, window_start),
	INDEX idx_expires (expires_at)
);`

const (
	payloadJSON   = "JSON"
	payloadBinary = "LONGBLOB"
)

// OutboxSchema returns the outbox table DDL with a JSON payload column.
func OutboxSchema(table string) (string, error) {
	return buildSchema(outboxSchemaTemplate, table, payloadJSON)
}

// OutboxSchemaBinary returns the outbox table DDL with a LONGBLOB payload column.
// Use it together with WithValidateJSON(false).
func OutboxSchemaBinary(table string) (string, error) {
	return buildSchema(outboxSchemaTemplate, table, payloadBinary)
}

// IdempotencySchema returns the idempotency table DDL.
func IdempotencySchema(table string) (string, error) {
	return buildSchema(idempotencySchemaTemplate, table)
}

// CounterSchema returns the rate-limit counter table DDL.
func CounterSchema(table string) (string, error) {
	return buildSchema(counterSchemaTemplate, table)
}

// Schema returns the DDL for all three tables, separated by blank lines.
func Schema(tables Tables) (string, error) {
	return schema(tables, OutboxSchema)
}

// SchemaBinary is Schema with a LONGBLOB outbox payload column.
func SchemaBinary(tables Tables) (string, error) {
	return schema(tables, OutboxSchemaBinary)
}

func schema(tables Tables, outboxDDL func(string) (string, error)) (string, error) {
	tables = tables.withDefaults()

	parts := make([]string, 0, 3)
	for _, build := range []func() (string, error){
		func() (string, error) { return outboxDDL(tables.Outbox) },
		func() (string, error) { return IdempotencySchema(tables.Idempotency) },
		func() (string, error) { return CounterSchema(tables.Counters) },
	} {
		ddl, err := build()
		if err != nil {
			return "", err
		}
		parts = append(parts, ddl)
	}

	return strings.Join(parts, "\n\n"), nil
}

func buildSchema(template, table string, extra ...any) (string, error) {
	name, err := sanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(template, append([]any{name}, extra...)...), nil
}
