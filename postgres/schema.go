package postgres

import (
	"fmt"
	"strings"
)

const outboxSchemaTemplate = `CREATE TABLE IF NOT EXISTS %[1]s (
	id UUID PRIMARY KEY,
	action_type VARCHAR(16) NOT NULL,
	payload JSONB NOT NULL,
	business_key VARCHAR(191) NULL UNIQUE,
	status VARCHAR(16) NOT NULL DEFAULT 'pending',
	attempted_count INTEGER NOT NULL DEFAULT 0,
	next_attempt_at TIMESTAMPTZ NULL,
	expires_at TIMESTAMPTZ NULL,
	claim_id UUID NULL,
	claimed_at TIMESTAMPTZ NULL,
	last_error VARCHAR(1024) NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	processed_at TIMESTAMPTZ NULL
);
CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (status, created_at);
CREATE INDEX IF NOT EXISTS %[3]s ON %[1]s (status, updated_at);
CREATE INDEX IF NOT EXISTS %[4]s ON %[1]s (expires_at) WHERE expires_at IS NOT NULL;`

const idempotencySchemaTemplate = `CREATE TABLE IF NOT EXISTS %[1]s (
	actor_id VARCHAR(191) NOT NULL,
	idempotency_key VARCHAR(191) NOT NULL,
	endpoint VARCHAR(191) NOT NULL,
	client_tx_id VARCHAR(191) NULL,
	claim_token VARCHAR(36) NULL,
	payload_hash VARCHAR(128) NOT NULL,
	status VARCHAR(16) NOT NULL,
	response_payload BYTEA NULL,
	response_status INTEGER NULL,
	error_details TEXT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (actor_id, idempotency_key, endpoint)
);
CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (expires_at);`

const counterSchemaTemplate = `CREATE TABLE IF NOT EXISTS %[1]s (
	actor_id VARCHAR(191) NOT NULL,
	resource VARCHAR(191) NOT NULL,
	window_start TIMESTAMPTZ NOT NULL,
	counter BIGINT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (actor_id, resource, window_start)
);
CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (expires_at);`

// OutboxSchema returns the outbox table DDL.
func OutboxSchema(table string) (string, error) {
	name, err := sanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(
		outboxSchemaTemplate,
		name,
		indexName(name, "status_created_idx"),
		indexName(name, "status_updated_idx"),
		indexName(name, "expires_idx"),
	), nil
}

// IdempotencySchema returns the idempotency table DDL.
func IdempotencySchema(table string) (string, error) {
	name, err := sanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(idempotencySchemaTemplate, name, indexName(name, "expires_idx")), nil
}

// CounterSchema returns the rate-limit counter table DDL.
func CounterSchema(table string) (string, error) {
	name, err := sanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(counterSchemaTemplate, name, indexName(name, "expires_idx")), nil
}

// Schema returns the DDL for all three tables.
func Schema(tables Tables) (string, error) {
	tables = tables.withDefaults()

	outbox, err := OutboxSchema(tables.Outbox)
	if err != nil {
		return "", err
	}
	idem, err := IdempotencySchema(tables.Idempotency)
	if err != nil {
		return "", err
	}
	counters, err := CounterSchema(tables.Counters)
	if err != nil {
		return "", err
	}

	return strings.Join([]string{outbox, idem, counters}, "\n\n"), nil
}
