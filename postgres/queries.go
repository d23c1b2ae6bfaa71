package postgres

import (
	"fmt"
	"strings"
)

const (
	outboxColumns = "id, action_type, payload, business_key, status, attempted_count, next_attempt_at, " +
		"expires_at, claim_id, claimed_at, last_error, created_at, updated_at, processed_at"
	// claimablePredicate binds $1 to now, $2 to the lease cutoff and $3 to max attempts.
	claimablePredicate = "((status = 'pending' AND (next_attempt_at IS NULL OR next_attempt_at <= $1) " +
		"AND (claimed_at IS NULL OR claimed_at < $2)) " +
		"OR (status = 'in_progress' AND claimed_at < $2 AND attempted_count < $3)) " +
		"AND (expires_at IS NULL OR expires_at > $1)"
	idempotencyColumns = "actor_id, idempotency_key, endpoint, client_tx_id, claim_token, payload_hash, status, " +
		"response_payload, response_status, error_details, created_at, expires_at"
)

type outboxQueries struct {
	insert       string
	claim        string
	hasClaimable string
	ack          string
	get          string
	countPending string
	expire       string
	abandon      string
	prune        string
}

func newOutboxQueries(table string) outboxQueries {
	// #nosec G201 -- table names are sanitized.
	return outboxQueries{
		insert: fmt.Sprintf(
			"INSERT INTO %s (id, action_type, payload, business_key, status, attempted_count, "+
				"next_attempt_at, expires_at, created_at, updated_at) "+
				"VALUES ($1, $2, $3, $4, 'pending', 0, $5, $6, $7, $7) "+
				"ON CONFLICT (business_key) DO NOTHING",
			table,
		),
		claim: fmt.Sprintf(
			"WITH picked AS (SELECT id FROM %[1]s WHERE %[2]s ORDER BY created_at ASC, id ASC LIMIT $4 FOR UPDATE SKIP LOCKED) "+
				"UPDATE %[1]s AS o SET status = 'in_progress', claim_id = $5, claimed_at = $1, "+
				"attempted_count = o.attempted_count + 1, updated_at = $1 "+
				"FROM picked WHERE o.id = picked.id RETURNING %[3]s",
			table,
			claimablePredicate,
			qualified("o", outboxColumns),
		),
		hasClaimable: fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s)", table, claimablePredicate),
		ack: fmt.Sprintf(
			"UPDATE %s SET status = $1, next_attempt_at = $2, processed_at = $3, last_error = $4, "+
				"claim_id = NULL, claimed_at = NULL, updated_at = $5 "+
				"WHERE id = $6 AND claim_id = $7 AND status = 'in_progress' AND attempted_count = $8",
			table,
		),
		get:          fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", outboxColumns, table),
		countPending: fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE status = 'pending'", table),
		expire: fmt.Sprintf(
			"UPDATE %[1]s SET status = 'expired', claim_id = NULL, claimed_at = NULL, updated_at = $1 "+
				"WHERE id IN (SELECT id FROM %[1]s WHERE expires_at IS NOT NULL AND expires_at <= $1 "+
				"AND (status = 'pending' OR (status = 'in_progress' AND claimed_at < $2)) "+
				"ORDER BY expires_at ASC LIMIT $3 FOR UPDATE SKIP LOCKED)",
			table,
		),
		abandon: fmt.Sprintf(
			"UPDATE %[1]s SET status = 'failed', last_error = $1, claim_id = NULL, claimed_at = NULL, updated_at = $2 "+
				"WHERE id IN (SELECT id FROM %[1]s WHERE status = 'in_progress' AND claimed_at < $3 AND attempted_count >= $4 "+
				"ORDER BY claimed_at ASC LIMIT $5 FOR UPDATE SKIP LOCKED)",
			table,
		),
		prune: fmt.Sprintf(
			"DELETE FROM %[1]s WHERE id IN (SELECT id FROM %[1]s "+
				"WHERE status IN ('processed', 'failed', 'expired') AND updated_at < $1 "+
				"ORDER BY updated_at ASC LIMIT $2 FOR UPDATE SKIP LOCKED)",
			table,
		),
	}
}

type idempotencyQueries struct {
	insert        string
	get           string
	deleteExpired string
	finish        string
	reclaim       string
	prune         string
}

func newIdempotencyQueries(table string) idempotencyQueries {
	// #nosec G201 -- table names are sanitized.
	return idempotencyQueries{
		insert: fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) "+
				"ON CONFLICT (actor_id, idempotency_key, endpoint) DO NOTHING",
			table,
			idempotencyColumns,
		),
		get: fmt.Sprintf(
			"SELECT %s FROM %s WHERE actor_id = $1 AND idempotency_key = $2 AND endpoint = $3",
			idempotencyColumns,
			table,
		),
		deleteExpired: fmt.Sprintf(
			"DELETE FROM %s WHERE actor_id = $1 AND idempotency_key = $2 AND endpoint = $3 AND expires_at <= $4",
			table,
		),
		finish: fmt.Sprintf(
			"UPDATE %s SET status = $1, response_payload = $2, response_status = $3, error_details = $4, expires_at = $5 "+
				"WHERE actor_id = $6 AND idempotency_key = $7 AND endpoint = $8 AND status = 'processing' AND claim_token = $9",
			table,
		),
		reclaim: fmt.Sprintf(
			"UPDATE %s SET status = 'processing', client_tx_id = $1, claim_token = $2, error_details = NULL, expires_at = $3 "+
				"WHERE actor_id = $4 AND idempotency_key = $5 AND endpoint = $6 AND status = 'failed' AND payload_hash = $7",
			table,
		),
		prune: fmt.Sprintf(
			"DELETE FROM %[1]s WHERE (actor_id, idempotency_key, endpoint) IN "+
				"(SELECT actor_id, idempotency_key, endpoint FROM %[1]s WHERE expires_at <= $1 "+
				"ORDER BY expires_at ASC LIMIT $2 FOR UPDATE SKIP LOCKED)",
			table,
		),
	}
}

type counterQueries struct {
	increment string
	prune     string
}

func newCounterQueries(table string) counterQueries {
	// #nosec G201 -- table names are sanitized.
	return counterQueries{
		increment: fmt.Sprintf(
			"INSERT INTO %[1]s AS c (actor_id, resource, window_start, counter, expires_at) "+
				"VALUES ($1, $2, $3, $4, $5) "+
				"ON CONFLICT (actor_id, resource, window_start) DO UPDATE SET counter = c.counter + EXCLUDED.counter "+
				"RETURNING counter",
			table,
		),
		prune: fmt.Sprintf(
			"DELETE FROM %[1]s WHERE (actor_id, resource, window_start) IN "+
				"(SELECT actor_id, resource, window_start FROM %[1]s WHERE expires_at <= $1 "+
				"ORDER BY expires_at ASC LIMIT $2 FOR UPDATE SKIP LOCKED)",
			table,
		),
	}
}

func qualified(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, col := range parts {
		parts[i] = alias + "." + col
	}

	return strings.Join(parts, ", ")
}
