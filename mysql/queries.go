package mysql

import "fmt"

const (
	outboxColumns = "id, action_type, payload, business_key, status, attempted_count, next_attempt_at, " +
		"expires_at, claim_id, claimed_at, last_error, created_at, updated_at, processed_at"
	// claimablePredicate takes now, lease cutoff, lease cutoff, max attempts, now.
	claimablePredicate = "((status = 'pending' AND (next_attempt_at IS NULL OR next_attempt_at <= ?) " +
		"AND (claimed_at IS NULL OR claimed_at < ?)) " +
		"OR (status = 'in_progress' AND claimed_at < ? AND attempted_count < ?)) " +
		"AND (expires_at IS NULL OR expires_at > ?)"
	idempotencyColumns = "actor_id, idempotency_key, endpoint, client_tx_id, claim_token, payload_hash, status, " +
		"response_payload, response_status, error_details, created_at, expires_at"
	idempotencyKeyPredicate = "actor_id = ? AND idempotency_key = ? AND endpoint = ?"
)

type outboxQueries struct {
	table           string
	insert          string
	selectClaim     string
	hasClaimable    string
	ack             string
	get             string
	countPending    string
	selectOverdue   string
	selectAbandoned string
	selectPrune     string
}

func newOutboxQueries(table string) outboxQueries {
	// #nosec G201 -- table names are sanitized.
	return outboxQueries{
		table: table,
		insert: fmt.Sprintf(
			"INSERT INTO %s (id, action_type, payload, business_key, status, attempted_count, "+
				"next_attempt_at, expires_at, created_at, updated_at) VALUES (?, ?, ?, ?, 'pending', 0, ?, ?, ?, ?)",
			table,
		),
		selectClaim: fmt.Sprintf(
			"SELECT id FROM %s WHERE %s ORDER BY created_at ASC, id ASC LIMIT ? FOR UPDATE SKIP LOCKED",
			table,
			claimablePredicate,
		),
		hasClaimable: fmt.Sprintf("SELECT 1 FROM %s WHERE %s LIMIT 1", table, claimablePredicate),
		ack: fmt.Sprintf(
			"UPDATE %s SET status = ?, next_attempt_at = ?, processed_at = ?, last_error = ?, "+
				"claim_id = NULL, claimed_at = NULL, updated_at = ? "+
				"WHERE id = ? AND claim_id = ? AND status = 'in_progress' AND attempted_count = ?",
			table,
		),
		get:          fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", outboxColumns, table),
		countPending: fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE status = 'pending'", table),
		selectOverdue: fmt.Sprintf(
			"SELECT id FROM %s WHERE expires_at IS NOT NULL AND expires_at <= ? "+
				"AND (status = 'pending' OR (status = 'in_progress' AND claimed_at < ?)) "+
				"ORDER BY expires_at ASC LIMIT ? FOR UPDATE SKIP LOCKED",
			table,
		),
		selectAbandoned: fmt.Sprintf(
			"SELECT id FROM %s WHERE status = 'in_progress' AND claimed_at < ? AND attempted_count >= ? "+
				"ORDER BY claimed_at ASC LIMIT ? FOR UPDATE SKIP LOCKED",
			table,
		),
		selectPrune: fmt.Sprintf(
			"SELECT id FROM %s WHERE status IN ('processed', 'failed', 'expired') AND updated_at < ? "+
				"ORDER BY updated_at ASC LIMIT ? FOR UPDATE SKIP LOCKED",
			table,
		),
	}
}

func (q outboxQueries) claimUpdate(count int) string {
	return fmt.Sprintf(
		"UPDATE %s SET status = 'in_progress', claim_id = ?, claimed_at = ?, "+
			"attempted_count = attempted_count + 1, updated_at = ? WHERE id IN (%s)",
		q.table,
		makePlaceholders(count),
	)
}

func (q outboxQueries) selectByIDs(count int) string {
	return fmt.Sprintf(
		"SELECT %s FROM %s WHERE id IN (%s) ORDER BY created_at ASC, id ASC",
		outboxColumns,
		q.table,
		makePlaceholders(count),
	)
}

func (q outboxQueries) expireUpdate(count int) string {
	return fmt.Sprintf(
		"UPDATE %s SET status = 'expired', claim_id = NULL, claimed_at = NULL, updated_at = ? WHERE id IN (%s)",
		q.table,
		makePlaceholders(count),
	)
}

func (q outboxQueries) abandonUpdate(count int) string {
	return fmt.Sprintf(
		"UPDATE %s SET status = 'failed', last_error = ?, claim_id = NULL, claimed_at = NULL, updated_at = ? WHERE id IN (%s)",
		q.table,
		makePlaceholders(count),
	)
}

func (q outboxQueries) deleteByIDs(count int) string {
	return fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", q.table, makePlaceholders(count))
}

type idempotencyQueries struct {
	table         string
	insert        string
	get           string
	deleteExpired string
	finish        string
	reclaim       string
	selectPrune   string
}

func newIdempotencyQueries(table string) idempotencyQueries {
	// #nosec G201 -- table names are sanitized.
	return idempotencyQueries{
		table: table,
		insert: fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			table,
			idempotencyColumns,
		),
		get: fmt.Sprintf("SELECT %s FROM %s WHERE %s", idempotencyColumns, table, idempotencyKeyPredicate),
		deleteExpired: fmt.Sprintf(
			"DELETE FROM %s WHERE %s AND expires_at <= ?",
			table,
			idempotencyKeyPredicate,
		),
		finish: fmt.Sprintf(
			"UPDATE %s SET status = ?, response_payload = ?, response_status = ?, error_details = ?, expires_at = ? "+
				"WHERE %s AND status = 'processing' AND claim_token = ?",
			table,
			idempotencyKeyPredicate,
		),
		reclaim: fmt.Sprintf(
			"UPDATE %s SET status = 'processing', client_tx_id = ?, claim_token = ?, error_details = NULL, expires_at = ? "+
				"WHERE %s AND status = 'failed' AND payload_hash = ?",
			table,
			idempotencyKeyPredicate,
		),
		selectPrune: fmt.Sprintf(
			"SELECT actor_id, idempotency_key, endpoint FROM %s WHERE expires_at <= ? "+
				"ORDER BY expires_at ASC LIMIT ? FOR UPDATE SKIP LOCKED",
			table,
		),
	}
}

func (q idempotencyQueries) deleteByKeys(count int) string {
	return fmt.Sprintf(
		"DELETE FROM %s WHERE (actor_id, idempotency_key, endpoint) IN (%s)",
		q.table,
		makeTuples(count, 3),
	)
}

type counterQueries struct {
	table       string
	increment   string
	selectPrune string
}

func newCounterQueries(table string) counterQueries {
	// #nosec G201 -- table names are sanitized.
	return counterQueries{
		table: table,
		increment: fmt.Sprintf(
			"INSERT INTO %s (actor_id, resource, window_start, counter, expires_at) "+
				"VALUES (?, ?, ?, LAST_INSERT_ID(?), ?) "+
				"ON DUPLICATE KEY UPDATE counter = LAST_INSERT_ID(counter + ?)",
			table,
		),
		selectPrune: fmt.Sprintf(
			"SELECT actor_id, resource, window_start FROM %s WHERE expires_at <= ? "+
				"ORDER BY expires_at ASC LIMIT ? FOR UPDATE SKIP LOCKED",
			table,
		),
	}
}

func (q counterQueries) deleteByKeys(count int) string {
	return fmt.Sprintf(
		"DELETE FROM %s WHERE (actor_id, resource, window_start) IN (%s)",
		q.table,
		makeTuples(count, 3),
	)
}
