package postgres

import (
	"strings"
	"testing"
)

func TestSchema(t *testing.T) {
	schema, err := Schema(Tables{Outbox: "app.outbox"})
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS app.outbox (",
		"payload JSONB NOT NULL",
		"business_key VARCHAR(191) NULL UNIQUE",
		"CREATE INDEX IF NOT EXISTS app_outbox_status_created_idx ON app.outbox (status, created_at);",
		"CREATE TABLE IF NOT EXISTS idempotency_records (",
		"CREATE INDEX IF NOT EXISTS rate_limit_counters_expires_idx ON rate_limit_counters (expires_at);",
	} {
		if !strings.Contains(schema, want) {
			t.Fatalf("expected %q in schema", want)
		}
	}
}

func TestSchemaRejectsBadName(t *testing.T) {
	if _, err := OutboxSchema("outbox; drop table x"); err == nil {
		t.Fatalf("expected error for unsafe table name")
	}
}
