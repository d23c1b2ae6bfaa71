package mysql

import (
	"errors"
	"strings"
	"testing"
)

func TestOutboxSchema(t *testing.T) {
	schema, err := OutboxSchema("outbox")
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	for _, want := range []string{"payload JSON", "UNIQUE KEY uq_business_key (business_key)", "claim_id CHAR(36) NULL"} {
		if !strings.Contains(schema, want) {
			t.Fatalf("expected %q in schema", want)
		}
	}
}

func TestOutboxSchemaBinary(t *testing.T) {
	schema, err := OutboxSchemaBinary("outbox")
	if err != nil {
		t.Fatalf("schema binary: %v", err)
	}
	if !strings.Contains(schema, "payload LONGBLOB") {
		t.Fatalf("expected LONGBLOB payload in schema")
	}
}

func TestSchemaAllTables(t *testing.T) {
	schema, err := Schema(Tables{Idempotency: "app.idem"})
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS outbox (",
		"CREATE TABLE IF NOT EXISTS app.idem (",
		"CREATE TABLE IF NOT EXISTS rate_limit_counters (",
		"PRIMARY KEY (actor_id, idempotency_key, endpoint)",
		"PRIMARY KEY (actor_id, resource, window_start)",
	} {
		if !strings.Contains(schema, want) {
			t.Fatalf("expected %q in schema", want)
		}
	}
}

func TestSchemaKeyColumnsAreBinary(t *testing.T) {
	schema, err := Schema(Tables{})
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	for _, column := range []string{"business_key", "actor_id", "idempotency_key", "endpoint", "resource"} {
		for _, line := range strings.Split(schema, "\n") {
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, column+" VARCHAR") {
				continue
			}
			if !strings.Contains(line, "COLLATE utf8mb4_bin") {
				t.Fatalf("column %q is not binary collated: %s", column, line)
			}
		}
	}
	if got := strings.Count(schema, "COLLATE utf8mb4_bin"); got != 6 {
		t.Fatalf("binary collated columns = %d, want 6", got)
	}
}

func TestSchemaRejectsInvalidName(t *testing.T) {
	if _, err := CounterSchema("counters;drop"); !errors.Is(err, ErrInvalidTableName) {
		t.Fatalf("expected ErrInvalidTableName, got %v", err)
	}
}

func TestSchemaBinary(t *testing.T) {
	schema, err := SchemaBinary(Tables{})
	if err != nil {
		t.Fatalf("schema binary: %v", err)
	}
	if !strings.Contains(schema, "payload LONGBLOB") {
		t.Fatalf("expected LONGBLOB payload in schema")
	}
	if !strings.Contains(schema, "CREATE TABLE IF NOT EXISTS idempotency_records (") {
		t.Fatalf("expected idempotency table in schema")
	}
}
