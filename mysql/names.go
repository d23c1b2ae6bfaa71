package mysql

import (
	"fmt"
	"strings"
)

const (
	defaultOutboxTable      = "outbox"
	defaultIdempotencyTable = "idempotency_records"
	defaultCounterTable     = "rate_limit_counters"
)

// Tables names the three store tables. Use schema.table for a non-default schema.
type Tables struct {
	Outbox      string
	Idempotency string
	Counters    string
}

func (t Tables) withDefaults() Tables {
	if t.Outbox == "" {
		t.Outbox = defaultOutboxTable
	}
	if t.Idempotency == "" {
		t.Idempotency = defaultIdempotencyTable
	}
	if t.Counters == "" {
		t.Counters = defaultCounterTable
	}

	return t
}

func (t Tables) sanitized() (Tables, error) {
	var err error
	if t.Outbox, err = sanitizeTableName(t.Outbox); err != nil {
		return Tables{}, err
	}
	if t.Idempotency, err = sanitizeTableName(t.Idempotency); err != nil {
		return Tables{}, err
	}
	if t.Counters, err = sanitizeTableName(t.Counters); err != nil {
		return Tables{}, err
	}

	return t, nil
}

func sanitizeTableName(name string) (string, error) {
	if name == "" {
		return "", ErrTableNameRequired
	}
	parts := strings.Split(name, ".")
	for _, part := range parts {
		if part == "" {
			return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
		}
		for _, r := range part {
			if r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				continue
			}

			return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
		}
	}

	return name, nil
}
