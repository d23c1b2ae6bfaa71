package main

import (
	"bytes"
	"flag"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) (options, error) {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	return parseFlags(fs, args)
}

func TestRunMySQLDefaults(t *testing.T) {
	opts, err := parse(t)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, run(&buf, opts))
	out := buf.String()
	assert.Contains(t, out, "CREATE TABLE IF NOT EXISTS outbox (")
	assert.Contains(t, out, "payload JSON")
	assert.Contains(t, out, "CREATE TABLE IF NOT EXISTS rate_limit_counters (")
}

func TestRunMySQLBinaryPayload(t *testing.T) {
	opts, err := parse(t, "-binary-payload", "-outbox-table", "events")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, run(&buf, opts))
	assert.Contains(t, buf.String(), "CREATE TABLE IF NOT EXISTS events (")
	assert.Contains(t, buf.String(), "payload LONGBLOB")
}

func TestRunPostgres(t *testing.T) {
	opts, err := parse(t, "-driver", "postgres", "-idempotency-table", "app.idem")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, run(&buf, opts))
	assert.Contains(t, buf.String(), "JSONB")
	assert.Contains(t, buf.String(), "app.idem")
}

func TestParseFlagsRejectsBinaryPostgres(t *testing.T) {
	_, err := parse(t, "-driver", "postgres", "-binary-payload")
	require.ErrorIs(t, err, errBinaryPayload)
}

func TestRunRejectsUnknownDriver(t *testing.T) {
	require.Error(t, run(io.Discard, options{driver: "sqlite"}))
}

func TestRunRejectsBadTable(t *testing.T) {
	require.Error(t, run(io.Discard, options{driver: "mysql", outbox: "bad name"}))
}
