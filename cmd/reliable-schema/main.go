// Command reliable-schema prints the DDL for the outbox, idempotency and
// rate-limit counter tables.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/velmie/reliable/mysql"
	"github.com/velmie/reliable/postgres"
)

const exitUsage = 2

var errBinaryPayload = errors.New("-binary-payload is only supported by mysql")

type options struct {
	driver        string
	outbox        string
	idempotency   string
	counters      string
	binaryPayload bool
}

func main() {
	fs := flag.NewFlagSet("reliable-schema", flag.ExitOnError)
	opts, err := parseFlags(fs, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fs.Usage()
		os.Exit(exitUsage)
	}

	if err := run(os.Stdout, opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var opts options
	fs.StringVar(&opts.driver, "driver", "mysql", "Backend: mysql or postgres")
	fs.StringVar(&opts.outbox, "outbox-table", "", "Outbox table name")
	fs.StringVar(&opts.idempotency, "idempotency-table", "", "Idempotency table name")
	fs.StringVar(&opts.counters, "counter-table", "", "Rate-limit counter table name")
	fs.BoolVar(&opts.binaryPayload, "binary-payload", false, "Store outbox payloads as LONGBLOB (mysql)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.binaryPayload && opts.driver != "mysql" {
		return options{}, errBinaryPayload
	}

	return opts, nil
}

func run(w io.Writer, opts options) error {
	ddl, err := render(opts)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, ddl)

	return err
}

func render(opts options) (string, error) {
	switch opts.driver {
	case "mysql":
		return renderMySQL(opts)
	case "postgres":
		return postgres.Schema(postgres.Tables{
			Outbox:      opts.outbox,
			Idempotency: opts.idempotency,
			Counters:    opts.counters,
		})
	default:
		return "", fmt.Errorf("unsupported driver %q", opts.driver)
	}
}

func renderMySQL(opts options) (string, error) {
	tables := mysql.Tables{
		Outbox:      opts.outbox,
		Idempotency: opts.idempotency,
		Counters:    opts.counters,
	}
	if opts.binaryPayload {
		return mysql.SchemaBinary(tables)
	}

	return mysql.Schema(tables)
}
