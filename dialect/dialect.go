package dialect

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Dialect names.
const (
	MySQL    = "mysql"
	SQLite   = "sqlite"
	Postgres = "postgres"
)

// ExecQuerier wraps the two base methods for executing and querying
// statements.
type ExecQuerier interface {
	// Exec executes a statement that does not return rows. The v argument,
	// when non-nil, receives the execution result.
	Exec(ctx context.Context, query string, args, v any) error
	// Query executes a statement that returns rows. The v argument receives
	// the result rows.
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the interface that wraps all database operations.
type Driver interface {
	ExecQuerier
	// Tx starts and returns a new transaction.
	Tx(context.Context) (Tx, error)
	// Close closes the underlying connection.
	Close() error
	// Dialect returns the dialect name of the driver.
	Dialect() string
}

// Tx wraps transaction commit and rollback around ExecQuerier.
type Tx interface {
	ExecQuerier
	Commit() error
	Rollback() error
}

// DebugDriver is a driver that logs every statement it executes.
type DebugDriver struct {
	Driver
	log *slog.Logger
}

// Debug wraps the driver with statement logging on the default logger.
func Debug(d Driver) Driver {
	return DebugWith(d, slog.Default())
}

// DebugWith wraps the driver with statement logging on the given logger.
// Statements are logged at debug level with their arguments.
func DebugWith(d Driver, log *slog.Logger) Driver {
	return &DebugDriver{d, log}
}

// Exec logs its arguments and calls the underlying driver Exec method.
func (d *DebugDriver) Exec(ctx context.Context, query string, args, v any) error {
	d.log.DebugContext(ctx, "driver.Exec", "query", query, "args", args)
	return d.Driver.Exec(ctx, query, args, v)
}

// Query logs its arguments and calls the underlying driver Query method.
func (d *DebugDriver) Query(ctx context.Context, query string, args, v any) error {
	d.log.DebugContext(ctx, "driver.Query", "query", query, "args", args)
	return d.Driver.Query(ctx, query, args, v)
}

// Tx starts a logged transaction.
func (d *DebugDriver) Tx(ctx context.Context) (Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	d.log.DebugContext(ctx, "driver.Tx started", "id", id)
	return &DebugTx{tx, id, d.log, ctx}, nil
}

// DebugTx is a transaction that logs every statement it executes.
type DebugTx struct {
	Tx
	id  string
	log *slog.Logger
	ctx context.Context
}

// Exec logs its arguments and calls the underlying transaction Exec method.
func (d *DebugTx) Exec(ctx context.Context, query string, args, v any) error {
	d.log.DebugContext(ctx, "tx.Exec", "id", d.id, "query", query, "args", args)
	return d.Tx.Exec(ctx, query, args, v)
}

// Query logs its arguments and calls the underlying transaction Query method.
func (d *DebugTx) Query(ctx context.Context, query string, args, v any) error {
	d.log.DebugContext(ctx, "tx.Query", "id", d.id, "query", query, "args", args)
	return d.Tx.Query(ctx, query, args, v)
}

// Commit logs the commit and forwards it.
func (d *DebugTx) Commit() error {
	d.log.DebugContext(d.ctx, "tx.Commit", "id", d.id)
	return d.Tx.Commit()
}

// Rollback logs the rollback and forwards it.
func (d *DebugTx) Rollback() error {
	d.log.DebugContext(d.ctx, "tx.Rollback", "id", d.id)
	return d.Tx.Rollback()
}
