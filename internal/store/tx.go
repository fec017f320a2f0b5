package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// TxWrap wraps an open transaction on a dedicated connection. Helper methods
// collect the first error into Err and become no-ops afterwards, so call
// sites can run straight-line query sequences without per-call checks.
type TxWrap struct {
	Txy  *sql.Conn
	Err  error
	ctx  context.Context
	done bool
}

type txWrapKey struct{ dbPath string }

const (
	txMaxRetries = 5
	txRetryBase  = 10 * time.Millisecond
)

// beginImmediateWithRetry issues BEGIN IMMEDIATE, retrying on SQLITE_BUSY
// with exponential backoff so short lock contention does not surface to the
// caller.
func beginImmediateWithRetry(ctx context.Context, conn *sql.Conn) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = txRetryBase
	bo.MaxInterval = 100 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, txMaxRetries), ctx)
	return backoff.Retry(func() error {
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		if strings.Contains(err.Error(), "busy") || strings.Contains(err.Error(), "locked") {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

// WithTx runs fn inside a write transaction on d. The database writer lock
// is held for the whole transaction (single-writer model). Nested calls on
// the same database reuse the outer transaction via the context; commit and
// rollback happen only at the outermost level.
func (d *Database) WithTx(ctx context.Context, fn func(tx *TxWrap) error) (rtnErr error) {
	if tx, ok := ctx.Value(txWrapKey{d.path}).(*TxWrap); ok {
		return fn(tx)
	}
	d.writeLock.Lock()
	defer d.writeLock.Unlock()

	conn, err := d.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("cannot acquire db connection: %w", err)
	}
	defer conn.Close()

	if err := beginImmediateWithRetry(ctx, conn); err != nil {
		return fmt.Errorf("cannot begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			// background context so rollback still runs when ctx is cancelled
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()
	tx := &TxWrap{Txy: conn, ctx: ctx}
	tx.ctx = context.WithValue(ctx, txWrapKey{d.path}, tx)
	if err := fn(tx); err != nil {
		return err
	}
	if tx.Err != nil {
		return tx.Err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("cannot commit transaction: %w", err)
	}
	committed = true
	return nil
}

// WithTxRtn is WithTx with a single typed return value.
func WithTxRtn[RT any](ctx context.Context, d *Database, fn func(tx *TxWrap) (RT, error)) (RT, error) {
	var rtn RT
	err := d.WithTx(ctx, func(tx *TxWrap) error {
		var err error
		rtn, err = fn(tx)
		return err
	})
	return rtn, err
}

// WithTxRtn3 is WithTx with two typed return values.
func WithTxRtn3[RT1 any, RT2 any](ctx context.Context, d *Database, fn func(tx *TxWrap) (RT1, RT2, error)) (RT1, RT2, error) {
	var rtn1 RT1
	var rtn2 RT2
	err := d.WithTx(ctx, func(tx *TxWrap) error {
		var err error
		rtn1, rtn2, err = fn(tx)
		return err
	})
	return rtn1, rtn2, err
}

// Context returns the transaction-carrying context; nested WithTx calls made
// with it join this transaction.
func (tx *TxWrap) Context() context.Context {
	return tx.ctx
}

func (tx *TxWrap) SetErr(err error) {
	if tx.Err == nil && err != nil {
		tx.Err = err
	}
}

func (tx *TxWrap) Exec(query string, args ...any) {
	if tx.Err != nil {
		return
	}
	_, err := tx.Txy.ExecContext(tx.ctx, query, args...)
	tx.SetErr(err)
}

// NamedExec executes a query with :name placeholders bound from m. The
// rewrite to positional args is lexical; named placeholders must not appear
// inside string literals.
func (tx *TxWrap) NamedExec(query string, m map[string]any) {
	if tx.Err != nil {
		return
	}
	posQuery, args, err := bindNamed(query, m)
	if err != nil {
		tx.SetErr(err)
		return
	}
	_, err = tx.Txy.ExecContext(tx.ctx, posQuery, args...)
	tx.SetErr(err)
}

func (tx *TxWrap) GetString(query string, args ...any) string {
	var rtn string
	tx.get(query, args, &rtn)
	return rtn
}

func (tx *TxWrap) GetInt(query string, args ...any) int {
	var rtn int
	tx.get(query, args, &rtn)
	return rtn
}

func (tx *TxWrap) GetInt64(query string, args ...any) int64 {
	var rtn int64
	tx.get(query, args, &rtn)
	return rtn
}

func (tx *TxWrap) GetBool(query string, args ...any) bool {
	var rtn bool
	tx.get(query, args, &rtn)
	return rtn
}

func (tx *TxWrap) Exists(query string, args ...any) bool {
	var ignore any
	return tx.get(query, args, &ignore)
}

// get scans a single value; returns false (without error) when no row
// matched.
func (tx *TxWrap) get(query string, args []any, dest any) bool {
	if tx.Err != nil {
		return false
	}
	err := tx.Txy.QueryRowContext(tx.ctx, query, args...).Scan(dest)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		tx.SetErr(err)
		return false
	}
	return true
}

func (tx *TxWrap) SelectStrings(query string, args ...any) []string {
	if tx.Err != nil {
		return nil
	}
	rows, err := tx.Txy.QueryContext(tx.ctx, query, args...)
	if err != nil {
		tx.SetErr(err)
		return nil
	}
	defer rows.Close()
	var rtn []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			tx.SetErr(err)
			return nil
		}
		rtn = append(rtn, s)
	}
	tx.SetErr(rows.Err())
	return rtn
}

func (tx *TxWrap) SelectInts(query string, args ...any) []int64 {
	if tx.Err != nil {
		return nil
	}
	rows, err := tx.Txy.QueryContext(tx.ctx, query, args...)
	if err != nil {
		tx.SetErr(err)
		return nil
	}
	defer rows.Close()
	var rtn []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			tx.SetErr(err)
			return nil
		}
		rtn = append(rtn, v)
	}
	tx.SetErr(rows.Err())
	return rtn
}

// GetMap returns the first row of query as a column-name keyed map, or nil
// when no row matched.
func (tx *TxWrap) GetMap(query string, args ...any) map[string]any {
	rtn := tx.SelectMaps(query, args...)
	if len(rtn) == 0 {
		return nil
	}
	return rtn[0]
}

// SelectMaps returns all rows of query as column-name keyed maps.
func (tx *TxWrap) SelectMaps(query string, args ...any) []map[string]any {
	if tx.Err != nil {
		return nil
	}
	rows, err := tx.Txy.QueryContext(tx.ctx, query, args...)
	if err != nil {
		tx.SetErr(err)
		return nil
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		tx.SetErr(err)
		return nil
	}
	var rtn []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			tx.SetErr(err)
			return nil
		}
		m := make(map[string]any, len(cols))
		for i, col := range cols {
			m[col] = vals[i]
		}
		rtn = append(rtn, m)
	}
	tx.SetErr(rows.Err())
	return rtn
}

// bindNamed rewrites :name placeholders to '?' and builds the positional arg
// list from m. A name missing from m binds to nil.
func bindNamed(query string, m map[string]any) (string, []any, error) {
	var sb strings.Builder
	var args []any
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if ch != ':' || i+1 >= len(query) || !isNameChar(query[i+1]) {
			sb.WriteByte(ch)
			continue
		}
		j := i + 1
		for j < len(query) && isNameChar(query[j]) {
			j++
		}
		name := query[i+1 : j]
		args = append(args, m[name])
		sb.WriteByte('?')
		i = j - 1
	}
	return sb.String(), args, nil
}

func isNameChar(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}
