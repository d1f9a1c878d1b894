package db

import (
	"context"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"
)

// mockDBTX records calls as (ctx, sql, args) so expectations can match the
// argument slice directly.
type mockDBTX struct{ mock.Mock }

func (m *mockDBTX) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	ret := m.Called(ctx, sql, args)
	return ret.Get(0).(pgconn.CommandTag), ret.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	ret := m.Called(ctx, sql, args)
	rows, _ := ret.Get(0).(pgx.Rows)
	return rows, ret.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return m.Called(ctx, sql, args).Get(0).(pgx.Row)
}

// assign copies values into Scan destinations by position. A nil value or a
// destination past the end of values is left at its zero value.
func assign(values []any, dest []any) {
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		if i >= len(values) || values[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(values[i]))
	}
}

type fakeRow struct {
	values []any
	err    error
}

func rowOf(values ...any) *fakeRow { return &fakeRow{values: values} }
func rowErr(err error) *fakeRow    { return &fakeRow{err: err} }

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	assign(r.values, dest)
	return nil
}

// fakeRows replays data; iterErr surfaces from Err once iteration ends.
type fakeRows struct {
	data    [][]any
	pos     int
	closed  bool
	iterErr error
}

func rowsOf(data ...[]any) *fakeRows { return &fakeRows{data: data, pos: -1} }

func (r *fakeRows) Next() bool {
	if r.closed {
		return false
	}
	r.pos++
	return r.pos < len(r.data)
}

func (r *fakeRows) Scan(dest ...any) error {
	assign(r.data[r.pos], dest)
	return nil
}

func (r *fakeRows) Close()     { r.closed = true }
func (r *fakeRows) Err() error { return r.iterErr }

func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }
