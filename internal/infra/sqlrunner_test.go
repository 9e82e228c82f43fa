package infra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"mediaqueue/internal/sqlinline"
)

// recordingQuerier captures the statements that reach the connection.
type recordingQuerier struct {
	statements []string
}

func (q *recordingQuerier) Exec(_ context.Context, query string, _ ...any) (pgconn.CommandTag, error) {
	q.statements = append(q.statements, query)
	return pgconn.NewCommandTag("LISTEN"), nil
}

func (q *recordingQuerier) QueryRow(_ context.Context, query string, _ ...any) pgx.Row {
	q.statements = append(q.statements, query)
	return errorRow{err: pgx.ErrNoRows}
}

func (q *recordingQuerier) Query(_ context.Context, query string, _ ...any) (pgx.Rows, error) {
	q.statements = append(q.statements, query)
	return nil, errors.New("query not supported")
}

func TestExtractMarker(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		marker    string
		statement string
		wantErr   bool
	}{
		{
			name:      "valid",
			query:     "--sql 0b5a3c1e-7f7c-4f0e-9d57-2f4d8c3a9b10\nselect 1",
			marker:    "0b5a3c1e-7f7c-4f0e-9d57-2f4d8c3a9b10",
			statement: "select 1",
		},
		{
			name:      "leading whitespace",
			query:     "\n  --sql 0b5a3c1e-7f7c-4f0e-9d57-2f4d8c3a9b10\nselect 1\nfrom jobs",
			marker:    "0b5a3c1e-7f7c-4f0e-9d57-2f4d8c3a9b10",
			statement: "select 1\nfrom jobs",
		},
		{name: "missing marker", query: "select 1", wantErr: true},
		{name: "upper case uuid", query: "--sql 0B5A3C1E-7F7C-4F0E-9D57-2F4D8C3A9B10\nselect 1", wantErr: true},
		{name: "empty", query: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			marker, stmt, err := extractMarker(tt.query)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got marker %q", marker)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if marker != tt.marker || stmt != tt.statement {
				t.Fatalf("got (%q, %q), want (%q, %q)", marker, stmt, tt.marker, tt.statement)
			}
		})
	}
}

func TestIsNoRows(t *testing.T) {
	if !IsNoRows(pgx.ErrNoRows) || !IsNoRows(sql.ErrNoRows) {
		t.Fatal("driver no-rows errors must match")
	}
	if !IsNoRows(fmt.Errorf("get job: %w", pgx.ErrNoRows)) {
		t.Fatal("wrapped no-rows error must match")
	}
	if IsNoRows(errors.New("boom")) {
		t.Fatal("unrelated error matched")
	}
}

func TestSQLRunnerStripsMarkerBeforeListen(t *testing.T) {
	q := &recordingQuerier{}
	run := &SQLRunner{Logger: zerolog.Nop(), q: q}

	if _, err := run.Exec(context.Background(), sqlinline.QListenJobsAvailable); err != nil {
		t.Fatalf("Exec returned error: %v", err)
	}
	if len(q.statements) != 1 || q.statements[0] != "listen jobs_available;" {
		t.Fatalf("statements = %q", q.statements)
	}
}

func TestSQLRunnerRefusesUnmarkedStatements(t *testing.T) {
	q := &recordingQuerier{}
	run := &SQLRunner{Logger: zerolog.Nop(), q: q}

	if _, err := run.Exec(context.Background(), "listen jobs_available"); !errors.Is(err, ErrMissingMarker) {
		t.Fatalf("expected ErrMissingMarker, got %v", err)
	}
	if len(q.statements) != 0 {
		t.Fatal("unmarked statement reached the connection")
	}
}

func TestSQLRunnerInTxRequiresPool(t *testing.T) {
	run := &SQLRunner{Logger: zerolog.Nop(), q: &recordingQuerier{}}
	called := false
	err := run.InTx(context.Background(), func(SQLExecutor) error {
		called = true
		return nil
	})
	if err == nil || called {
		t.Fatalf("InTx without a pool = %v, called %v", err, called)
	}
}
