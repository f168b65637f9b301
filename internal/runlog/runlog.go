// File: internal/runlog/runlog.go
// Brief: sqlite ledger of composition runs (inputs, digests, outcome).

package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// RelPath is the ledger location relative to the project root.
const RelPath = ".stackfuse/runs.sqlite"

type Status string

const (
	StatusOK       Status = "ok"
	StatusFindings Status = "findings"
	StatusError    Status = "error"
)

// Run is one recorded composition run. Diagnostics is the JSON report as written
// by the CLI.
type Run struct {
	ID             string
	CreatedAt      time.Time
	Command        string
	Fragments      []string
	InputDigest    string
	ManifestDigest string
	Status         Status
	Fatal          int
	Warnings       int
	Diagnostics    json.RawMessage
}

type Store struct {
	db       *sql.DB
	path     string
	readOnly bool
}

// Open opens (and creates unless readOnly) the ledger under root.
func Open(root string, readOnly bool) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "resolve ledger root")
	}
	path := filepath.Join(absRoot, RelPath)
	if readOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Wrap(err, "no run ledger")
		}
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create ledger dir")
	}

	dsn := path
	if readOnly {
		u := url.URL{Scheme: "file", Path: path}
		q := u.Query()
		q.Set("mode", "ro")
		q.Set("_busy_timeout", "5000")
		u.RawQuery = q.Encode()
		dsn = u.String()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping sqlite")
	}
	s := &Store{db: db, path: path, readOnly: readOnly}
	if !readOnly {
		if err := s.initSchema(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`
CREATE TABLE IF NOT EXISTS stackfuse_runs (
  run_id TEXT PRIMARY KEY,
  created_at_ns INTEGER NOT NULL,
  command TEXT NOT NULL,
  fragments_json TEXT NOT NULL,
  input_digest TEXT NOT NULL,
  manifest_digest TEXT NOT NULL,
  status TEXT NOT NULL,
  fatal INTEGER NOT NULL,
  warnings INTEGER NOT NULL,
  diagnostics_json TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS stackfuse_runs_created ON stackfuse_runs(created_at_ns);`,
		`CREATE INDEX IF NOT EXISTS stackfuse_runs_input ON stackfuse_runs(input_digest);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "init ledger schema")
		}
	}
	return nil
}

// Record stores run, assigning an id and timestamp when they are unset, and
// returns the stored id.
func (s *Store) Record(ctx context.Context, run Run) (string, error) {
	if s.readOnly {
		return "", errors.New("run ledger opened read-only")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	frags, err := json.Marshal(orEmpty(run.Fragments))
	if err != nil {
		return "", errors.Wrap(err, "encode fragments")
	}
	diags := string(run.Diagnostics)
	if diags == "" {
		diags = "null"
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO stackfuse_runs (
  run_id, created_at_ns, command, fragments_json, input_digest, manifest_digest,
  status, fatal, warnings, diagnostics_json
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UnixNano(), run.Command, string(frags), run.InputDigest, run.ManifestDigest,
		string(run.Status), run.Fatal, run.Warnings, diags,
	)
	if err != nil {
		return "", errors.Wrapf(err, "record run %s", run.ID)
	}
	return run.ID, nil
}

const selectRuns = `
SELECT run_id, created_at_ns, command, fragments_json, input_digest, manifest_digest,
       status, fatal, warnings, diagnostics_json
FROM stackfuse_runs
`

// List returns the most recent runs first.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.query(ctx, selectRuns+`ORDER BY created_at_ns DESC, run_id LIMIT ?`, limit)
}

// FindByInput returns the most recent run with the given input digest, or nil.
func (s *Store) FindByInput(ctx context.Context, inputDigest string) (*Run, error) {
	runs, err := s.query(ctx, selectRuns+`WHERE input_digest = ? ORDER BY created_at_ns DESC LIMIT 1`, inputDigest)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var (
			r      Run
			ns     int64
			frags  string
			status string
			diags  string
		)
		if err := rows.Scan(&r.ID, &ns, &r.Command, &frags, &r.InputDigest, &r.ManifestDigest, &status, &r.Fatal, &r.Warnings, &diags); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		r.CreatedAt = time.Unix(0, ns).UTC()
		r.Status = Status(status)
		if err := json.Unmarshal([]byte(frags), &r.Fragments); err != nil {
			return nil, errors.Wrapf(err, "decode fragments of run %s", r.ID)
		}
		if diags != "null" {
			r.Diagnostics = json.RawMessage(diags)
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate runs")
}

func orEmpty(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
