package tm

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/text/language"
	_ "modernc.org/sqlite"

	"github.com/loctra/loctra/internal/segment"
	"github.com/loctra/loctra/pkg/log"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store is the durable translation memory and job registry for one
// source→target language pair, backed by a single sqlite file. It is
// safe for concurrent use; every multi-row mutation runs in one
// transaction so a crash can never leave a job visible without the unit
// rows it implies.
type Store struct {
	db         *sql.DB
	sourceLang language.Tag
	targetLang language.Tag
	logger     *log.Logger
	now        func() time.Time

	mu             sync.Mutex
	ordinalIndexed bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger injects the store's logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock injects the store's clock. Regression runs pin it to a
// fixed instant so persisted timestamps are reproducible.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore opens (creating if needed) the persistence unit for a
// language pair under dir.
func NewStore(dir string, source, target language.Tag, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.db", source, target))
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{
		db:         db,
		sourceLang: source,
		targetLang: target,
		logger:     log.GetLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SourceLang returns the pair's source language.
func (s *Store) SourceLang() language.Tag { return s.sourceLang }

// TargetLang returns the pair's target language.
func (s *Store) TargetLang() language.Tag { return s.targetLang }

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so unit writes can run
// standalone or inside ProcessJob's transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetEntryByGUID returns the authoritative row for a guid, or nil when
// the guid is unknown. Authority is resolved in memory through
// MoreAuthoritative, never by the query itself.
func (s *Store) GetEntryByGUID(ctx context.Context, guid string) (*Unit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT entry_json FROM tus WHERE guid = ?`, guid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	candidates := make([]Unit, 0, 2)
	for rows.Next() {
		var entryJSON string
		if err := rows.Scan(&entryJSON); err != nil {
			return nil, err
		}
		var u Unit
		if err := json.Unmarshal([]byte(entryJSON), &u); err != nil {
			return nil, fmt.Errorf("decode entry %s: %w", guid, err)
		}
		candidates = append(candidates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return Authoritative(candidates), nil
}

// SetEntry upserts one unit row keyed by (guid, jobGuid). A write that
// would not change any observable field is skipped entirely, so
// re-delivered job responses cause no timestamp churn.
func (s *Store) SetEntry(ctx context.Context, jobGUID string, u Unit) error {
	changed, err := s.setEntryIn(ctx, s.db, jobGUID, u)
	if err != nil {
		return err
	}
	if !changed {
		s.logger.Debug("setEntry: unchanged row skipped guid=%s job=%s", u.GUID, jobGUID)
	}
	return nil
}

func (s *Store) setEntryIn(ctx context.Context, q dbtx, jobGUID string, u Unit) (bool, error) {
	if u.GUID == "" {
		return false, fmt.Errorf("unit guid is required")
	}
	if jobGUID == "" {
		return false, fmt.Errorf("job guid is required")
	}
	u.JobGUID = jobGUID

	entryJSON, err := json.Marshal(u)
	if err != nil {
		return false, fmt.Errorf("encode entry %s: %w", u.GUID, err)
	}

	var existing string
	err = q.QueryRowContext(ctx,
		`SELECT entry_json FROM tus WHERE guid = ? AND job_guid = ?`,
		u.GUID, jobGUID,
	).Scan(&existing)
	switch {
	case err == nil:
		if existing == string(entryJSON) {
			return false, nil
		}
	case err == sql.ErrNoRows:
		// new row
	default:
		return false, err
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO tus (guid, job_guid, entry_json, ordinal_source, q, ts)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(guid, job_guid) DO UPDATE SET
			entry_json=excluded.entry_json,
			ordinal_source=excluded.ordinal_source,
			q=excluded.q,
			ts=excluded.ts`,
		u.GUID,
		jobGUID,
		string(entryJSON),
		segment.Ordinal(u.Source),
		u.Quality,
		u.TS,
	)
	if err != nil {
		return false, err
	}
	return true, nil
}

// ensureOrdinalIndex creates the derived index over ordinal_source the
// first time an exact-match query runs. Status-only sessions never pay
// the indexing cost.
func (s *Store) ensureOrdinalIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ordinalIndexed {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_tus_ordinal ON tus(ordinal_source)`); err != nil {
		return fmt.Errorf("create ordinal index: %w", err)
	}
	s.ordinalIndexed = true
	return nil
}

// GetExactMatches returns every row whose ordinal source form equals
// that of the query, so candidates that differ only in placeholder
// content still match.
func (s *Store) GetExactMatches(ctx context.Context, src segment.Text) ([]Unit, error) {
	if err := s.ensureOrdinalIndex(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_json FROM tus WHERE ordinal_source = ? ORDER BY guid, job_guid`,
		segment.Ordinal(src),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]Unit, 0)
	for rows.Next() {
		var entryJSON string
		if err := rows.Scan(&entryJSON); err != nil {
			return nil, err
		}
		var u Unit
		if err := json.Unmarshal([]byte(entryJSON), &u); err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		ret = append(ret, u)
	}
	return ret, rows.Err()
}

// ProcessJob merges a job response into the memory and updates the job
// registry, all in one transaction. Inflight guids become q=0
// placeholders; translated units become scored rows; request-side
// fields are pulled in by guid where the response omits them.
func (s *Store) ProcessJob(ctx context.Context, resp JobResponse, req JobRequest) error {
	if resp.JobGUID == "" {
		return fmt.Errorf("response job guid is required")
	}
	provider := resp.Provider
	if provider == "" {
		provider = req.Provider
	}
	if resp.Status == "" {
		return fmt.Errorf("response status is required")
	}

	byGUID := make(map[string]Unit, len(req.Units))
	for _, u := range req.Units {
		byGUID[u.GUID] = u
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, guid := range resp.InFlight {
		placeholder := Unit{GUID: guid, Quality: 0, TS: 0}
		if reqUnit, ok := byGUID[guid]; ok {
			placeholder.RID = reqUnit.RID
			placeholder.SID = reqUnit.SID
			placeholder.Source = reqUnit.Source
			placeholder.Notes = reqUnit.Notes
		}
		if _, err = s.setEntryIn(ctx, tx, resp.JobGUID, placeholder); err != nil {
			return fmt.Errorf("write inflight %s: %w", guid, err)
		}
	}

	for _, respUnit := range resp.Units {
		merged := respUnit
		if reqUnit, ok := byGUID[respUnit.GUID]; ok {
			if merged.RID == "" {
				merged.RID = reqUnit.RID
			}
			if merged.SID == "" {
				merged.SID = reqUnit.SID
			}
			if len(merged.Source) == 0 {
				merged.Source = reqUnit.Source
			}
			if merged.Notes == "" {
				merged.Notes = reqUnit.Notes
			}
		}
		if merged.TS == 0 {
			if resp.TS != 0 {
				merged.TS = resp.TS
			} else {
				merged.TS = s.now().UnixMilli()
			}
		}
		if _, err = s.setEntryIn(ctx, tx, resp.JobGUID, merged); err != nil {
			return fmt.Errorf("write unit %s: %w", respUnit.GUID, err)
		}
	}

	if err = s.upsertJobIn(ctx, tx, Job{
		JobGUID:   resp.JobGUID,
		Status:    resp.Status,
		Provider:  provider,
		UpdatedAt: s.now().UTC(),
	}); err != nil {
		return fmt.Errorf("update job %s: %w", resp.JobGUID, err)
	}
	return tx.Commit()
}

// SaveJob upserts a registry row on its own, for transitions that imply
// no unit rows (created → req).
func (s *Store) SaveJob(ctx context.Context, job Job) error {
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = s.now().UTC()
	}
	return s.upsertJobIn(ctx, s.db, job)
}

func (s *Store) upsertJobIn(ctx context.Context, q dbtx, job Job) error {
	if job.JobGUID == "" {
		return fmt.Errorf("job guid is required")
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO jobs (job_guid, status, updated_at, translation_provider)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(job_guid) DO UPDATE SET
			status=excluded.status,
			updated_at=excluded.updated_at,
			translation_provider=excluded.translation_provider`,
		job.JobGUID,
		string(job.Status),
		job.UpdatedAt,
		job.Provider,
	)
	return err
}

// GetJob returns a registry row, or nil when the job is unknown.
func (s *Store) GetJob(ctx context.Context, jobGUID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_guid, status, updated_at, translation_provider FROM jobs WHERE job_guid = ?`,
		jobGUID,
	)
	var job Job
	var status string
	if err := row.Scan(&job.JobGUID, &status, &job.UpdatedAt, &job.Provider); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	job.Status = Status(status)
	return &job, nil
}

// ListJobs returns registry rows, optionally filtered by status, in
// stable job-guid order.
func (s *Store) ListJobs(ctx context.Context, status Status) ([]Job, error) {
	query := `SELECT job_guid, status, updated_at, translation_provider FROM jobs ORDER BY job_guid`
	args := []any{}
	if status != "" {
		query = `SELECT job_guid, status, updated_at, translation_provider FROM jobs WHERE status = ? ORDER BY job_guid`
		args = append(args, string(status))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]Job, 0)
	for rows.Next() {
		var job Job
		var st string
		if err := rows.Scan(&job.JobGUID, &st, &job.UpdatedAt, &job.Provider); err != nil {
			return nil, err
		}
		job.Status = Status(st)
		ret = append(ret, job)
	}
	return ret, rows.Err()
}

// GetJobUnits returns every row owned by a job in insertion (request)
// order. Rows still at q=0 are the job's outstanding inflight units.
func (s *Store) GetJobUnits(ctx context.Context, jobGUID string) ([]Unit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_json FROM tus WHERE job_guid = ? ORDER BY rowid`,
		jobGUID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]Unit, 0)
	for rows.Next() {
		var entryJSON string
		if err := rows.Scan(&entryJSON); err != nil {
			return nil, err
		}
		var u Unit
		if err := json.Unmarshal([]byte(entryJSON), &u); err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		ret = append(ret, u)
	}
	return ret, rows.Err()
}

// DeleteJob removes a job's registry row together with every unit row
// it owns. This is the only path that deletes unit rows.
func (s *Store) DeleteJob(ctx context.Context, jobGUID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM tus WHERE job_guid = ?`, jobGUID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM jobs WHERE job_guid = ?`, jobGUID); err != nil {
		return err
	}
	return tx.Commit()
}

// GetStats aggregates unit counts by (provider, job status) for
// coverage reporting. Jobs with no unit rows yet still appear with a
// zero count.
func (s *Store) GetStats(ctx context.Context) ([]StatsRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT j.translation_provider, j.status, COUNT(t.guid)
		 FROM jobs j
		 LEFT JOIN tus t ON t.job_guid = j.job_guid
		 GROUP BY j.translation_provider, j.status
		 ORDER BY j.translation_provider, j.status`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]StatsRow, 0)
	for rows.Next() {
		var r StatsRow
		var status string
		if err := rows.Scan(&r.Provider, &status, &r.Units); err != nil {
			return nil, err
		}
		r.Status = Status(status)
		ret = append(ret, r)
	}
	return ret, rows.Err()
}

// SaveLeafResult checkpoints one completed task leaf so a restarted
// process can resume the task without replaying it.
func (s *Store) SaveLeafResult(ctx context.Context, taskName string, leafIndex int, op string, result []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_leaves (task_name, leaf_index, op_name, result_json, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(task_name, leaf_index) DO UPDATE SET
			op_name=excluded.op_name,
			result_json=excluded.result_json,
			updated_at=excluded.updated_at`,
		taskName,
		leafIndex,
		op,
		string(result),
		s.now().UTC(),
	)
	return err
}

// LoadLeafResults returns a task's checkpointed leaves ordered by leaf
// position.
func (s *Store) LoadLeafResults(ctx context.Context, taskName string) ([]LeafCheckpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_name, leaf_index, op_name, result_json, updated_at
		 FROM task_leaves
		 WHERE task_name = ?
		 ORDER BY leaf_index ASC`,
		taskName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]LeafCheckpoint, 0)
	for rows.Next() {
		var cp LeafCheckpoint
		var resultJSON string
		if err := rows.Scan(&cp.TaskName, &cp.LeafIndex, &cp.Op, &resultJSON, &cp.UpdatedAt); err != nil {
			return nil, err
		}
		cp.Result = []byte(resultJSON)
		ret = append(ret, cp)
	}
	return ret, rows.Err()
}

// ClearTask drops a finished task's checkpoints.
func (s *Store) ClearTask(ctx context.Context, taskName string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM task_leaves WHERE task_name = ?`, taskName)
	return err
}
