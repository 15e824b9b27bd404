package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/pricewatch-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT PRIMARY KEY,
	status           TEXT NOT NULL DEFAULT 'pending',
	target_sites     TEXT NOT NULL,
	target_urls      TEXT NOT NULL,
	max_products     INTEGER NOT NULL,
	use_ai_parsing   INTEGER NOT NULL DEFAULT 1,
	progress         REAL NOT NULL DEFAULT 0,
	products_scraped INTEGER NOT NULL DEFAULT 0,
	errors           TEXT NOT NULL DEFAULT '[]',
	error            TEXT NOT NULL DEFAULT '',
	input_tokens     INTEGER NOT NULL DEFAULT 0,
	output_tokens    INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL,
	started_at       DATETIME,
	completed_at     DATETIME
);

CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	job_id         TEXT NOT NULL REFERENCES jobs(id),
	site           TEXT NOT NULL,
	url            TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	products_found INTEGER NOT NULL DEFAULT 0,
	error          TEXT NOT NULL DEFAULT '',
	started_at     DATETIME,
	completed_at   DATETIME
);

CREATE TABLE IF NOT EXISTS products (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id         TEXT NOT NULL,
	session_id     TEXT NOT NULL,
	item_index     INTEGER NOT NULL,
	name           TEXT NOT NULL,
	price          REAL NOT NULL DEFAULT 0,
	original_price REAL,
	currency       TEXT NOT NULL DEFAULT 'USD',
	rating         REAL,
	review_count   INTEGER,
	availability   TEXT NOT NULL DEFAULT '',
	image_url      TEXT NOT NULL DEFAULT '',
	url            TEXT NOT NULL DEFAULT '',
	site           TEXT NOT NULL,
	confidence     REAL NOT NULL DEFAULT 0,
	source         TEXT NOT NULL,
	scraped_at     DATETIME NOT NULL,
	UNIQUE (session_id, item_index)
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_sessions_job_id ON sessions(job_id);
CREATE INDEX IF NOT EXISTS idx_products_job_id ON products(job_id);
CREATE INDEX IF NOT EXISTS idx_products_site ON products(site);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) error {
	sites, urls, errs, err := marshalJobLists(job)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal job")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, status, target_sites, target_urls, max_products, use_ai_parsing,
			progress, products_scraped, errors, error, input_tokens, output_tokens,
			created_at, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		job.ID, string(job.Status), sites, urls, job.MaxProducts, job.UseAIParsing,
		job.Progress, job.ProductsScraped, errs, job.Error,
		job.TokenUsage.InputTokens, job.TokenUsage.OutputTokens,
		job.CreatedAt, job.StartedAt, job.CompletedAt,
	)
	return eris.Wrapf(err, "sqlite: insert job %s", job.ID)
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job *model.Job) error {
	_, _, errs, err := marshalJobLists(job)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal job")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, progress = ?, products_scraped = ?, errors = ?, error = ?,
			input_tokens = ?, output_tokens = ?, started_at = ?, completed_at = ?
		 WHERE id = ?`,
		string(job.Status), job.Progress, job.ProductsScraped, errs, job.Error,
		job.TokenUsage.InputTokens, job.TokenUsage.OutputTokens,
		job.StartedAt, job.CompletedAt, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job %s", job.ID)
	}
	return checkRowsAffected(res, model.ErrJobNotFound, job.ID)
}

const sqliteJobColumns = `id, status, target_sites, target_urls, max_products, use_ai_parsing,
	progress, products_scraped, errors, error, input_tokens, output_tokens,
	created_at, started_at, completed_at`

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteJobColumns+` FROM jobs WHERE id = ?`, jobID)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.Classify(model.ErrJobNotFound, eris.Errorf("sqlite: job %s", jobID))
	}
	return j, err
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + sqliteJobColumns + ` FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close() //nolint:errcheck

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *model.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, job_id, site, url, status, products_found, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		sess.ID, sess.JobID, sess.Site, sess.URL, string(sess.Status),
		sess.ProductsFound, sess.Error, sess.StartedAt, sess.CompletedAt,
	)
	return eris.Wrapf(err, "sqlite: insert session %s", sess.ID)
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, sess *model.Session) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, products_found = ?, error = ?, started_at = ?, completed_at = ?
		 WHERE id = ?`,
		string(sess.Status), sess.ProductsFound, sess.Error, sess.StartedAt, sess.CompletedAt, sess.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update session %s", sess.ID)
	}
	return checkRowsAffected(res, errSessionNotFound, sess.ID)
}

func (s *SQLiteStore) ListSessions(ctx context.Context, jobID string) ([]model.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, site, url, status, products_found, error, started_at, completed_at
		 FROM sessions WHERE job_id = ? ORDER BY site`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sessions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Session
	for rows.Next() {
		var ss model.Session
		var started, completed sql.NullTime
		if err := rows.Scan(&ss.ID, &ss.JobID, &ss.Site, &ss.URL, &ss.Status,
			&ss.ProductsFound, &ss.Error, &started, &completed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan session")
		}
		ss.StartedAt = nullTime(started)
		ss.CompletedAt = nullTime(completed)
		out = append(out, ss)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list sessions iterate")
}

func (s *SQLiteStore) InsertProducts(ctx context.Context, products []model.Product) (int, error) {
	if len(products) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert products")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO products (`+productColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, item_index) DO NOTHING`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert products")
	}
	defer stmt.Close() //nolint:errcheck

	inserted := 0
	for _, p := range products {
		res, err := stmt.ExecContext(ctx, productRow(p)...)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert product %q", p.Name)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert products")
	}
	return inserted, nil
}

func (s *SQLiteStore) ListProducts(ctx context.Context, filter ProductFilter) ([]model.Product, error) {
	query := `SELECT id, ` + productColumns + ` FROM products WHERE 1=1`
	var args []any

	if filter.JobID != "" {
		query += ` AND job_id = ?`
		args = append(args, filter.JobID)
	}
	if filter.Site != "" {
		query += ` AND site = ?`
		args = append(args, filter.Site)
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list products")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Product
	for rows.Next() {
		var p model.Product
		var original, rating sql.NullFloat64
		var reviews sql.NullInt64
		if err := rows.Scan(&p.ID, &p.JobID, &p.SessionID, &p.Position, &p.Name, &p.Price,
			&original, &p.Currency, &rating, &reviews, &p.Availability, &p.ImageURL,
			&p.URL, &p.Site, &p.Confidence, &p.Source, &p.ScrapedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan product")
		}
		if original.Valid {
			p.OriginalPrice = model.Float(original.Float64)
		}
		if rating.Valid {
			p.Rating = model.Float(rating.Float64)
		}
		if reviews.Valid {
			p.ReviewCount = model.Int(int(reviews.Int64))
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list products iterate")
}

// helpers

var errSessionNotFound = eris.New("session not found")

func checkRowsAffected(res sql.Result, kind error, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return model.Classify(kind, eris.Errorf("id %s", id))
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.Job, error) {
	var j model.Job
	var sites, urls, errs string
	var started, completed sql.NullTime

	err := row.Scan(&j.ID, &j.Status, &sites, &urls, &j.MaxProducts, &j.UseAIParsing,
		&j.Progress, &j.ProductsScraped, &errs, &j.Error,
		&j.TokenUsage.InputTokens, &j.TokenUsage.OutputTokens,
		&j.CreatedAt, &started, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}
	if err := unmarshalJobLists(&j, []byte(sites), []byte(urls), []byte(errs)); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal job")
	}
	j.StartedAt = nullTime(started)
	j.CompletedAt = nullTime(completed)
	return &j, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func marshalJobLists(job *model.Job) (sites, urls, errs string, err error) {
	b, err := json.Marshal(orEmpty(job.TargetSites))
	if err != nil {
		return "", "", "", err
	}
	sites = string(b)
	if b, err = json.Marshal(orEmpty(job.TargetURLs)); err != nil {
		return "", "", "", err
	}
	urls = string(b)
	list := job.Errors
	if list == nil {
		list = []model.SiteError{}
	}
	if b, err = json.Marshal(list); err != nil {
		return "", "", "", err
	}
	return sites, urls, string(b), nil
}

func unmarshalJobLists(j *model.Job, sites, urls, errs []byte) error {
	if err := json.Unmarshal(sites, &j.TargetSites); err != nil {
		return err
	}
	if err := json.Unmarshal(urls, &j.TargetURLs); err != nil {
		return err
	}
	if err := json.Unmarshal(errs, &j.Errors); err != nil {
		return err
	}
	if len(j.Errors) == 0 {
		j.Errors = nil
	}
	return nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

const productColumns = `job_id, session_id, item_index, name, price, original_price, currency,
	rating, review_count, availability, image_url, url, site, confidence, source, scraped_at`

func productRow(p model.Product) []any {
	return []any{
		p.JobID, p.SessionID, p.Position, p.Name, p.Price, p.OriginalPrice, p.Currency,
		p.Rating, p.ReviewCount, p.Availability, p.ImageURL, p.URL, p.Site,
		p.Confidence, string(p.Source), p.ScrapedAt,
	}
}
