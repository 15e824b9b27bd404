package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pricewatch-cli/internal/db"
	"github.com/sells-group/pricewatch-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"update_job":     `UPDATE jobs SET status = $1, progress = $2, products_scraped = $3, errors = $4, error = $5, input_tokens = $6, output_tokens = $7, started_at = $8, completed_at = $9 WHERE id = $10`,
	"get_job":        `SELECT ` + pgJobColumns + ` FROM jobs WHERE id = $1`,
	"update_session": `UPDATE sessions SET status = $1, products_found = $2, error = $3, started_at = $4, completed_at = $5 WHERE id = $6`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT PRIMARY KEY,
	status           TEXT NOT NULL DEFAULT 'pending',
	target_sites     TEXT[] NOT NULL,
	target_urls      TEXT[] NOT NULL,
	max_products     INTEGER NOT NULL,
	use_ai_parsing   BOOLEAN NOT NULL DEFAULT true,
	progress         DOUBLE PRECISION NOT NULL DEFAULT 0,
	products_scraped INTEGER NOT NULL DEFAULT 0,
	errors           JSONB NOT NULL DEFAULT '[]',
	error            TEXT NOT NULL DEFAULT '',
	input_tokens     INTEGER NOT NULL DEFAULT 0,
	output_tokens    INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at       TIMESTAMPTZ,
	completed_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	job_id         TEXT NOT NULL REFERENCES jobs(id),
	site           TEXT NOT NULL,
	url            TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	products_found INTEGER NOT NULL DEFAULT 0,
	error          TEXT NOT NULL DEFAULT '',
	started_at     TIMESTAMPTZ,
	completed_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS products (
	id             BIGSERIAL PRIMARY KEY,
	job_id         TEXT NOT NULL,
	session_id     TEXT NOT NULL,
	item_index     INTEGER NOT NULL,
	name           TEXT NOT NULL,
	price          DOUBLE PRECISION NOT NULL DEFAULT 0,
	original_price DOUBLE PRECISION,
	currency       TEXT NOT NULL DEFAULT 'USD',
	rating         DOUBLE PRECISION,
	review_count   INTEGER,
	availability   TEXT NOT NULL DEFAULT '',
	image_url      TEXT NOT NULL DEFAULT '',
	url            TEXT NOT NULL DEFAULT '',
	site           TEXT NOT NULL,
	confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
	source         TEXT NOT NULL,
	scraped_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (session_id, item_index)
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_sessions_job_id ON sessions(job_id);
CREATE INDEX IF NOT EXISTS idx_products_job_id ON products(job_id);
CREATE INDEX IF NOT EXISTS idx_products_site ON products(site);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
	errs, err := json.Marshal(siteErrors(job.Errors))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal job errors")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (`+pgJobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (id) DO NOTHING`,
		job.ID, string(job.Status), orEmpty(job.TargetSites), orEmpty(job.TargetURLs),
		job.MaxProducts, job.UseAIParsing, job.Progress, job.ProductsScraped, errs, job.Error,
		job.TokenUsage.InputTokens, job.TokenUsage.OutputTokens,
		job.CreatedAt, job.StartedAt, job.CompletedAt,
	)
	return eris.Wrapf(err, "postgres: insert job %s", job.ID)
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *model.Job) error {
	errs, err := json.Marshal(siteErrors(job.Errors))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal job errors")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, progress = $2, products_scraped = $3, errors = $4, error = $5,
			input_tokens = $6, output_tokens = $7, started_at = $8, completed_at = $9
		 WHERE id = $10`,
		string(job.Status), job.Progress, job.ProductsScraped, errs, job.Error,
		job.TokenUsage.InputTokens, job.TokenUsage.OutputTokens,
		job.StartedAt, job.CompletedAt, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job %s", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return model.Classify(model.ErrJobNotFound, eris.Errorf("postgres: job %s", job.ID))
	}
	return nil
}

const pgJobColumns = `id, status, target_sites, target_urls, max_products, use_ai_parsing, progress, products_scraped, errors, error, input_tokens, output_tokens, created_at, started_at, completed_at`

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgJobColumns+` FROM jobs WHERE id = $1`, jobID)
	j, err := scanPgJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.Classify(model.ErrJobNotFound, eris.Errorf("postgres: job %s", jobID))
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + pgJobColumns + ` FROM jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, limitOrDefault(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanPgJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess *model.Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, job_id, site, url, status, products_found, error, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		sess.ID, sess.JobID, sess.Site, sess.URL, string(sess.Status),
		sess.ProductsFound, sess.Error, sess.StartedAt, sess.CompletedAt,
	)
	return eris.Wrapf(err, "postgres: insert session %s", sess.ID)
}

func (s *PostgresStore) UpdateSession(ctx context.Context, sess *model.Session) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET status = $1, products_found = $2, error = $3, started_at = $4, completed_at = $5
		 WHERE id = $6`,
		string(sess.Status), sess.ProductsFound, sess.Error, sess.StartedAt, sess.CompletedAt, sess.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update session %s", sess.ID)
	}
	if tag.RowsAffected() == 0 {
		return model.Classify(errSessionNotFound, eris.Errorf("postgres: session %s", sess.ID))
	}
	return nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, jobID string) ([]model.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, site, url, status, products_found, error, started_at, completed_at
		 FROM sessions WHERE job_id = $1 ORDER BY site`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		var ss model.Session
		var status string
		if err := rows.Scan(&ss.ID, &ss.JobID, &ss.Site, &ss.URL, &status,
			&ss.ProductsFound, &ss.Error, &ss.StartedAt, &ss.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan session")
		}
		ss.Status = model.JobStatus(status)
		out = append(out, ss)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list sessions iterate")
}

var productColumnList = []string{
	"job_id", "session_id", "item_index", "name", "price", "original_price", "currency",
	"rating", "review_count", "availability", "image_url", "url", "site",
	"confidence", "source", "scraped_at",
}

// InsertProducts upserts through a COPY into a temp table, so redelivered
// batches do not duplicate rows.
func (s *PostgresStore) InsertProducts(ctx context.Context, products []model.Product) (int, error) {
	if len(products) == 0 {
		return 0, nil
	}
	rows := make([][]any, len(products))
	for i, p := range products {
		rows[i] = productRow(p)
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "products",
		Columns:      productColumnList,
		ConflictKeys: []string{"session_id", "item_index"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert products")
	}
	return int(n), nil
}

func (s *PostgresStore) ListProducts(ctx context.Context, filter ProductFilter) ([]model.Product, error) {
	query := `SELECT id, ` + productColumns + ` FROM products WHERE true`
	args := []any{}
	argIdx := 1

	if filter.JobID != "" {
		query += fmt.Sprintf(` AND job_id = $%d`, argIdx)
		args = append(args, filter.JobID)
		argIdx++
	}
	if filter.Site != "" {
		query += fmt.Sprintf(` AND site = $%d`, argIdx)
		args = append(args, filter.Site)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY id LIMIT $%d`, argIdx)
	args = append(args, limitOrDefault(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list products")
	}
	defer rows.Close()

	var out []model.Product
	for rows.Next() {
		var p model.Product
		var source string
		if err := rows.Scan(&p.ID, &p.JobID, &p.SessionID, &p.Position, &p.Name, &p.Price,
			&p.OriginalPrice, &p.Currency, &p.Rating, &p.ReviewCount, &p.Availability,
			&p.ImageURL, &p.URL, &p.Site, &p.Confidence, &source, &p.ScrapedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan product")
		}
		p.Source = model.Source(source)
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list products iterate")
}

func scanPgJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var status string
	var errs []byte

	if err := row.Scan(&j.ID, &status, &j.TargetSites, &j.TargetURLs, &j.MaxProducts,
		&j.UseAIParsing, &j.Progress, &j.ProductsScraped, &errs, &j.Error,
		&j.TokenUsage.InputTokens, &j.TokenUsage.OutputTokens,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(status)
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &j.Errors); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal job errors")
		}
	}
	if len(j.Errors) == 0 {
		j.Errors = nil
	}
	return &j, nil
}

func siteErrors(list []model.SiteError) []model.SiteError {
	if list == nil {
		return []model.SiteError{}
	}
	return list
}
