package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kufar_watch/models"
)

// PostgresStore is the shared-database alternative to SQLiteStore, used when
// several daemons or an external dashboard need the same ledger.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS users (
		user_id BIGINT PRIMARY KEY,
		chat_id BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS urls (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(user_id),
		url TEXT NOT NULL,
		last_id BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS filters (
		user_id BIGINT PRIMARY KEY,
		min_price INTEGER,
		max_price INTEGER,
		keywords TEXT
	);

	CREATE TABLE IF NOT EXISTS price_history (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		ad_id TEXT NOT NULL,
		title TEXT,
		price INTEGER NOT NULL,
		url TEXT,
		recorded_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pass_runs (
		id UUID PRIMARY KEY,
		user_id BIGINT,
		source_id BIGINT,
		trigger_type TEXT,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		status TEXT,
		listings_found INTEGER DEFAULT 0,
		new_count INTEGER DEFAULT 0,
		drop_count INTEGER DEFAULT 0,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS pass_logs (
		id BIGSERIAL PRIMARY KEY,
		run_id UUID,
		timestamp TIMESTAMPTZ,
		level TEXT,
		message TEXT,
		user_id BIGINT
	);

	CREATE TABLE IF NOT EXISTS commands (
		id BIGSERIAL PRIMARY KEY,
		command TEXT,
		params JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		processed_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_urls_user ON urls(user_id);
	CREATE INDEX IF NOT EXISTS idx_price_history_ad ON price_history(user_id, ad_id, recorded_at);
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	`)
	return err
}

// =============================================================================
// Subscribers
// =============================================================================

func (s *PostgresStore) RegisterSubscriber(ctx context.Context, owner, chatID int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (user_id, chat_id, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING`,
		owner, chatID, time.Now())
	return wrap("register subscriber", err)
}

func (s *PostgresStore) GetSubscriber(ctx context.Context, owner int64) (*models.Subscriber, error) {
	var sub models.Subscriber
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, chat_id, created_at FROM users WHERE user_id = $1`, owner).
		Scan(&sub.ID, &sub.ChatID, &sub.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get subscriber", err)
	}
	return &sub, nil
}

func (s *PostgresStore) ListSubscribers(ctx context.Context) ([]models.Subscriber, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id, chat_id, created_at FROM users ORDER BY user_id`)
	if err != nil {
		return nil, wrap("list subscribers", err)
	}
	defer rows.Close()

	var subs []models.Subscriber
	for rows.Next() {
		var sub models.Subscriber
		if err := rows.Scan(&sub.ID, &sub.ChatID, &sub.CreatedAt); err != nil {
			return nil, wrap("list subscribers", err)
		}
		subs = append(subs, sub)
	}
	return subs, wrap("list subscribers", rows.Err())
}

// =============================================================================
// Watched sources
// =============================================================================

func (s *PostgresStore) AddSource(ctx context.Context, owner int64, url string) (*models.WatchedSource, error) {
	src := &models.WatchedSource{Owner: owner, URL: url, CreatedAt: time.Now()}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO urls (user_id, url, last_id, created_at) VALUES ($1, $2, 0, $3)
		RETURNING id`,
		owner, url, src.CreatedAt).Scan(&src.ID)
	if err != nil {
		return nil, wrap("add source", err)
	}
	return src, nil
}

func (s *PostgresStore) GetSource(ctx context.Context, id int64) (*models.WatchedSource, error) {
	var src models.WatchedSource
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, url, last_id, created_at FROM urls WHERE id = $1`, id).
		Scan(&src.ID, &src.Owner, &src.URL, &src.Watermark, &src.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get source", err)
	}
	return &src, nil
}

func (s *PostgresStore) ListSources(ctx context.Context, owner int64) ([]models.WatchedSource, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, url, last_id, created_at FROM urls WHERE user_id = $1 ORDER BY id`, owner)
	if err != nil {
		return nil, wrap("list sources", err)
	}
	defer rows.Close()

	var sources []models.WatchedSource
	for rows.Next() {
		var src models.WatchedSource
		if err := rows.Scan(&src.ID, &src.Owner, &src.URL, &src.Watermark, &src.CreatedAt); err != nil {
			return nil, wrap("list sources", err)
		}
		sources = append(sources, src)
	}
	return sources, wrap("list sources", rows.Err())
}

func (s *PostgresStore) DeleteAllSources(ctx context.Context, owner int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM urls WHERE user_id = $1`, owner)
	if err != nil {
		return 0, wrap("delete sources", err)
	}
	return tag.RowsAffected(), nil
}

// =============================================================================
// Filters
// =============================================================================

func (s *PostgresStore) GetFilter(ctx context.Context, owner int64) (*models.FilterSpec, error) {
	var minPrice, maxPrice *int
	var keywords *string
	err := s.pool.QueryRow(ctx, `
		SELECT min_price, max_price, keywords FROM filters WHERE user_id = $1`, owner).
		Scan(&minPrice, &maxPrice, &keywords)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get filter", err)
	}

	f := &models.FilterSpec{Owner: owner, MinPrice: minPrice, MaxPrice: maxPrice}
	if keywords != nil {
		f.Keywords = models.ParseKeywords(*keywords)
	}
	return f, nil
}

func (s *PostgresStore) UpsertFilter(ctx context.Context, f *models.FilterSpec) error {
	var keywords *string
	if len(f.Keywords) > 0 {
		k := f.KeywordsString()
		keywords = &k
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO filters (user_id, min_price, max_price, keywords) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			min_price = EXCLUDED.min_price,
			max_price = EXCLUDED.max_price,
			keywords = EXCLUDED.keywords`,
		f.Owner, f.MinPrice, f.MaxPrice, keywords)
	return wrap("upsert filter", err)
}

// =============================================================================
// Price ledger
// =============================================================================

func (s *PostgresStore) LastPrice(ctx context.Context, owner int64, externalID string) (int, bool, error) {
	var price int
	err := s.pool.QueryRow(ctx, `
		SELECT price FROM price_history
		WHERE user_id = $1 AND ad_id = $2
		ORDER BY recorded_at DESC, id DESC LIMIT 1`, owner, externalID).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrap("last price", err)
	}
	return price, true, nil
}

// Under READ COMMITTED two writers could both see the old latest price, so
// each conditional insert first takes a transaction-scoped advisory lock on
// (owner, ad id).
const pgRecordIfChangedSQL = `
	INSERT INTO price_history (user_id, ad_id, title, price, url, recorded_at)
	SELECT $1::bigint, $2::text, $3::text, $4::integer, $5::text, $6::timestamptz
	WHERE NOT EXISTS (
		SELECT 1 FROM (
			SELECT price FROM price_history
			WHERE user_id = $1 AND ad_id = $2
			ORDER BY recorded_at DESC, id DESC LIMIT 1
		) latest WHERE latest.price = $4
	)`

func pgRecordIfChanged(ctx context.Context, tx pgx.Tx, obs *models.PriceObservation) (bool, error) {
	if obs.RecordedAt.IsZero() {
		obs.RecordedAt = time.Now()
	}
	obs.RecordedAt = obs.RecordedAt.UTC()
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::bigint::text || ':' || $2::text, 0))`,
		obs.Owner, obs.ExternalID); err != nil {
		return false, err
	}
	tag, err := tx.Exec(ctx, pgRecordIfChangedSQL,
		obs.Owner, obs.ExternalID, obs.Title, obs.Price, obs.URL, obs.RecordedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) RecordIfChanged(ctx context.Context, obs *models.PriceObservation) (bool, error) {
	var written bool
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		written, err = pgRecordIfChanged(ctx, tx, obs)
		return err
	})
	if err != nil {
		return false, wrap("record price", err)
	}
	return written, nil
}

func (s *PostgresStore) CommitPass(ctx context.Context, c *models.PassCommit) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for i := range c.Observations {
			obs := &c.Observations[i]
			obs.Owner = c.Owner
			if _, err := pgRecordIfChanged(ctx, tx, obs); err != nil {
				return err
			}
		}
		if c.Watermark > 0 {
			_, err := tx.Exec(ctx, `
				UPDATE urls SET last_id = GREATEST(last_id, $1) WHERE id = $2 AND user_id = $3`,
				c.Watermark, c.SourceID, c.Owner)
			return err
		}
		return nil
	})
	return wrap("commit pass", err)
}

// =============================================================================
// Pass runs and logs
// =============================================================================

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.PassRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pass_runs (id, user_id, source_id, trigger_type, started_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.Owner, run.SourceID, string(run.Trigger), run.StartedAt, string(run.Status))
	return wrap("create run", err)
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *models.PassRun) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE pass_runs SET
			finished_at = $2, status = $3, listings_found = $4,
			new_count = $5, drop_count = $6, error = $7
		WHERE id = $1`,
		run.ID, run.FinishedAt, string(run.Status), run.ListingsFound, run.NewCount, run.DropCount, run.Error)
	return wrap("update run", err)
}

func (s *PostgresStore) Log(ctx context.Context, runID string, level models.LogLevel, message string, owner int64) error {
	var rid *string
	if runID != "" {
		rid = &runID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pass_logs (run_id, timestamp, level, message, user_id)
		VALUES ($1, $2, $3, $4, $5)`,
		rid, time.Now(), string(level), message, owner)
	return wrap("log", err)
}

func (s *PostgresStore) RecentRuns(ctx context.Context, limit int) ([]models.PassRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, user_id, source_id, trigger_type, started_at, finished_at, status,
			listings_found, new_count, drop_count, COALESCE(error, '')
		FROM pass_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, wrap("recent runs", err)
	}
	defer rows.Close()

	var runs []models.PassRun
	for rows.Next() {
		var r models.PassRun
		var trigger, status string
		if err := rows.Scan(&r.ID, &r.Owner, &r.SourceID, &trigger, &r.StartedAt, &r.FinishedAt, &status,
			&r.ListingsFound, &r.NewCount, &r.DropCount, &r.Error); err != nil {
			return nil, wrap("recent runs", err)
		}
		r.Trigger = models.Trigger(trigger)
		r.Status = models.RunStatus(status)
		runs = append(runs, r)
	}
	return runs, wrap("recent runs", rows.Err())
}

func (s *PostgresStore) RecentLogs(ctx context.Context, limit int, level *models.LogLevel) ([]models.PassLog, error) {
	query := `SELECT id, COALESCE(run_id::text, ''), timestamp, level, message, user_id FROM pass_logs`
	args := []any{}
	if level != nil {
		query += ` WHERE level = $1`
		args = append(args, string(*level))
	}
	query += fmt.Sprintf(` ORDER BY timestamp DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("recent logs", err)
	}
	defer rows.Close()

	var logs []models.PassLog
	for rows.Next() {
		var l models.PassLog
		var lvl string
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &lvl, &l.Message, &l.Owner); err != nil {
			return nil, wrap("recent logs", err)
		}
		l.Level = models.LogLevel(lvl)
		logs = append(logs, l)
	}
	return logs, wrap("recent logs", rows.Err())
}

// =============================================================================
// Commands
// =============================================================================

func (s *PostgresStore) EnqueueCommand(ctx context.Context, cmd models.CommandType, params *models.CommandParams) error {
	var raw []byte
	if params != nil {
		var err error
		if raw, err = json.Marshal(params); err != nil {
			return err
		}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO commands (command, params, created_at) VALUES ($1, $2, $3)`,
		string(cmd), raw, time.Now())
	return wrap("enqueue command", err)
}

func (s *PostgresStore) GetPendingCommands(ctx context.Context) ([]models.Command, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, wrap("pending commands", err)
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var command string
		var params []byte
		if err := rows.Scan(&cmd.ID, &command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, wrap("pending commands", err)
		}
		cmd.Command = models.CommandType(command)
		if params != nil {
			cmd.Params = json.RawMessage(params)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, wrap("pending commands", rows.Err())
}

func (s *PostgresStore) MarkCommandProcessed(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE commands SET processed_at = $1 WHERE id = $2`, time.Now(), id)
	return wrap("mark command", err)
}
