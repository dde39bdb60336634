package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"kufar_watch/models"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		user_id INTEGER PRIMARY KEY,
		chat_id INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS urls (
		id INTEGER PRIMARY KEY,
		user_id INTEGER NOT NULL,
		url TEXT NOT NULL,
		last_id INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(user_id)
	);

	CREATE TABLE IF NOT EXISTS filters (
		user_id INTEGER PRIMARY KEY,
		min_price INTEGER,
		max_price INTEGER,
		keywords TEXT
	);

	CREATE TABLE IF NOT EXISTS price_history (
		id INTEGER PRIMARY KEY,
		user_id INTEGER NOT NULL,
		ad_id TEXT NOT NULL,
		title TEXT,
		price INTEGER NOT NULL,
		url TEXT,
		recorded_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pass_runs (
		id TEXT PRIMARY KEY,
		user_id INTEGER,
		source_id INTEGER,
		trigger_type TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		listings_found INTEGER DEFAULT 0,
		new_count INTEGER DEFAULT 0,
		drop_count INTEGER DEFAULT 0,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS pass_logs (
		id INTEGER PRIMARY KEY,
		run_id TEXT,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		user_id INTEGER
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_urls_user ON urls(user_id);
	CREATE INDEX IF NOT EXISTS idx_price_history_ad ON price_history(user_id, ad_id, recorded_at);
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_run ON pass_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON pass_runs(status, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Subscribers
// =============================================================================

func (s *SQLiteStore) RegisterSubscriber(ctx context.Context, owner, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, chat_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`,
		owner, chatID, time.Now())
	return wrap("register subscriber", err)
}

func (s *SQLiteStore) GetSubscriber(ctx context.Context, owner int64) (*models.Subscriber, error) {
	var sub models.Subscriber
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, chat_id, created_at FROM users WHERE user_id = ?`, owner).
		Scan(&sub.ID, &sub.ChatID, &sub.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get subscriber", err)
	}
	return &sub, nil
}

func (s *SQLiteStore) ListSubscribers(ctx context.Context) ([]models.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, chat_id, created_at FROM users ORDER BY user_id`)
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

func (s *SQLiteStore) AddSource(ctx context.Context, owner int64, url string) (*models.WatchedSource, error) {
	src := &models.WatchedSource{Owner: owner, URL: url, CreatedAt: time.Now()}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO urls (user_id, url, last_id, created_at) VALUES (?, ?, 0, ?)`,
		owner, url, src.CreatedAt)
	if err != nil {
		return nil, wrap("add source", err)
	}
	src.ID, err = result.LastInsertId()
	if err != nil {
		return nil, wrap("add source", err)
	}
	return src, nil
}

func (s *SQLiteStore) GetSource(ctx context.Context, id int64) (*models.WatchedSource, error) {
	var src models.WatchedSource
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, url, last_id, created_at FROM urls WHERE id = ?`, id).
		Scan(&src.ID, &src.Owner, &src.URL, &src.Watermark, &src.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get source", err)
	}
	return &src, nil
}

func (s *SQLiteStore) ListSources(ctx context.Context, owner int64) ([]models.WatchedSource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, url, last_id, created_at FROM urls WHERE user_id = ? ORDER BY id`, owner)
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

func (s *SQLiteStore) DeleteAllSources(ctx context.Context, owner int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM urls WHERE user_id = ?`, owner)
	if err != nil {
		return 0, wrap("delete sources", err)
	}
	n, err := result.RowsAffected()
	return n, wrap("delete sources", err)
}

// =============================================================================
// Filters
// =============================================================================

func (s *SQLiteStore) GetFilter(ctx context.Context, owner int64) (*models.FilterSpec, error) {
	var minPrice, maxPrice sql.NullInt64
	var keywords sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT min_price, max_price, keywords FROM filters WHERE user_id = ?`, owner).
		Scan(&minPrice, &maxPrice, &keywords)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get filter", err)
	}

	f := &models.FilterSpec{Owner: owner, Keywords: models.ParseKeywords(keywords.String)}
	if minPrice.Valid {
		v := int(minPrice.Int64)
		f.MinPrice = &v
	}
	if maxPrice.Valid {
		v := int(maxPrice.Int64)
		f.MaxPrice = &v
	}
	return f, nil
}

func (s *SQLiteStore) UpsertFilter(ctx context.Context, f *models.FilterSpec) error {
	var keywords sql.NullString
	if len(f.Keywords) > 0 {
		keywords = sql.NullString{String: f.KeywordsString(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO filters (user_id, min_price, max_price, keywords) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			min_price = excluded.min_price,
			max_price = excluded.max_price,
			keywords = excluded.keywords`,
		f.Owner, nullInt(f.MinPrice), nullInt(f.MaxPrice), keywords)
	return wrap("upsert filter", err)
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

// =============================================================================
// Price ledger
// =============================================================================

func (s *SQLiteStore) LastPrice(ctx context.Context, owner int64, externalID string) (int, bool, error) {
	var price int
	err := s.db.QueryRowContext(ctx, `
		SELECT price FROM price_history
		WHERE user_id = ? AND ad_id = ?
		ORDER BY id DESC LIMIT 1`, owner, externalID).Scan(&price)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrap("last price", err)
	}
	return price, true, nil
}

// recordIfChangedSQL inserts only when the latest price differs. The ledger
// is append-only, so the highest id is the latest observation. Being one
// statement, the check and the write cannot interleave with another writer.
const recordIfChangedSQL = `
	INSERT INTO price_history (user_id, ad_id, title, price, url, recorded_at)
	SELECT ?, ?, ?, ?, ?, ?
	WHERE NOT EXISTS (
		SELECT 1 FROM (
			SELECT price FROM price_history
			WHERE user_id = ? AND ad_id = ?
			ORDER BY id DESC LIMIT 1
		) latest WHERE latest.price = ?
	)`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func recordIfChanged(ctx context.Context, db execer, obs *models.PriceObservation) (bool, error) {
	if obs.RecordedAt.IsZero() {
		obs.RecordedAt = time.Now()
	}
	// The driver writes times as offset strings; keep them all in UTC.
	obs.RecordedAt = obs.RecordedAt.UTC()
	result, err := db.ExecContext(ctx, recordIfChangedSQL,
		obs.Owner, obs.ExternalID, obs.Title, obs.Price, obs.URL, obs.RecordedAt,
		obs.Owner, obs.ExternalID, obs.Price)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) RecordIfChanged(ctx context.Context, obs *models.PriceObservation) (bool, error) {
	written, err := recordIfChanged(ctx, s.db, obs)
	return written, wrap("record price", err)
}

func (s *SQLiteStore) CommitPass(ctx context.Context, c *models.PassCommit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("commit pass", err)
	}
	defer tx.Rollback()

	for i := range c.Observations {
		obs := &c.Observations[i]
		obs.Owner = c.Owner
		if _, err := recordIfChanged(ctx, tx, obs); err != nil {
			return wrap("commit pass", err)
		}
	}

	if c.Watermark > 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE urls SET last_id = MAX(last_id, ?) WHERE id = ? AND user_id = ?`,
			c.Watermark, c.SourceID, c.Owner); err != nil {
			return wrap("commit pass", err)
		}
	}

	return wrap("commit pass", tx.Commit())
}

// =============================================================================
// Pass runs and logs
// =============================================================================

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.PassRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pass_runs (id, user_id, source_id, trigger_type, started_at, status,
			listings_found, new_count, drop_count)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0, 0)`,
		run.ID, run.Owner, run.SourceID, run.Trigger, run.StartedAt, run.Status)
	return wrap("create run", err)
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *models.PassRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pass_runs SET finished_at = ?, status = ?, listings_found = ?,
			new_count = ?, drop_count = ?, error = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.ListingsFound, run.NewCount, run.DropCount, run.Error, run.ID)
	return wrap("update run", err)
}

func (s *SQLiteStore) Log(ctx context.Context, runID string, level models.LogLevel, message string, owner int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pass_logs (run_id, timestamp, level, message, user_id)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now(), level, message, owner)
	return wrap("log", err)
}

// RecentRuns returns the newest pass runs first.
func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]models.PassRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, source_id, trigger_type, started_at, finished_at, status,
			listings_found, new_count, drop_count, error
		FROM pass_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, wrap("recent runs", err)
	}
	defer rows.Close()

	var runs []models.PassRun
	for rows.Next() {
		var r models.PassRun
		var finished sql.NullTime
		var errText sql.NullString
		if err := rows.Scan(&r.ID, &r.Owner, &r.SourceID, &r.Trigger, &r.StartedAt, &finished, &r.Status,
			&r.ListingsFound, &r.NewCount, &r.DropCount, &errText); err != nil {
			return nil, wrap("recent runs", err)
		}
		if finished.Valid {
			r.FinishedAt = &finished.Time
		}
		r.Error = errText.String
		runs = append(runs, r)
	}
	return runs, wrap("recent runs", rows.Err())
}

// RecentLogs returns the newest log lines first, optionally only one level.
func (s *SQLiteStore) RecentLogs(ctx context.Context, limit int, level *models.LogLevel) ([]models.PassLog, error) {
	query := `SELECT id, run_id, timestamp, level, message, user_id FROM pass_logs`
	args := []any{}
	if level != nil {
		query += ` WHERE level = ?`
		args = append(args, *level)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("recent logs", err)
	}
	defer rows.Close()

	var logs []models.PassLog
	for rows.Next() {
		var l models.PassLog
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &l.Level, &l.Message, &l.Owner); err != nil {
			return nil, wrap("recent logs", err)
		}
		logs = append(logs, l)
	}
	return logs, wrap("recent logs", rows.Err())
}

// =============================================================================
// Commands
// =============================================================================

func (s *SQLiteStore) EnqueueCommand(ctx context.Context, cmd models.CommandType, params *models.CommandParams) error {
	var raw sql.NullString
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return err
		}
		raw = sql.NullString{String: string(data), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commands (command, params, created_at) VALUES (?, ?, ?)`,
		cmd, raw, time.Now())
	return wrap("enqueue command", err)
}

func (s *SQLiteStore) GetPendingCommands(ctx context.Context) ([]models.Command, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, wrap("pending commands", err)
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, wrap("pending commands", err)
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, wrap("pending commands", rows.Err())
}

func (s *SQLiteStore) MarkCommandProcessed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return wrap("mark command", err)
}
