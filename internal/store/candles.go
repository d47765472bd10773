package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"crossbot/internal/logger"
	"crossbot/internal/market"

	_ "modernc.org/sqlite"
)

// Manifest 记录某个 symbol@interval 缓存文件的统计信息。
type Manifest struct {
	Symbol     string `json:"symbol"`
	Interval   string `json:"interval"`
	MinTime    int64  `json:"min_time"`
	MaxTime    int64  `json:"max_time"`
	Rows       int64  `json:"rows"`
	LastSyncAt int64  `json:"last_sync_at"`
	Path       string `json:"path"`
}

// CandleStore 按 symbol/interval 分文件缓存收盘价（modernc sqlite）。
type CandleStore struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func NewCandleStore(root string) (*CandleStore, error) {
	if root == "" {
		return nil, fmt.Errorf("data root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &CandleStore{root: root, dbs: make(map[string]*sql.DB)}, nil
}

func (s *CandleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, k)
	}
	return firstErr
}

func (s *CandleStore) db(symbol, interval string) (*sql.DB, string, error) {
	if symbol == "" || interval == "" {
		return nil, "", fmt.Errorf("symbol/interval 不能为空")
	}
	key := strings.ToUpper(symbol) + "@" + strings.ToLower(interval)
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.dbPath(symbol, interval)
	if db, ok := s.dbs[key]; ok && db != nil {
		return db, path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureCandleSchema(db, symbol, interval); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	s.dbs[key] = db
	return db, path, nil
}

func (s *CandleStore) dbPath(symbol, interval string) string {
	return filepath.Join(s.root, strings.ToUpper(symbol), strings.ToLower(interval)+".db")
}

func ensureCandleSchema(db *sql.DB, symbol, interval string) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bars (
			open_time   INTEGER PRIMARY KEY,
			close       REAL NOT NULL,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000)
		);`,
		`CREATE TABLE IF NOT EXISTS manifest (
			id INTEGER PRIMARY KEY CHECK (id=1),
			symbol TEXT NOT NULL,
			interval TEXT NOT NULL,
			min_time INTEGER,
			max_time INTEGER,
			rows INTEGER DEFAULT 0,
			last_sync_at INTEGER
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	_, err := db.Exec(`INSERT INTO manifest (id, symbol, interval) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET symbol=excluded.symbol, interval=excluded.interval;`,
		strings.ToUpper(symbol), strings.ToLower(interval))
	return err
}

// Put 批量写入 bar（相同 open_time 覆盖）。
func (s *CandleStore) Put(ctx context.Context, symbol, interval string, bars []market.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	db, _, err := s.db(symbol, interval)
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (open_time, close) VALUES (?, ?)
		ON CONFLICT(open_time) DO UPDATE SET close=excluded.close`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.Time.UnixMilli(), b.Close); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if err := refreshManifest(ctx, db); err != nil {
		return count, err
	}
	return count, nil
}

// Range 返回 [start, end) 内的 bar，按时间升序。
func (s *CandleStore) Range(ctx context.Context, symbol, interval string, start, end time.Time) ([]market.Bar, error) {
	db, _, err := s.db(symbol, interval)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT open_time, close FROM bars
		WHERE open_time >= ? AND open_time < ?
		ORDER BY open_time ASC`, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.Bar
	for rows.Next() {
		var (
			ts    int64
			price float64
		)
		if err := rows.Scan(&ts, &price); err != nil {
			return nil, err
		}
		out = append(out, market.Bar{Time: time.UnixMilli(ts).UTC(), Close: price})
	}
	return out, rows.Err()
}

// Count 返回 [start, end) 内已缓存的数量。
func (s *CandleStore) Count(ctx context.Context, symbol, interval string, start, end time.Time) (int64, error) {
	db, _, err := s.db(symbol, interval)
	if err != nil {
		return 0, err
	}
	var n int64
	err = db.QueryRowContext(ctx, `SELECT COUNT(1) FROM bars WHERE open_time >= ? AND open_time < ?`,
		start.UnixMilli(), end.UnixMilli()).Scan(&n)
	return n, err
}

func (s *CandleStore) Manifest(ctx context.Context, symbol, interval string) (Manifest, error) {
	db, path, err := s.db(symbol, interval)
	if err != nil {
		return Manifest{}, err
	}
	row := db.QueryRowContext(ctx, `SELECT symbol, interval, COALESCE(min_time,0), COALESCE(max_time,0), COALESCE(rows,0), COALESCE(last_sync_at,0) FROM manifest WHERE id=1`)
	var m Manifest
	if err := row.Scan(&m.Symbol, &m.Interval, &m.MinTime, &m.MaxTime, &m.Rows, &m.LastSyncAt); err != nil {
		return Manifest{}, err
	}
	m.Path = path
	return m, nil
}

func refreshManifest(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		UPDATE manifest
		SET min_time = (SELECT COALESCE(MIN(open_time), 0) FROM bars),
		    max_time = (SELECT COALESCE(MAX(open_time), 0) FROM bars),
		    rows = (SELECT COUNT(1) FROM bars),
		    last_sync_at = ?
		WHERE id = 1`, time.Now().UnixMilli())
	return err
}

// CachedSource 先查本地缓存，不完整时从远端补齐后再读取缓存。
type CachedSource struct {
	store    *CandleStore
	remote   market.HistoricalSource
	interval time.Duration
}

func NewCachedSource(store *CandleStore, remote market.HistoricalSource, interval time.Duration) (*CachedSource, error) {
	if store == nil {
		return nil, fmt.Errorf("candle store 不能为空")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("cache interval 必须为正")
	}
	return &CachedSource{store: store, remote: remote, interval: interval}, nil
}

func (c *CachedSource) Name() string {
	if c.remote == nil {
		return "cache"
	}
	return "cache+" + c.remote.Name()
}

func (c *CachedSource) intervalKey() string {
	if iv, ok := market.ExchangeInterval(c.interval); ok {
		return iv
	}
	return c.interval.String()
}

func (c *CachedSource) Bars(ctx context.Context, symbol string, start, end time.Time) ([]market.Bar, error) {
	key := c.intervalKey()
	have, err := c.store.Count(ctx, symbol, key, start, end)
	if err != nil {
		return nil, err
	}
	want := market.ExpectedBars(start, end.Add(-time.Nanosecond), c.interval)
	if have < want && c.remote != nil {
		logger.Infof("[store] %s %s 缓存 %d/%d，从 %s 补齐", symbol, key, have, want, c.remote.Name())
		bars, err := c.remote.Bars(ctx, symbol, start, end)
		if err != nil {
			return nil, fmt.Errorf("拉取 %s 失败: %w", symbol, err)
		}
		if _, err := c.store.Put(ctx, symbol, key, bars); err != nil {
			return nil, err
		}
	}
	return c.store.Range(ctx, symbol, key, start, end)
}
