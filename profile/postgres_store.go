package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/Dexhub/planted-dating-app/core"
)

// PostgresOptions 是 PostgresStore 的配置。
type PostgresOptions struct {
	DSN            string
	MaxOpenConns   int           // 连接池上限，默认 20
	MaxIdleConns   int           // 空闲连接数，默认 1
	AcquireTimeout time.Duration // 单次调用（含等待连接）的超时，默认 200ms
	ActiveWindow   time.Duration // 活跃用户窗口，默认 7 天

	ProfileTable     string // 默认 user_profiles
	InteractionTable string // 默认 user_interactions
}

func (o *PostgresOptions) withDefaults() {
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = 20
	}
	if o.MaxIdleConns < 0 {
		o.MaxIdleConns = 0
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = 200 * time.Millisecond
	}
	if o.ActiveWindow <= 0 {
		o.ActiveWindow = 7 * 24 * time.Hour
	}
	if o.ProfileTable == "" {
		o.ProfileTable = "user_profiles"
	}
	if o.InteractionTable == "" {
		o.InteractionTable = "user_interactions"
	}
}

// PostgresStore 是基于 PostgreSQL 的 Profile Store。
//
// 每次调用都在 AcquireTimeout 内完成（包括等待连接池），
// 连接池耗尽表现为超时错误，由 Resolver 降级为 "画像不可用"。
type PostgresStore struct {
	db   *sql.DB
	opts PostgresOptions
	now  func() time.Time

	profileQuery string
	activeQuery  string
	insertQuery  string
}

// NewPostgresStore 打开连接池并 Ping 一次。
func NewPostgresStore(ctx context.Context, opts PostgresOptions) (*PostgresStore, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("postgres: dsn is required")
	}
	db, err := sql.Open("postgres", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	s := NewPostgresStoreFromDB(db, opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return s, nil
}

// NewPostgresStoreFromDB 基于已有的 *sql.DB 创建存储，并按 opts 设置连接池大小。
func NewPostgresStoreFromDB(db *sql.DB, opts PostgresOptions) *PostgresStore {
	opts.withDefaults()
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)

	profiles := pq.QuoteIdentifier(opts.ProfileTable)
	interactions := pq.QuoteIdentifier(opts.InteractionTable)
	return &PostgresStore{
		db:   db,
		opts: opts,
		now:  time.Now,
		profileQuery: "SELECT user_id, " + strings.Join(core.ProfileSchema(), ", ") +
			", last_active FROM " + profiles + " WHERE user_id = $1",
		activeQuery: "SELECT user_id FROM " + profiles +
			" WHERE last_active > $1 ORDER BY last_active DESC, user_id ASC LIMIT $2",
		insertQuery: "INSERT INTO " + interactions +
			" (user_id, target_user_id, interaction_type, compatibility_score, timestamp) VALUES ($1, $2, $3, $4, $5)",
	}
}

func (s *PostgresStore) Name() string { return "postgres" }

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (*core.UserProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.AcquireTimeout)
	defer cancel()

	schema := core.ProfileSchema()
	var (
		id         string
		values     = make([]sql.NullFloat64, len(schema))
		lastActive sql.NullTime
	)
	dest := make([]any, 0, len(schema)+2)
	dest = append(dest, &id)
	for i := range values {
		dest = append(dest, &values[i])
	}
	dest = append(dest, &lastActive)

	err := s.db.QueryRowContext(ctx, s.profileQuery, userID).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get profile %s: %w", userID, err)
	}

	// NULL 列不写入，由 NormalizeProfile 补默认值
	p := &core.UserProfile{UserID: id, Attributes: make(map[string]float64, len(schema))}
	for i, name := range schema {
		if values[i].Valid {
			p.Attributes[name] = values[i].Float64
		}
	}
	if lastActive.Valid {
		p.UpdatedAt = lastActive.Time
	}
	return core.NormalizeProfile(p), nil
}

// GetActiveUsers 返回活跃窗口内的用户，按 last_active 降序。
func (s *PostgresStore) GetActiveUsers(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.AcquireTimeout)
	defer cancel()

	since := s.now().Add(-s.opts.ActiveWindow)
	rows, err := s.db.QueryContext(ctx, s.activeQuery, since, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: active users: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan active user: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: active users: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) RecordInteraction(ctx context.Context, in core.Interaction) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.AcquireTimeout)
	defer cancel()

	at := in.At
	if at.IsZero() {
		at = s.now()
	}
	if _, err := s.db.ExecContext(ctx, s.insertQuery, in.UserID, in.TargetID, in.Type, in.Score, at); err != nil {
		return fmt.Errorf("postgres: record interaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

var _ core.ProfileStore = (*PostgresStore)(nil)
