package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/creator-leaderboard/internal/config"
	"github.com/creator-leaderboard/internal/domain"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			platform VARCHAR(16) NOT NULL,
			cadence VARCHAR(10) NOT NULL DEFAULT 'weekly',
			period_anchor DATE NOT NULL,
			raw_items JSONB NOT NULL,
			fetched_at TIMESTAMPTZ NOT NULL,
			limit_size INT NOT NULL DEFAULT 100,
			PRIMARY KEY (platform, period_anchor)
		)`,
		`CREATE TABLE IF NOT EXISTS legacy_cache (
			platform VARCHAR(16) NOT NULL,
			page INT NOT NULL,
			raw_items JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (platform, page)
		)`,
		`CREATE TABLE IF NOT EXISTS new_entrants (
			platform VARCHAR(16) NOT NULL,
			run_at TIMESTAMPTZ NOT NULL,
			profile_id TEXT NOT NULL,
			handle TEXT,
			display_name TEXT NOT NULL DEFAULT '',
			rank INT NOT NULL,
			audience BIGINT NOT NULL DEFAULT 0,
			raw JSONB,
			PRIMARY KEY (platform, run_at, profile_id)
		)`,
		`CREATE TABLE IF NOT EXISTS avatar_cache (
			platform VARCHAR(16) NOT NULL,
			person_id TEXT NOT NULL,
			avatar_url TEXT,
			display_name TEXT,
			username TEXT,
			fetched_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (platform, person_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_platform_anchor ON snapshots(platform, period_anchor DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_new_entrants_platform_run ON new_entrants(platform, run_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// UpsertSnapshot stores a snapshot, overwriting any previous row for the
// same (platform, period_anchor). Re-running a period's refresh is
// idempotent: the last write wins, no duplicates.
func (r *Repository) UpsertSnapshot(ctx context.Context, snap domain.Snapshot) error {
	rawJSON, err := json.Marshal(snap.RawItems)
	if err != nil {
		return fmt.Errorf("marshaling raw items: %w", err)
	}

	query := `
		INSERT INTO snapshots (platform, cadence, period_anchor, raw_items, fetched_at, limit_size)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (platform, period_anchor)
		DO UPDATE SET cadence = $2, raw_items = $4, fetched_at = $5, limit_size = $6
	`
	_, err = r.pool.Exec(ctx, query,
		string(snap.Platform),
		string(snap.Cadence),
		snap.PeriodAnchor,
		rawJSON,
		snap.FetchedAt,
		snap.LimitSize,
	)
	if err != nil {
		return fmt.Errorf("upserting snapshot: %w", err)
	}
	return nil
}

// GetSnapshot retrieves the snapshot for an exact period anchor
func (r *Repository) GetSnapshot(ctx context.Context, platform domain.Platform, anchor time.Time) (*domain.Snapshot, error) {
	query := `
		SELECT platform, cadence, period_anchor, raw_items, fetched_at, limit_size
		FROM snapshots
		WHERE platform = $1 AND period_anchor = $2
	`
	return r.scanSnapshot(r.pool.QueryRow(ctx, query, string(platform), anchor))
}

// GetLatestAtOrBefore retrieves the newest snapshot whose anchor is at or
// before the given anchor. This is the read path's view: last period's
// data is served until the current period refreshes.
func (r *Repository) GetLatestAtOrBefore(ctx context.Context, platform domain.Platform, anchor time.Time) (*domain.Snapshot, error) {
	query := `
		SELECT platform, cadence, period_anchor, raw_items, fetched_at, limit_size
		FROM snapshots
		WHERE platform = $1 AND period_anchor <= $2
		ORDER BY period_anchor DESC
		LIMIT 1
	`
	return r.scanSnapshot(r.pool.QueryRow(ctx, query, string(platform), anchor))
}

// GetLatestBefore retrieves the newest snapshot strictly before the given
// anchor, the diff engine's comparison basis.
func (r *Repository) GetLatestBefore(ctx context.Context, platform domain.Platform, anchor time.Time) (*domain.Snapshot, error) {
	query := `
		SELECT platform, cadence, period_anchor, raw_items, fetched_at, limit_size
		FROM snapshots
		WHERE platform = $1 AND period_anchor < $2
		ORDER BY period_anchor DESC
		LIMIT 1
	`
	return r.scanSnapshot(r.pool.QueryRow(ctx, query, string(platform), anchor))
}

func (r *Repository) scanSnapshot(row pgx.Row) (*domain.Snapshot, error) {
	var (
		snap    domain.Snapshot
		rawJSON []byte
	)
	err := row.Scan(
		&snap.Platform,
		&snap.Cadence,
		&snap.PeriodAnchor,
		&rawJSON,
		&snap.FetchedAt,
		&snap.LimitSize,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNoSnapshot
		}
		return nil, fmt.Errorf("scanning snapshot: %w", err)
	}
	if err := json.Unmarshal(rawJSON, &snap.RawItems); err != nil {
		return nil, fmt.Errorf("unmarshaling raw items: %w", err)
	}
	return &snap, nil
}

// GetLegacyPages retrieves all cached pages for a platform from the old
// page-keyed cache table, ordered by page ascending so callers can merge
// them into one continuous list.
func (r *Repository) GetLegacyPages(ctx context.Context, platform domain.Platform) ([]domain.LegacyPage, error) {
	query := `
		SELECT platform, page, raw_items, updated_at
		FROM legacy_cache
		WHERE platform = $1
		ORDER BY page ASC
	`
	rows, err := r.pool.Query(ctx, query, string(platform))
	if err != nil {
		return nil, fmt.Errorf("getting legacy pages: %w", err)
	}
	defer rows.Close()

	var pages []domain.LegacyPage
	for rows.Next() {
		var (
			page    domain.LegacyPage
			rawJSON []byte
		)
		if err := rows.Scan(&page.Platform, &page.Page, &rawJSON, &page.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning legacy page: %w", err)
		}
		if err := json.Unmarshal(rawJSON, &page.RawItems); err != nil {
			return nil, fmt.Errorf("unmarshaling legacy page: %w", err)
		}
		pages = append(pages, page)
	}
	return pages, rows.Err()
}

// InsertNewEntrants records the diff engine's output for one run. Rows
// are append-only; a replayed run hits the primary key and is ignored.
func (r *Repository) InsertNewEntrants(ctx context.Context, entrants []domain.NewEntrant) error {
	if len(entrants) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO new_entrants (platform, run_at, profile_id, handle, display_name, rank, audience, raw)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (platform, run_at, profile_id) DO NOTHING
	`
	for _, e := range entrants {
		var rawJSON []byte
		if e.Raw != nil {
			var err error
			rawJSON, err = json.Marshal(e.Raw)
			if err != nil {
				return fmt.Errorf("marshaling entrant raw: %w", err)
			}
		}
		batch.Queue(query,
			string(e.Platform), e.RunAt, e.ProfileID,
			e.Handle, e.DisplayName, e.Rank, e.Audience, rawJSON,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range entrants {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("inserting new entrants: %w", err)
		}
	}
	return nil
}

// ListNewEntrants returns the most recent new entrants for a platform
func (r *Repository) ListNewEntrants(ctx context.Context, platform domain.Platform, limit int) ([]domain.NewEntrant, error) {
	query := `
		SELECT platform, run_at, profile_id, handle, display_name, rank, audience, raw
		FROM new_entrants
		WHERE platform = $1
		ORDER BY run_at DESC, rank ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, string(platform), limit)
	if err != nil {
		return nil, fmt.Errorf("listing new entrants: %w", err)
	}
	defer rows.Close()

	var entrants []domain.NewEntrant
	for rows.Next() {
		var (
			e       domain.NewEntrant
			handle  *string
			rawJSON []byte
		)
		if err := rows.Scan(&e.Platform, &e.RunAt, &e.ProfileID, &handle, &e.DisplayName, &e.Rank, &e.Audience, &rawJSON); err != nil {
			return nil, fmt.Errorf("scanning new entrant: %w", err)
		}
		if handle != nil {
			e.Handle = *handle
		}
		if len(rawJSON) > 0 {
			if err := json.Unmarshal(rawJSON, &e.Raw); err != nil {
				return nil, fmt.Errorf("unmarshaling entrant raw: %w", err)
			}
		}
		entrants = append(entrants, e)
	}
	return entrants, rows.Err()
}

// GetAvatar retrieves a cached avatar entry, or ErrAvatarNotCached
func (r *Repository) GetAvatar(ctx context.Context, platform domain.Platform, personID string) (*domain.AvatarCacheEntry, error) {
	query := `
		SELECT platform, person_id, avatar_url, display_name, username, fetched_at
		FROM avatar_cache
		WHERE platform = $1 AND person_id = $2
	`
	var (
		entry       domain.AvatarCacheEntry
		avatarURL   *string
		displayName *string
		username    *string
	)
	err := r.pool.QueryRow(ctx, query, string(platform), personID).Scan(
		&entry.Platform,
		&entry.PersonID,
		&avatarURL,
		&displayName,
		&username,
		&entry.FetchedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAvatarNotCached
		}
		return nil, fmt.Errorf("getting avatar: %w", err)
	}
	if avatarURL != nil {
		entry.AvatarURL = *avatarURL
	}
	if displayName != nil {
		entry.DisplayName = *displayName
	}
	if username != nil {
		entry.Username = *username
	}
	return &entry, nil
}

// UpsertAvatar stores an avatar cache entry. Misses are written too, with
// an empty URL, so repeated failing lookups stay cheap.
func (r *Repository) UpsertAvatar(ctx context.Context, entry domain.AvatarCacheEntry) error {
	query := `
		INSERT INTO avatar_cache (platform, person_id, avatar_url, display_name, username, fetched_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6)
		ON CONFLICT (platform, person_id)
		DO UPDATE SET avatar_url = NULLIF($3, ''), display_name = NULLIF($4, ''), username = NULLIF($5, ''), fetched_at = $6
	`
	_, err := r.pool.Exec(ctx, query,
		string(entry.Platform),
		entry.PersonID,
		entry.AvatarURL,
		entry.DisplayName,
		entry.Username,
		entry.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting avatar: %w", err)
	}
	return nil
}
