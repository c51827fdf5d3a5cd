package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"visitortracker/internal/model"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS visitors (
    id           BIGSERIAL PRIMARY KEY,
    ip_address   VARCHAR(45)  NOT NULL UNIQUE,
    country      VARCHAR(100) NOT NULL DEFAULT '',
    country_code VARCHAR(10)  NOT NULL DEFAULT '',
    region       VARCHAR(100) NOT NULL DEFAULT '',
    city         VARCHAR(100) NOT NULL DEFAULT '',
    latitude     DOUBLE PRECISION,
    longitude    DOUBLE PRECISION,
    user_agent   TEXT         NOT NULL DEFAULT '',
    visit_count  BIGINT       NOT NULL DEFAULT 1 CHECK (visit_count >= 1),
    first_visit  TIMESTAMPTZ  NOT NULL,
    last_visit   TIMESTAMPTZ  NOT NULL,
    CHECK (last_visit >= first_visit),
    CHECK ((latitude IS NULL) = (longitude IS NULL))
);

CREATE INDEX IF NOT EXISTS visitors_coordinates_idx
    ON visitors (latitude, longitude)
    WHERE latitude IS NOT NULL;

CREATE TABLE IF NOT EXISTS site_settings (
    id                 BIGINT PRIMARY KEY CHECK (id = 1),
    tracking_enabled   BOOLEAN      NOT NULL DEFAULT TRUE,
    public_ip_fallback BOOLEAN      NOT NULL DEFAULT TRUE,
    updated_at         TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const visitorColumns = `id, ip_address, country, country_code, region, city,
        latitude, longitude, user_agent, visit_count, first_visit, last_visit`

type PostgresRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewPostgresRepository(db *sqlx.DB, logger *zap.Logger) *PostgresRepository {
	return &PostgresRepository{
		db:     db,
		logger: logger,
	}
}

func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetVisitor(ctx context.Context, ip string) (*model.Visitor, error) {
	query := `SELECT ` + visitorColumns + ` FROM visitors WHERE ip_address = $1`

	var visitor model.Visitor
	err := r.db.GetContext(ctx, &visitor, query, ip)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrVisitorNotFound
		}
		r.logger.Error("failed to get visitor",
			zap.String("ip", ip),
			zap.Error(err))
		return nil, err
	}

	return &visitor, nil
}

// CreateVisitor inserts a new row. It returns model.ErrVisitorExists when
// another writer already holds the IP.
func (r *PostgresRepository) CreateVisitor(ctx context.Context, v *model.Visitor) error {
	query := `
        INSERT INTO visitors (ip_address, country, country_code, region, city,
            latitude, longitude, user_agent, visit_count, first_visit, last_visit)
        VALUES (:ip_address, :country, :country_code, :region, :city,
            :latitude, :longitude, :user_agent, :visit_count, :first_visit, :last_visit)
        RETURNING id
    `

	bound, args, err := r.db.BindNamed(query, v)
	if err != nil {
		return fmt.Errorf("binding visitor insert: %w", err)
	}

	if err := r.db.GetContext(ctx, &v.ID, bound, args...); err != nil {
		if isUniqueViolation(err) {
			return model.ErrVisitorExists
		}
		r.logger.Error("failed to create visitor",
			zap.String("ip", v.IPAddress),
			zap.Error(err))
		return err
	}

	return nil
}

// RecordRevisit bumps the counter in a single statement so concurrent
// revisits never lose an increment.
func (r *PostgresRepository) RecordRevisit(ctx context.Context, ip, userAgent string, at time.Time) (*model.Visitor, error) {
	query := `
        UPDATE visitors
        SET visit_count = visit_count + 1,
            last_visit = GREATEST(last_visit, $2),
            user_agent = $3
        WHERE ip_address = $1
        RETURNING ` + visitorColumns

	var visitor model.Visitor
	err := r.db.GetContext(ctx, &visitor, query, ip, at, userAgent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrVisitorNotFound
		}
		r.logger.Error("failed to update visitor",
			zap.String("ip", ip),
			zap.Error(err))
		return nil, err
	}

	return &visitor, nil
}

func (r *PostgresRepository) ListLocatedVisitors(ctx context.Context) ([]model.Visitor, error) {
	query := `SELECT ` + visitorColumns + `
        FROM visitors
        WHERE latitude IS NOT NULL AND longitude IS NOT NULL
        ORDER BY latitude, longitude, ip_address`

	var visitors []model.Visitor
	if err := r.db.SelectContext(ctx, &visitors, query); err != nil {
		return nil, err
	}
	return visitors, nil
}

func (r *PostgresRepository) CountVisitors(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, "SELECT count(*) FROM visitors")
	return count, err
}

// LoadOrCreateSiteSettings returns the settings row, inserting the defaults
// on first use.
func (r *PostgresRepository) LoadOrCreateSiteSettings(ctx context.Context) (*model.SiteSettings, error) {
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO site_settings (id) VALUES (1) ON CONFLICT (id) DO NOTHING`); err != nil {
		return nil, fmt.Errorf("creating default site settings: %w", err)
	}

	var settings model.SiteSettings
	err := r.db.GetContext(ctx, &settings, `
        SELECT id, tracking_enabled, public_ip_fallback, updated_at
        FROM site_settings
        WHERE id = 1
    `)
	if err != nil {
		return nil, fmt.Errorf("loading site settings: %w", err)
	}

	return &settings, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
