package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dunamismax/pixelforge/internal/domain"
	"github.com/lib/pq"
)

const catalogSchemaSQL = `
CREATE TABLE IF NOT EXISTS images (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL DEFAULT '',
	object_key TEXT NOT NULL,
	url TEXT NOT NULL,
	format TEXT NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	bytes INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS derivatives (
	image_id TEXT NOT NULL REFERENCES images(id) ON DELETE CASCADE,
	fingerprint TEXT NOT NULL,
	storage_url TEXT NOT NULL,
	format TEXT NOT NULL,
	width INTEGER NOT NULL DEFAULT 0,
	height INTEGER NOT NULL DEFAULT 0,
	bytes INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (image_id, fingerprint)
);
`

// foreign_key_violation
const pqForeignKeyViolation = "23503"

type PostgresCatalog struct {
	db *sql.DB
}

func NewPostgresCatalog(ctx context.Context, dsn string) (*PostgresCatalog, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := NewPostgresCatalogFromDB(db)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func NewPostgresCatalogFromDB(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (s *PostgresCatalog) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, catalogSchemaSQL); err != nil {
		return fmt.Errorf("ensure catalog schema: %w", err)
	}
	return nil
}

func (s *PostgresCatalog) Close() error {
	return s.db.Close()
}

func (s *PostgresCatalog) CreateImage(ctx context.Context, img domain.Image) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO images (id, filename, object_key, url, format, width, height, bytes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		img.ID,
		img.Filename,
		img.ObjectKey,
		img.URL,
		img.Format,
		img.Width,
		img.Height,
		img.Bytes,
		img.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert image: %w", err)
	}
	return nil
}

func (s *PostgresCatalog) GetImage(ctx context.Context, id string) (domain.Image, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, filename, object_key, url, format, width, height, bytes, created_at
		 FROM images
		 WHERE id = $1`,
		id,
	)

	var img domain.Image
	if err := row.Scan(
		&img.ID,
		&img.Filename,
		&img.ObjectKey,
		&img.URL,
		&img.Format,
		&img.Width,
		&img.Height,
		&img.Bytes,
		&img.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Image{}, false, nil
		}
		return domain.Image{}, false, fmt.Errorf("query image: %w", err)
	}
	return img, true, nil
}

func (s *PostgresCatalog) RecordDerivative(ctx context.Context, imageID string, d domain.Derivative) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO derivatives (image_id, fingerprint, storage_url, format, width, height, bytes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (image_id, fingerprint) DO NOTHING`,
		imageID,
		d.Fingerprint,
		d.StorageURL,
		d.Format,
		d.Width,
		d.Height,
		d.Bytes,
		d.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation {
			return ErrImageNotFound
		}
		return fmt.Errorf("insert derivative: %w", err)
	}
	return nil
}

func (s *PostgresCatalog) ListDerivatives(ctx context.Context, imageID string) ([]domain.Derivative, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT fingerprint, storage_url, format, width, height, bytes, created_at
		 FROM derivatives
		 WHERE image_id = $1
		 ORDER BY created_at, fingerprint`,
		imageID,
	)
	if err != nil {
		return nil, fmt.Errorf("query derivatives: %w", err)
	}
	defer rows.Close()

	var out []domain.Derivative
	for rows.Next() {
		var d domain.Derivative
		if err := rows.Scan(&d.Fingerprint, &d.StorageURL, &d.Format, &d.Width, &d.Height, &d.Bytes, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan derivative: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate derivatives: %w", err)
	}
	return out, nil
}
