package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dunamismax/pixelforge/internal/domain"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var imageColumns = []string{"id", "filename", "object_key", "url", "format", "width", "height", "bytes", "created_at"}

func newMockCatalog(t *testing.T) (*PostgresCatalog, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPostgresCatalogFromDB(db), mock
}

func TestPostgresCatalogEnsureSchema(t *testing.T) {
	catalog, mock := newMockCatalog(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS images")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, catalog.EnsureSchema(context.Background()))
}

func TestPostgresCatalogCreateAndGetImage(t *testing.T) {
	catalog, mock := newMockCatalog(t)
	createdAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	img := domain.Image{
		ID:        "img-1",
		Filename:  "cat.png",
		ObjectKey: "sources/img-1.png",
		URL:       "http://cdn/pixelforge/sources/img-1.png",
		Format:    "png",
		Width:     640,
		Height:    480,
		Bytes:     2048,
		CreatedAt: createdAt,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO images")).
		WithArgs(img.ID, img.Filename, img.ObjectKey, img.URL, img.Format, img.Width, img.Height, img.Bytes, img.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, catalog.CreateImage(context.Background(), img))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, filename, object_key, url, format, width, height, bytes, created_at")).
		WithArgs("img-1").
		WillReturnRows(sqlmock.NewRows(imageColumns).
			AddRow(img.ID, img.Filename, img.ObjectKey, img.URL, img.Format, img.Width, img.Height, img.Bytes, img.CreatedAt))

	got, ok, err := catalog.GetImage(context.Background(), "img-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, img, got)
}

func TestPostgresCatalogGetImageMissing(t *testing.T) {
	catalog, mock := newMockCatalog(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, filename")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(imageColumns))

	_, ok, err := catalog.GetImage(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresCatalogRecordDerivative(t *testing.T) {
	catalog, mock := newMockCatalog(t)
	d := domain.Derivative{
		Fingerprint: "abc123",
		StorageURL:  "http://cdn/pixelforge/derivatives/abc123.jpg",
		Format:      "jpeg",
		Width:       200,
		Height:      100,
		Bytes:       512,
		CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (image_id, fingerprint) DO NOTHING")).
		WithArgs("img-1", d.Fingerprint, d.StorageURL, d.Format, d.Width, d.Height, d.Bytes, d.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, catalog.RecordDerivative(context.Background(), "img-1", d))
}

func TestPostgresCatalogRecordDerivativeUnknownImage(t *testing.T) {
	catalog, mock := newMockCatalog(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO derivatives")).
		WillReturnError(&pq.Error{Code: pqForeignKeyViolation})

	err := catalog.RecordDerivative(context.Background(), "ghost", domain.Derivative{Fingerprint: "fp", CreatedAt: time.Now()})
	assert.ErrorIs(t, err, ErrImageNotFound)
}

func TestPostgresCatalogListDerivatives(t *testing.T) {
	catalog, mock := newMockCatalog(t)
	createdAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM derivatives")).
		WithArgs("img-1").
		WillReturnRows(sqlmock.NewRows([]string{"fingerprint", "storage_url", "format", "width", "height", "bytes", "created_at"}).
			AddRow("fp-a", "http://cdn/a.png", "png", 10, 10, 100, createdAt).
			AddRow("fp-b", "http://cdn/b.gif", "gif", 20, 20, 200, createdAt.Add(time.Minute)))

	list, err := catalog.ListDerivatives(context.Background(), "img-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "fp-a", list[0].Fingerprint)
	assert.Equal(t, "gif", list[1].Format)
	assert.Equal(t, 20, list[1].Width)
}
