package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "region_profiles",
		Columns:      []string{"region_id", "region_code"},
		ConflictKeys: []string{"region_id"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "region_profiles",
		ConflictKeys: []string{"region_id"},
	}, [][]any{{"r1", "UAE"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:   "region_profiles",
		Columns: []string{"region_id", "region_code"},
	}, [][]any{{"r1", "UAE"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_region_profiles"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_region_profiles"}, []string{"region_id", "region_code"}).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "region_profiles"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "region_profiles",
		Columns:      []string{"region_id", "region_code"},
		ConflictKeys: []string{"region_id"},
	}, [][]any{{"r1", "UAE"}, {"r2", "US"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_region_profiles"}, []string{"region_id"}).
		WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "region_profiles",
		Columns:      []string{"region_id"},
		ConflictKeys: []string{"region_id"},
	}, [][]any{{"r1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table for region_profiles")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSQL(t *testing.T) {
	sql := upsertSQL(UpsertConfig{
		Table:        "territory_definitions",
		Columns:      []string{"territory_id", "territory_code", "territory_name"},
		ConflictKeys: []string{"territory_id"},
	}, "tmp")
	assert.Equal(t,
		`INSERT INTO "territory_definitions" ("territory_id", "territory_code", "territory_name") SELECT "territory_id", "territory_code", "territory_name" FROM "tmp" ON CONFLICT ("territory_id") DO UPDATE SET "territory_code" = EXCLUDED."territory_code", "territory_name" = EXCLUDED."territory_name"`,
		sql)

	keysOnly := upsertSQL(UpsertConfig{
		Table:        "t",
		Columns:      []string{"id"},
		ConflictKeys: []string{"id"},
	}, "tmp")
	assert.Contains(t, keysOnly, "DO NOTHING")
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"public.region_profiles", `"public"."region_profiles"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "name", "value"`, quoteAndJoin([]string{"id", "name", "value"}))
}
