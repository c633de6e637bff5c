package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSchema(t *testing.T) {
	schema, err := sanitizeSchema(" defender_report ")
	require.NoError(t, err)
	assert.Equal(t, "defender_report", schema)

	for _, bad := range []string{"", "1abc", "public; DROP TABLE x", "a-b"} {
		_, err := sanitizeSchema(bad)
		assert.Error(t, err, bad)
	}
}

func TestDBURLFromEnv(t *testing.T) {
	t.Setenv("DEFENDER_REPORT_DB_URL", "")
	t.Setenv("DATABASE_URL", " postgres://fallback ")
	assert.Equal(t, "postgres://fallback", dbURLFromEnv())

	t.Setenv("DEFENDER_REPORT_DB_URL", "postgres://primary")
	assert.Equal(t, "postgres://primary", dbURLFromEnv())
}

func TestStoreReportRequiresURL(t *testing.T) {
	_, err := storeReportInDB(context.Background(), Report{}, DBConfig{Schema: defaultDBSchema})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL missing")

	_, err = storeReportInDB(context.Background(), Report{}, DBConfig{URL: "postgres://x", Schema: "bad schema"})
	require.Error(t, err)

	err = initDatabase(context.Background(), DBConfig{Schema: defaultDBSchema})
	require.Error(t, err)
}

func TestNullString(t *testing.T) {
	assert.False(t, nullString("  ").Valid)
	value := nullString("weekly")
	assert.True(t, value.Valid)
	assert.Equal(t, "weekly", value.String)
}
