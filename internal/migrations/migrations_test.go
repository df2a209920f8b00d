package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsHaveUpAndDown(t *testing.T) {
	entries, err := fs.ReadDir(files, dir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	for _, entry := range entries {
		body, err := fs.ReadFile(files, dir+"/"+entry.Name())
		require.NoError(t, err)
		assert.Contains(t, string(body), "-- +goose Up", entry.Name())
		assert.Contains(t, string(body), "-- +goose Down", entry.Name())
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	err := Run("up", "")
	require.Error(t, err)

	err = Run("drop-everything", "postgres://localhost/reports")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unsupported"))
}
