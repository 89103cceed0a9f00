package database

import (
	"io"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/require"
)

func TestMigrationsEmbedded(t *testing.T) {
	src, err := iofs.New(migrationsFS, "migrations")
	require.NoError(t, err)
	defer src.Close()

	first, err := src.First()
	require.NoError(t, err)
	require.EqualValues(t, 1, first)

	next, err := src.Next(first)
	require.NoError(t, err)
	require.EqualValues(t, 2, next)

	r, _, err := src.ReadUp(first)
	require.NoError(t, err)
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	r.Close()

	schema := string(body)
	for _, idx := range []string{"ux_history_open_principal", "ux_history_open_teacher", "ux_assignment_live_subject_year"} {
		require.True(t, strings.Contains(schema, idx), "缺少索引 %s", idx)
	}

	r, _, err = src.ReadDown(next)
	require.NoError(t, err)
	body, err = io.ReadAll(r)
	require.NoError(t, err)
	r.Close()
	require.Contains(t, string(body), "mv_assignments")
}
