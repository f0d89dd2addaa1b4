package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esnunes/prospector/internal/db"
	"github.com/esnunes/prospector/internal/models"
	"github.com/esnunes/prospector/internal/tile"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestImportCompanies(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "prospector.db")
	t.Setenv("PROSPECTOR_DB", dbPath)
	t.Setenv("PROSPECTOR_LOG_LEVEL", "error")

	csvPath := filepath.Join(dir, "companies.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("Company Name,Industry\nAcme Corp,Manufacturing\nGlobex,Energy\n"), 0o644))

	out, err := execute(t, "--config", filepath.Join(dir, "missing.yaml"), "import", "companies", csvPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 2 companies")

	database, err := db.Open(dbPath)
	require.NoError(t, err)
	defer database.Close()
	companies, err := db.NewQueries(database).ListCompanies(context.Background())
	require.NoError(t, err)
	assert.Len(t, companies, 2)
}

func TestImportTilesNeedsBoard(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PROSPECTOR_DB", filepath.Join(dir, "prospector.db"))
	t.Setenv("PROSPECTOR_LOG_LEVEL", "error")

	csvPath := filepath.Join(dir, "tiles.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("Revenue,What is their revenue model?\n"), 0o644))

	_, err := execute(t, "--config", filepath.Join(dir, "missing.yaml"), "import", "tiles", "nope", csvPath)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestAskRequiresTileForRefine(t *testing.T) {
	_, err := execute(t, "ask", "--company", "Acme", "--refine", "shorter")
	assert.EqualError(t, err, "--refine needs --tile")
}

func TestFindCompany(t *testing.T) {
	companies := []models.Company{{ID: "c1", Name: "Acme Corp"}, {ID: "c2", Name: "Globex"}}

	c, ok := findCompany(companies, "acme corp")
	assert.True(t, ok)
	assert.Equal(t, "c1", c.ID)

	c, ok = findCompany(companies, "c2")
	assert.True(t, ok)
	assert.Equal(t, "Globex", c.Name)

	_, ok = findCompany(companies, "Initech")
	assert.False(t, ok)
}

func TestPrintBoardSkipsNotes(t *testing.T) {
	board := tile.NewBoard([]models.Tile{
		{ID: "a", Title: "Revenue", Order: 0, Status: models.StatusCompleted, LastAnswer: "Subscriptions.", LastRunContextVersion: 2},
		{ID: "b", Title: "# Notes", Order: 1},
		{ID: "c", Title: "Churn", Order: 2, Status: models.StatusCompleted, LastAnswer: "Low.", LastRunContextVersion: 1},
	})
	var out bytes.Buffer
	printBoard(&out, board, 2)

	assert.Equal(t, "## Revenue [completed]\nSubscriptions.\n\n## Churn [completed]\nLow.\n(stale)\n\n", out.String())
}
