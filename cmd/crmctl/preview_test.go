package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/smsleopard-segments/internal/audience"
	appErrors "github.com/unclebandit/smsleopard-segments/internal/errors"
	"github.com/unclebandit/smsleopard-segments/internal/model"
	"github.com/unclebandit/smsleopard-segments/internal/repository"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func resolver() *audience.Resolver {
	now := time.Now()
	store := repository.NewMemoryStore(
		model.Customer{ID: 1, Name: "Wanjiru", Email: "w@example.com", Spend: 25000, VisitCount: 8, LastActivityAt: now.AddDate(0, 0, -2)},
		model.Customer{ID: 2, Name: "Otieno", Phone: "+254711000000", Spend: 900, VisitCount: 1, LastActivityAt: now.AddDate(0, 0, -300)},
	)
	return audience.NewResolver(store.Customers())
}

func TestRunPreviewYAML(t *testing.T) {
	path := writeFile(t, "rule.yaml", `
operator: OR
conditions:
  - field: spend
    operator: gt
    value: 10000
  - field: recency
    operator: before
    value: 180
`)
	var out bytes.Buffer
	require.NoError(t, runPreview(context.Background(), &out, path, resolver()))

	assert.Contains(t, out.String(), "Rule: (spend > 10000 OR recency before 180d)")
	assert.Contains(t, out.String(), "Audience size: 2")
	assert.Contains(t, out.String(), "#2 Otieno <+254711000000>")
}

func TestRunPreviewJSON(t *testing.T) {
	path := writeFile(t, "rule.json", `{"visits": {"operator": "eq", "value": 8}}`)

	var out bytes.Buffer
	require.NoError(t, runPreview(context.Background(), &out, path, resolver()))
	assert.Contains(t, out.String(), "Audience size: 1")
	assert.Contains(t, out.String(), "#1 Wanjiru")
}

func TestRunPreviewRejectsNonObjectRule(t *testing.T) {
	path := writeFile(t, "rule.json", `[1, 2, 3]`)

	err := runPreview(context.Background(), &bytes.Buffer{}, path, resolver())
	assert.True(t, errors.Is(err, appErrors.ErrInvalidRule))
}

func TestSeedFilesSorted(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"02_campaigns.sql", "01_customers.sql", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}

	files, err := seedFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "01_customers.sql"), filepath.Join(dir, "02_campaigns.sql")}, files)

	_, err = seedFiles(t.TempDir())
	assert.Error(t, err)
}
