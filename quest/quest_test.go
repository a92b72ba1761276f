package quest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadStaticCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quests.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"id": "q1", "world_id": "w1", "proof_required": true},
		{"id": "q2", "world_id": "w1"}
	]`), 0600))

	catalog, err := LoadStaticCatalog(path)
	require.NoError(t, err)

	q, err := catalog.Quest(context.Background(), "q1")
	require.NoError(t, err)
	assert.Equal(t, "w1", q.WorldID)
	assert.True(t, q.ProofRequired)

	q, err = catalog.Quest(context.Background(), "q2")
	require.NoError(t, err)
	assert.False(t, q.ProofRequired)

	_, err = catalog.Quest(context.Background(), "q3")
	assert.True(t, errors.Is(err, ErrQuestNotFound))
}

func TestLoadStaticCatalogRejectsInvalidQuests(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quests.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id": "q1"}]`), 0600))

	_, err := LoadStaticCatalog(path)
	assert.Error(t, err)

	_, err = LoadStaticCatalog(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestQuestsAreCopies(t *testing.T) {
	catalog := NewStaticCatalog(&Quest{ID: "q1", WorldID: "w1", ProofRequired: true})

	q, err := catalog.Quest(context.Background(), "q1")
	require.NoError(t, err)
	q.WorldID = "mutated"

	q, err = catalog.Quest(context.Background(), "q1")
	require.NoError(t, err)
	assert.Equal(t, "w1", q.WorldID)
}
