package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datachat/internal/models"
)

// RunStoreContract exercises the Store behavior every backend must share.
func RunStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	_, err := store.Load(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	st := New("contract-1", base)
	st.ShowSummary = true
	st.Transcript.Append(models.Entry{Role: models.RoleUser, Content: "What is the average charge?", CreatedAt: base})
	st.Transcript.Append(models.Entry{Role: models.RoleAssistant, Content: "About 13270.", CreatedAt: base})
	require.NoError(t, store.Save(ctx, st))

	got, err := store.Load(ctx, "contract-1")
	require.NoError(t, err)
	assert.Equal(t, st.ID, got.ID)
	assert.True(t, got.ShowSummary)
	assert.False(t, got.ShowCorrelations)
	require.Equal(t, 2, got.Transcript.Len())
	assert.Equal(t, "About 13270.", got.Transcript.All()[1].Content)
	assert.True(t, st.UpdatedAt.Equal(got.UpdatedAt))

	// overwrite
	got.ShowCorrelations = true
	require.NoError(t, store.Save(ctx, got))
	again, err := store.Load(ctx, "contract-1")
	require.NoError(t, err)
	assert.True(t, again.ShowCorrelations)

	stale := New("contract-old", base.Add(-5*time.Hour))
	require.NoError(t, store.Save(ctx, stale))
	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"contract-1", "contract-old"}, ids)

	n, err := store.DeleteIdle(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = store.Load(ctx, "contract-old")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Delete(ctx, "contract-1"))
	_, err = store.Load(ctx, "contract-1")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, store.Delete(ctx, "contract-1"), "deleting twice is fine")
}
