package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummaryLoaderBatches(t *testing.T) {
	requireDB(t)

	alice := createTestUser(t, "loader-alice@test.com", "password123")
	bob := createTestUser(t, "loader-bob@test.com", "password123")
	t.Cleanup(func() { cleanupTestData(alice.Email, bob.Email) })

	profile := getDefaultTestProfile()
	profile.DisplayName = "Loader Alice"
	createTestProfile(t, alice, profile)
	// bob has no profile; the summary falls back to the generated name.

	ctx := context.Background()
	loaders := newLoaders(db)

	// Schedule all loads before resolving any thunk so the wait window
	// coalesces them into one query.
	aliceThunk := loaders.Summaries.Load(ctx, alice.ID)
	bobThunk := loaders.Summaries.Load(ctx, bob.ID)
	missingThunk := loaders.Summaries.Load(ctx, -1)

	aliceSummary, err := aliceThunk()
	require.NoError(t, err)
	require.NotNil(t, aliceSummary)
	assert.Equal(t, "Loader Alice", aliceSummary.DisplayName)

	bobSummary, err := bobThunk()
	require.NoError(t, err)
	require.NotNil(t, bobSummary)
	assert.Contains(t, bobSummary.DisplayName, "User ")

	missing, err := missingThunk()
	assert.NoError(t, err)
	assert.Nil(t, missing)
}
