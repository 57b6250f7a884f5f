package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitions(t *testing.T) {
	assert.True(t, CanTransition(StatusDraft, StatusManifestLoaded))
	assert.True(t, CanTransition(StatusManifestLoaded, StatusStoreCountsCalculated))
	assert.True(t, CanTransition(StatusStoreCountsCalculated, StatusStoreCountsCalculated))
	assert.True(t, CanTransition(StatusStoreCountsCalculated, StatusDistributed))

	assert.False(t, CanTransition(StatusDraft, StatusDistributed))
	assert.False(t, CanTransition(StatusManifestLoaded, StatusDistributed))
	assert.True(t, CanTransition(StatusStoreCountsCalculated, StatusManifestLoaded))
	assert.False(t, CanTransition(StatusManifestLoaded, StatusDraft))
	assert.False(t, CanTransition(StatusDistributed, StatusManifestLoaded))
	assert.False(t, CanTransition(StatusDistributed, StatusDistributed))
}

func TestDistributedRequiresCalculatedPath(t *testing.T) {
	for _, from := range []Status{StatusDraft, StatusManifestLoaded, StatusDistributed, StatusError} {
		assert.False(t, CanTransition(from, StatusDistributed), "from %s", from)
	}
}

func TestValidateTransitionErrors(t *testing.T) {
	require.ErrorIs(t, ValidateTransition(StatusDraft, StatusStoreCountsCalculated), ErrInvalidTransition)
	require.ErrorIs(t, ValidateTransition(StatusDistributed, StatusDistributed), ErrRunDistributed)
	require.NoError(t, ValidateTransition(StatusManifestLoaded, StatusError))
}

func TestParseStatus(t *testing.T) {
	got, err := ParseStatus(" Manifest-Loaded ")
	require.NoError(t, err)
	assert.Equal(t, StatusManifestLoaded, got)

	_, err = ParseStatus("pending")
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestCanDelete(t *testing.T) {
	assert.True(t, CanDelete(StatusDraft))
	assert.True(t, CanDelete(StatusError))
	assert.False(t, CanDelete(StatusDistributed))
}
