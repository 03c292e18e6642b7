package utils_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mabletask/agent/utils"
)

func TestPageTokens_RoundTrip(t *testing.T) {
	now := time.Now()
	tokens := utils.NewPageTokens("secret", time.Hour, func() time.Time { return now })

	signed, err := tokens.Generate("page-1", "org-1")
	require.NoError(t, err)

	claims, err := tokens.Validate(signed)
	require.NoError(t, err)
	assert.Equal(t, "page-1", claims.PageID)
	assert.Equal(t, "org-1", claims.OrgID)
}

func TestPageTokens_RejectsExpiredAndForeign(t *testing.T) {
	now := time.Now()
	tokens := utils.NewPageTokens("secret", time.Minute, func() time.Time { return now })
	signed, err := tokens.Generate("page-1", "org-1")
	require.NoError(t, err)

	later := utils.NewPageTokens("secret", time.Minute, func() time.Time { return now.Add(2 * time.Minute) })
	_, err = later.Validate(signed)
	assert.ErrorIs(t, err, utils.ErrInvalidPageToken)

	foreign := utils.NewPageTokens("other", time.Minute, func() time.Time { return now })
	_, err = foreign.Validate(signed)
	assert.ErrorIs(t, err, utils.ErrInvalidPageToken)
}

func TestIsValidInterval(t *testing.T) {
	assert.True(t, utils.IsValidInterval("Hour"))
	assert.False(t, utils.IsValidInterval("hour"))
	assert.False(t, utils.IsValidInterval("Hour; DROP TABLE"))
}

func TestNewID_Unique(t *testing.T) {
	assert.NotEqual(t, utils.NewID(), utils.NewID())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", utils.Truncate("abcdef", 3))
	assert.Equal(t, "ab", utils.Truncate("ab", 3))
	assert.Equal(t, "héé", utils.Truncate("hééllo", 3))
	assert.Empty(t, utils.Truncate("abc", 0))
}
