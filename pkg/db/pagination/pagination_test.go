package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	token, err := EncodeCursor(Cursor{ID: "abc", CreatedAt: "2026-03-14T10:00:00Z"})
	require.NoError(t, err)

	cursor, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, "abc", cursor.ID)
	assert.Equal(t, "2026-03-14T10:00:00Z", cursor.CreatedAt)

	_, err = DecodeCursor("%%%")
	assert.Error(t, err)
}

func TestBuildCursorPageInfo(t *testing.T) {
	a, b, c := "a", "b", "c"
	info := BuildCursorPageInfo([]*string{&a, &b, &c}, 2, func(s *string) string { return *s })
	assert.True(t, info.HasMore)
	assert.Equal(t, "b", info.NextPageToken)

	info = BuildCursorPageInfo([]*string{&a}, 2, func(s *string) string { return *s })
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}
