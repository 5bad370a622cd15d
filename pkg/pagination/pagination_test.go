package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTripIsURLSafe(t *testing.T) {
	c := Cursor{CreatedAt: time.Date(2026, 10, 19, 8, 30, 0, 123456789, time.UTC), ID: uuid.New()}
	token := EncodeCursor(c)
	assert.NotContains(t, token, "+")
	assert.NotContains(t, token, "/")
	assert.NotContains(t, token, "=")

	parsed, err := ParseCursor(token)
	require.NoError(t, err)
	assert.True(t, parsed.CreatedAt.Equal(c.CreatedAt))
	assert.Equal(t, c.ID, parsed.ID)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	parsed, err := ParseCursor("  ")
	require.NoError(t, err)
	assert.Nil(t, parsed)

	for _, token := range []string{"***", "bm8tc2VwYXJhdG9y", EncodeCursor(Cursor{})[:4]} {
		_, err := ParseCursor(token)
		assert.ErrorIs(t, err, errMalformedCursor, token)
	}
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+50))
	assert.Equal(t, 7, NormalizeLimit(7))
	assert.Equal(t, 8, LimitWithBuffer(7))
}

func TestTrim(t *testing.T) {
	base := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	position := func(id uuid.UUID) Cursor { return Cursor{CreatedAt: base, ID: id} }

	page, next := Trim(ids, 2, position)
	assert.Equal(t, ids[:2], page)
	parsed, err := ParseCursor(next)
	require.NoError(t, err)
	assert.Equal(t, ids[1], parsed.ID)

	page, next = Trim(ids, 3, position)
	assert.Len(t, page, 3)
	assert.Empty(t, next)
}
