package contentengine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge/content-engine/pkg/contentengine"
)

func TestCursorRoundTrip(t *testing.T) {
	key := map[string]interface{}{"pk": "PRODUCT#abc", "sk": "META"}

	cursor := contentengine.EncodeCursor(key)
	require.NotEmpty(t, cursor)

	decoded := contentengine.DecodeCursor(cursor)
	assert.Equal(t, key, decoded)
}

func TestCursorEmptyKey(t *testing.T) {
	assert.Empty(t, contentengine.EncodeCursor(nil))
	assert.Empty(t, contentengine.EncodeCursor(map[string]interface{}{}))
}

func TestCursorCorruptTokensAreSwallowed(t *testing.T) {
	assert.Nil(t, contentengine.DecodeCursor(""))
	assert.Nil(t, contentengine.DecodeCursor("not base64 ***"))
	// Valid base64 but not JSON.
	assert.Nil(t, contentengine.DecodeCursor("bm90IGpzb24="))
}
