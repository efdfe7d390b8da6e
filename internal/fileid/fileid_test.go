package fileid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDs(t *testing.T) {
	rec := NewRecordID()
	tr := NewTransferID()

	assert.True(t, strings.HasPrefix(rec, "cf_"))
	assert.True(t, strings.HasPrefix(tr, "tr_"))
	assert.True(t, IsRecordID(rec))
	assert.True(t, IsTransferID(tr))
	assert.False(t, IsRecordID(tr))
	assert.False(t, IsTransferID(rec))
	assert.Equal(t, strings.ToLower(rec), rec)
}

func TestIDsAreUniqueAndOrdered(t *testing.T) {
	prev := NewObjectName()
	seen := map[string]bool{prev: true}
	for i := 0; i < 1000; i++ {
		id := NewObjectName()
		require.False(t, seen[id])
		assert.Greater(t, id, prev)
		seen[id] = true
		prev = id
	}
}

func TestIsValidRejects(t *testing.T) {
	for _, v := range []string{"", "cf_", "cf_not-a-ulid", "01hzy3d3v9m0q4w4x6g1d7x3qk", "tr_01hzy3d3v9m0q4w4x6g1d7x3qk"} {
		assert.False(t, IsRecordID(v), v)
	}
}
