package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in   string
		want Category
	}{
		{"X-RAY", CategoryXRay},
		{"lab", CategoryLab},
		{" Photo ", CategoryPhoto},
		{"3d-model", Category3DModel},
		{"OTHER", CategoryOther},
	}
	for _, tc := range tests {
		got, err := ParseCategory(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestParseCategory_Rejects(t *testing.T) {
	for _, in := range []string{"", "XRAY", "MRI", "lab report"} {
		_, err := ParseCategory(in)
		assert.ErrorIs(t, err, ErrInvalidCategory, in)
	}
}

func TestCategory_ValidAndSlug(t *testing.T) {
	assert.True(t, CategoryXRay.Valid())
	assert.False(t, Category("lab").Valid())
	assert.False(t, Category("SCAN").Valid())
	assert.Equal(t, "3d-model", Category3DModel.Slug())
}

func TestSameEncounter(t *testing.T) {
	a, b := "enc-1", "enc-1"
	c := "enc-2"
	assert.True(t, SameEncounter(nil, nil))
	assert.True(t, SameEncounter(&a, &b))
	assert.False(t, SameEncounter(&a, &c))
	assert.False(t, SameEncounter(&a, nil))
	assert.False(t, SameEncounter(nil, &c))
}
