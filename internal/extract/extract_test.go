package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariables(t *testing.T) {
	body := `{"op":"welcome","data":{"token":"abc","seat":12,"vip":true,"tags":["a","b"]}}`

	got, err := Variables(map[string]string{
		"token": "data.token",
		"seat":  "data.seat",
		"vip":   "data.vip",
		"tags":  "data.tags",
	}, body)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"token": "abc",
		"seat":  "12",
		"vip":   "true",
		"tags":  `["a","b"]`,
	}, got)
}

func TestVariables_NoRules(t *testing.T) {
	got, err := Variables(nil, "not json")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestVariables_NotJSON(t *testing.T) {
	_, err := Variables(map[string]string{"x": "a"}, "tick 1")
	require.ErrorIs(t, err, ErrNotJSON)
}

func TestVariables_Null(t *testing.T) {
	_, err := Variables(map[string]string{"x": "missing.path"}, `{"a":1}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned null")
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(map[string]string{"ok": "data.items[0].id"}))
	require.Error(t, Validate(map[string]string{"bad": "data.[["}))
}
