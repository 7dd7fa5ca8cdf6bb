package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_SimpleField(t *testing.T) {
	data := map[string]any{"customer": map[string]any{"email": "a@b.com"}}

	result, err := Render("customer.email", data)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", result)
}

func TestRender_Undefined(t *testing.T) {
	result, err := Render("missing.field", map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestRender_InvalidExpression(t *testing.T) {
	_, err := Render("{{{", map[string]any{})
	require.Error(t, err)
}

func TestRenderMapping(t *testing.T) {
	data := map[string]any{
		"score": 42.0,
		"user":  map[string]any{"name": "Ada"},
	}

	result, err := RenderMapping(map[string]string{
		"score":   "score",
		"name":    "user.name",
		"missing": "user.phone",
	}, data)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"score": 42.0,
		"name":  "Ada",
	}, result)
}

func TestRenderMapping_ExpressionTransforms(t *testing.T) {
	data := map[string]any{"first": "Grace", "last": "Hopper"}

	result, err := RenderMapping(map[string]string{
		"full_name": `first & " " & last`,
	}, data)
	require.NoError(t, err)
	assert.Equal(t, "Grace Hopper", result["full_name"])
}
