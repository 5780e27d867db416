package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsolateJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "json fence with prose",
			content: "Sure! Here is the result:\n```json\n{\"attributes\": {\"Brand\": \"Apple\"}}\n```\nLet me know {if} you need more.",
			want:    `{"attributes": {"Brand": "Apple"}}`,
		},
		{
			name:    "plain fence",
			content: "```\n{\"Brand\": \"Sony\"}\n```",
			want:    `{"Brand": "Sony"}`,
		},
		{
			name:    "fence with other language tag",
			content: "```JSON\n{\"Brand\": \"LG\"}\n```",
			want:    `{"Brand": "LG"}`,
		},
		{
			name:    "bare object in prose",
			content: "The product is {\"a\": {\"b\": 1}} as requested.",
			want:    `{"a": {"b": 1}}`,
		},
		{
			name:    "inline fence without object is ignored",
			content: "prose ``` inline ``` then {\"Brand\":\"Sony\"}",
			want:    `{"Brand":"Sony"}`,
		},
		{
			name:    "no braces",
			content: "  Brand: Apple  ",
			want:    "Brand: Apple",
		},
		{
			name:    "unterminated fence falls back to braces",
			content: "```json\n{\"Brand\": \"Nokia\"}",
			want:    `{"Brand": "Nokia"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isolateJSON(tt.content))
		})
	}
}

func TestParseReply_Envelope(t *testing.T) {
	rep, err := parseReply(`{
		"attributes": {"Brand": "Samsung", "Storage": 256, "Colors": ["Black", "Silver"], "5G": true, "Weight": null},
		"price_suggestion": {"min_price": "$300", "max_price": 450, "currency": "USD", "reasoning": "used"},
		"listing": {"title": "Galaxy S21 Ultra", "description": "Great phone"}
	}`)
	require.NoError(t, err)

	env, ok := rep.(envelope)
	require.True(t, ok, "got %T", rep)
	assert.Equal(t, pairs(
		"Brand", "Samsung",
		"Storage", "256",
		"Colors", "Black, Silver",
		"5G", "true",
		"Weight", "",
	), env.attrs.Pairs())
	assert.EqualValues(t, 300, env.price.MinPrice)
	assert.EqualValues(t, 450, env.price.MaxPrice)
	assert.Equal(t, "Galaxy S21 Ultra", env.copy.Title)
}

func TestParseReply_AttributesOnly(t *testing.T) {
	rep, err := parseReply(`{"Brand": "Apple", "Model": "iPhone 13", "listing": {"title": "x"}}`)
	require.NoError(t, err)

	only, ok := rep.(attributesOnly)
	require.True(t, ok, "got %T", rep)
	assert.Equal(t, pairs("Brand", "Apple", "Model", "iPhone 13"), only.attrs.Pairs())
}

func TestParseReply_AttributesNotObject(t *testing.T) {
	rep, err := parseReply(`{"attributes": "none", "Brand": "HP"}`)
	require.NoError(t, err)
	_, ok := rep.(attributesOnly)
	assert.True(t, ok)
	assert.Equal(t, pairs("Brand", "HP"), rep.attributes().Pairs())
}

func TestParseReply_MalformedPriceIgnored(t *testing.T) {
	rep, err := parseReply(`{"attributes": {"Brand": "Dell"}, "price_suggestion": "cheap"}`)
	require.NoError(t, err)
	env := rep.(envelope)
	assert.True(t, env.price.IsZero())
}

func TestParseReply_Errors(t *testing.T) {
	for _, blob := range []string{"", "Brand: Apple", `{"Brand": "Apple",}`, `["a"]`, `{"Brand": "Apple"`} {
		_, err := parseReply(blob)
		assert.Error(t, err, "blob %q", blob)
	}
}
