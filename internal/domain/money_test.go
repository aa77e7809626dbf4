package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCents(t *testing.T) {
	cases := map[string]Cents{
		"1":     100,
		"1.00":  100,
		"1.5":   150,
		"0.25":  25,
		"12.07": 1207,
		"-0.50": -50,
	}
	for in, want := range cases {
		got, err := ParseCents(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "abc", "1.234", "1.", "1.-5", "1.+5", "--1", "+1", "-+1", ".5", "1.5e"} {
		_, err := ParseCents(bad)
		assert.Error(t, err, bad)
	}
}

func TestCentsString(t *testing.T) {
	assert.Equal(t, "5.00", Cents(500).String())
	assert.Equal(t, "0.07", Cents(7).String())
	assert.Equal(t, "-1.20", Cents(-120).String())
}

func TestCentsJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Fee Cents `json:"fee"`
	}{Fee: 250})
	require.NoError(t, err)
	assert.JSONEq(t, `{"fee":"2.50"}`, string(b))

	var out struct {
		Fee Cents `json:"fee"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"fee":"3.10"}`), &out))
	assert.Equal(t, Cents(310), out.Fee)
}
