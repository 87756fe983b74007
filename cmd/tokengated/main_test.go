package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tokengate/tokengate/internal/domain"
)

func TestProbeAddr(t *testing.T) {
	tests := []struct {
		listen string
		want   string
	}{
		{":8080", "127.0.0.1:8080"},
		{"0.0.0.0:9000", "127.0.0.1:9000"},
		{"[::]:9000", "127.0.0.1:9000"},
		{"10.0.0.5:8080", "10.0.0.5:8080"},
		{"not-an-addr", "not-an-addr"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, probeAddr(tt.listen), tt.listen)
	}
}

func TestSQLQuote_EscapesSingleQuotes(t *testing.T) {
	assert.Equal(t, "'o''brien'", sqlQuote("o'brien"))
	assert.Equal(t, "''", sqlQuote(""))
}

func TestPrintKeySQL(t *testing.T) {
	var buf bytes.Buffer
	printKeySQL(&buf, &domain.APIKey{Name: "billing", Prefix: "tg_abcdefg", Hash: "deadbeef"})
	assert.Equal(t,
		"INSERT INTO api_keys (name, prefix, key_hash) VALUES ('billing', 'tg_abcdefg', 'deadbeef');\n",
		buf.String())
}
