package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidTicker(t *testing.T) {
	valid := []string{"AAPL", "BRK.B", "^GSPC", "EURUSD=X", "RDS-A", "7203.T", "A"}
	for _, ticker := range valid {
		assert.True(t, ValidTicker(ticker), ticker)
	}

	invalid := []string{"", "aapl", "AA PL", "$AAPL", "A;DROP", ".AAPL", "^", "ABCDEFGHIJKLMNOP", "AAPL^"}
	for _, ticker := range invalid {
		assert.False(t, ValidTicker(ticker), ticker)
	}
}

func TestNormalizeTicker(t *testing.T) {
	assert.Equal(t, "MSFT", NormalizeTicker("  msft "))
	assert.True(t, ValidTicker(NormalizeTicker("brk.b")))
}
