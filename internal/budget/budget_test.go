package budget

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"12.34", 1234},
		{"-12.34", -1234},
		{"0.005", 1},
		{"-0.005", -1},
		{"100", 10000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MinorUnits(decimal.RequireFromString(tt.in)), tt.in)
	}

	assert.True(t, FromMinorUnits(-1234).Equal(decimal.RequireFromString("-12.34")))
}
