package opt

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVectorChecks(t *testing.T) {
	nan, inf := math.NaN(), math.Inf(-1)

	tests := []struct {
		name          string
		v             []float64
		nonzeroFinite bool
		below         bool // eps = 1e-3
		zero          bool
	}{
		{"empty", nil, false, true, true},
		{"zeros", []float64{0, 0}, false, true, true},
		{"small", []float64{1e-4, -5e-4}, true, true, false},
		{"large", []float64{1e-4, -2}, true, false, false},
		{"nan", []float64{0, nan}, false, false, false},
		{"inf", []float64{1, inf}, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.nonzeroFinite, isNonzeroFinite(tt.v))
			assert.Equal(t, tt.below, allBelow(tt.v, 1e-3))
			assert.Equal(t, tt.zero, isZero(tt.v))
		})
	}
}
