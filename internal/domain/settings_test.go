package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		radius float64
		valid  bool
	}{
		{MinSearchRadius, true},
		{30, true},
		{MaxSearchRadius, true},
		{MinSearchRadius - 1, false},
		{MaxSearchRadius + 1, false},
		{0, false},
	}
	for _, tt := range tests {
		err := Settings{RadiusMeters: tt.radius, AutoHide: true}.Validate()
		if tt.valid {
			assert.NoError(t, err, "radius %v", tt.radius)
		} else {
			assert.ErrorIs(t, err, ErrInvalidSettings, "radius %v", tt.radius)
		}
	}
}
