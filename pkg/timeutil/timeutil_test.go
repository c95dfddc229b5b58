package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAcademicYear(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want int
	}{
		{"before boundary", Date(2024, 9, 14), 2023},
		{"on boundary", Date(2024, 9, 15), 2024},
		{"january", Date(2025, 1, 10), 2024},
		{"december", Date(2024, 12, 31), 2024},
		{"last minute", time.Date(2024, 9, 14, 23, 59, 0, 0, time.UTC), 2023},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AcademicYear(tt.at))
		})
	}
}

func TestCurrentAcademicYear(t *testing.T) {
	clock := func() time.Time { return Date(2026, 10, 18) }
	assert.Equal(t, 2026, CurrentAcademicYear(clock))
}
