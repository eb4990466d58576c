package utils

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTryFloat(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want float64
		ok   bool
	}{
		{"nil", nil, 0, false},
		{"int64", int64(42), 42, true},
		{"int", 7, 7, true},
		{"float", 2.5, 2.5, true},
		{"padded text", " 3.75 ", 3.75, true},
		{"bytes", []byte("10"), 10, true},
		{"empty", "", 0, false},
		{"sentinel", "n/a", 0, false},
		{"dash", "-", 0, false},
		{"nan", math.NaN(), 0, false},
		{"uint8", uint8(9), 9, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := TryFloat(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestAsString(t *testing.T) {
	assert.Equal(t, "", AsString(nil))
	assert.Equal(t, "abc", AsString("abc"))
	assert.Equal(t, "12", AsString([]byte("12")))
	assert.Equal(t, "1685", AsString(float64(1685)))
	assert.Equal(t, "2.5", AsString(2.5))
	assert.Equal(t, "-3", AsString(int64(-3)))
	assert.Equal(t, "5", AsString(int32(5)))
	assert.Equal(t, "true", AsString(true))
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 5*time.Minute, ParseDuration("5m", time.Second))
	assert.Equal(t, time.Second, ParseDuration("", time.Second))
	assert.Equal(t, time.Second, ParseDuration("soon", time.Second))
}
