package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestBpsOf_TruncatesTowardZero(t *testing.T) {
	tests := []struct {
		x    int64
		bps  int64
		want int64
	}{
		{100, 50, 0},       // 0.5
		{199, 50, 0},       // 0.995
		{200, 50, 1},       // 1
		{106, 100, 1},      // 1.06
		{9999, 1, 0},       // 0.9999
		{10_000, 1, 1},     // 1
		{12_345, 250, 308}, // 308.625
		{-199, 50, 0},      // -0.995
	}
	for _, tt := range tests {
		got := BpsOf(decimal.NewFromInt(tt.x), tt.bps)
		if !got.Equal(decimal.NewFromInt(tt.want)) {
			t.Errorf("BpsOf(%d, %d) = %s, want %d", tt.x, tt.bps, got, tt.want)
		}
	}
}

func TestChangeBps(t *testing.T) {
	tests := []struct {
		name     string
		from, to int64
		want     int64
	}{
		{"flat", 100, 100, 0},
		{"up 5%", 100, 105, 500},
		{"down 5%", 100, 95, 500},
		{"fraction truncated", 3, 4, 3333},
		{"zero baseline", 0, 50, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ChangeBps(decimal.NewFromInt(tt.from), decimal.NewFromInt(tt.to)); got != tt.want {
				t.Errorf("ChangeBps(%d, %d) = %d, want %d", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestQuoTrunc(t *testing.T) {
	if got := QuoTrunc(decimal.NewFromInt(25), 2); !got.Equal(decimal.NewFromInt(12)) {
		t.Errorf("25/2 = %s, want 12", got)
	}
	if got := QuoTrunc(decimal.NewFromInt(25), 0); !got.IsZero() {
		t.Errorf("division by zero count = %s, want 0", got)
	}
}

func TestParseAmount(t *testing.T) {
	if _, err := ParseAmount("100"); err != nil {
		t.Fatalf("ParseAmount(100): %v", err)
	}
	for _, bad := range []string{"-1", "1.5", "abc"} {
		if _, err := ParseAmount(bad); err == nil {
			t.Errorf("ParseAmount(%q) accepted", bad)
		}
	}
}
