package gpumem

import "testing"

func TestIsPowerOfTwo(t *testing.T) {
	tests := []struct {
		n    uint64
		want bool
	}{
		{0, false},
		{1, true},
		{2, true},
		{3, false},
		{4, true},
		{255, false},
		{256, true},
		{1 << 40, true},
	}
	for _, tt := range tests {
		if got := isPowerOfTwo(tt.n); got != tt.want {
			t.Errorf("isPowerOfTwo(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestAlignUp(t *testing.T) {
	tests := []struct {
		val, alignment, want uint64
	}{
		{0, 256, 0},
		{1, 256, 256},
		{256, 256, 256},
		{257, 256, 512},
		{100, 1, 100},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := alignUp(tt.val, tt.alignment); got != tt.want {
			t.Errorf("alignUp(%d, %d) = %d, want %d", tt.val, tt.alignment, got, tt.want)
		}
	}
}

func TestAlignDown(t *testing.T) {
	tests := []struct {
		val, alignment, want uint64
	}{
		{0, 256, 0},
		{1, 256, 0},
		{256, 256, 256},
		{511, 256, 256},
		{100, 1, 100},
	}
	for _, tt := range tests {
		if got := alignDown(tt.val, tt.alignment); got != tt.want {
			t.Errorf("alignDown(%d, %d) = %d, want %d", tt.val, tt.alignment, got, tt.want)
		}
	}
}
