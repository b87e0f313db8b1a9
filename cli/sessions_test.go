package cli

import "testing"

func TestFormatTodos(t *testing.T) {
	tests := []struct {
		done, total int
		want        string
	}{
		{0, 0, "-"},
		{0, 3, "0/3"},
		{1, 3, "1/3"},
		{2, 2, "2/2"},
	}
	for _, tt := range tests {
		if got := formatTodos(tt.done, tt.total); got != tt.want {
			t.Errorf("formatTodos(%d, %d) = %q, want %q", tt.done, tt.total, got, tt.want)
		}
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{512, "512B"},
		{2048, "2.0KB"},
		{3 << 20, "3.0MB"},
	}
	for _, tt := range tests {
		if got := formatSize(tt.n); got != tt.want {
			t.Errorf("formatSize(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
