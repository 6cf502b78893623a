package format

import (
	"testing"
)

func TestBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		n    int64
		want string
	}{
		{
			name: "zero",
			n:    0,
			want: "0 B",
		},
		{
			name: "below one KiB",
			n:    1023,
			want: "1023 B",
		},
		{
			name: "exactly one KiB",
			n:    1024,
			want: "1.0 KiB",
		},
		{
			name: "one and a half KiB",
			n:    1536,
			want: "1.5 KiB",
		},
		{
			name: "one MiB",
			n:    1 << 20,
			want: "1.0 MiB",
		},
		{
			name: "some MiB",
			n:    12897484,
			want: "12.3 MiB",
		},
		{
			name: "five GiB",
			n:    5 << 30,
			want: "5.0 GiB",
		},
		{
			name: "two TiB",
			n:    2 << 40,
			want: "2.0 TiB",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Bytes(tc.n)
			if got != tc.want {
				t.Errorf("Bytes(%d) = %q, want %q", tc.n, got, tc.want)
			}
		})
	}
}
