package money

import "testing"

func TestFormatGBP(t *testing.T) {
	cases := []struct {
		pence int64
		want  string
	}{
		{0, "£0.00"},
		{1, "£0.01"},
		{1250, "£12.50"},
		{99999, "£999.99"},
	}
	for _, tc := range cases {
		if got := FormatGBP(tc.pence); got != tc.want {
			t.Fatalf("FormatGBP(%d) = %s, want %s", tc.pence, got, tc.want)
		}
	}
}
