package cli

import "testing"

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms   int
		want string
	}{
		{0, "0ms"},
		{999, "999ms"},
		{1000, "1.0s"},
		{1500, "1.5s"},
		{59000, "59.0s"},
		{60000, "1m0.0s"},
		{125500, "2m5.5s"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := FormatDuration(tt.ms)
			if got != tt.want {
				t.Errorf("FormatDuration(%d) = %q, want %q", tt.ms, got, tt.want)
			}
		})
	}
}

func TestFormatSeconds(t *testing.T) {
	if got := FormatSeconds(61.5); got != "1m1.5s" {
		t.Errorf("FormatSeconds(61.5) = %q", got)
	}
}

func TestFormatScore(t *testing.T) {
	if got := FormatScore(0.853); got != "85.3%" {
		t.Errorf("FormatScore(0.853) = %q", got)
	}
}
