package engine

import "testing"

func TestExtractEstimateLink(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"full link", "https://calculator.aws/#/estimate?id=abc123", "https://calculator.aws/#/estimate?id=abc123"},
		{"short form", "see calculator.aws/#/estimate?id=ff00", "https://calculator.aws/#/estimate?id=ff00"},
		{"last match wins", "old https://calculator.aws/#/estimate?id=aaa new https://calculator.aws/#/estimate?id=bbb", "https://calculator.aws/#/estimate?id=bbb"},
		{"upper case id", "https://calculator.aws/#/estimate?id=ABC", "https://calculator.aws/#/estimate?id=abc"},
		{"no link", "Estimate saved", ""},
		{"non-hex id", "https://calculator.aws/#/estimate?id=zzz", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractEstimateLink(tt.text); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
