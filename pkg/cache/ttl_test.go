package cache

import (
	"net/http"
	"testing"
	"time"
)

func TestTTLPresets(t *testing.T) {
	presets := []time.Duration{TTLNone, TTLShort, TTLMedium, TTLDefault, TTLLong, TTLVeryLong}
	for i := 1; i < len(presets); i++ {
		if presets[i] <= presets[i-1] {
			t.Errorf("preset %d (%v) is not longer than preset %d (%v)", i, presets[i], i-1, presets[i-1])
		}
	}
}

func TestTTLFromHeaders(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	fallback := TTLDefault

	tests := []struct {
		name    string
		headers http.Header
		want    time.Duration
	}{
		{name: "nil headers", headers: nil, want: fallback},
		{name: "no caching headers", headers: http.Header{}, want: fallback},
		{
			name:    "max-age",
			headers: http.Header{"Cache-Control": []string{"public, max-age=120"}},
			want:    2 * time.Minute,
		},
		{
			name:    "no-store",
			headers: http.Header{"Cache-Control": []string{"no-store"}},
			want:    TTLNone,
		},
		{
			name: "max-age wins over expires",
			headers: http.Header{
				"Cache-Control": []string{"max-age=30"},
				"Expires":       []string{now.Add(time.Hour).Format(http.TimeFormat)},
			},
			want: 30 * time.Second,
		},
		{
			name:    "expires in future",
			headers: http.Header{"Expires": []string{now.Add(10 * time.Minute).Format(http.TimeFormat)}},
			want:    10 * time.Minute,
		},
		{
			name:    "expires in past",
			headers: http.Header{"Expires": []string{now.Add(-time.Minute).Format(http.TimeFormat)}},
			want:    TTLNone,
		},
		{
			name:    "invalid expires",
			headers: http.Header{"Expires": []string{"0"}},
			want:    fallback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TTLFromHeaders(tt.headers, fallback, now); got != tt.want {
				t.Errorf("TTLFromHeaders() = %v, want %v", got, tt.want)
			}
		})
	}
}
