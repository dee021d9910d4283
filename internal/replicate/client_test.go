package replicate

import (
	"testing"

	"photoshopai/backend/internal/provider"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		in      interface{}
		wantURL string
		wantErr bool
	}{
		{"bare string", "https://replicate.delivery/a.png", "https://replicate.delivery/a.png", false},
		{"array takes first", []interface{}{"https://replicate.delivery/1.png", "https://replicate.delivery/2.png"}, "https://replicate.delivery/1.png", false},
		{"array skips empty", []interface{}{"", "https://replicate.delivery/2.png"}, "https://replicate.delivery/2.png", false},
		{"wrapped output string", map[string]interface{}{"output": "https://replicate.delivery/b.mp4"}, "https://replicate.delivery/b.mp4", false},
		{"wrapped output array", map[string]interface{}{"output": []interface{}{"https://replicate.delivery/c.png"}}, "https://replicate.delivery/c.png", false},
		{"nil", nil, "", true},
		{"empty array", []interface{}{}, "", true},
		{"object without output", map[string]interface{}{"status": "succeeded"}, "", true},
		{"non-url string", "oops", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Resolve(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if out.Kind != provider.KindURL || out.URL != tt.wantURL {
				t.Errorf("Resolve = %+v, want url %q", out, tt.wantURL)
			}
		})
	}
}
