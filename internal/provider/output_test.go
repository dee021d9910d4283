package provider

import (
	"strings"
	"testing"
)

func TestFromURL(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"https://replicate.delivery/pbxt/abc.png", false},
		{"data:image/png;base64,aGk=", false},
		{"  https://cdn.example.com/x.jpg  ", false},
		{"", true},
		{"ftp://example.com/x.png", true},
		{"not a url", true},
	}
	for _, tt := range tests {
		out, err := FromURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("FromURL(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && out.Kind != KindURL {
			t.Errorf("FromURL(%q) kind = %q, want url", tt.in, out.Kind)
		}
	}
}

func TestFromInlineDefaultsMIME(t *testing.T) {
	out, err := FromInline("", []byte{0x89, 0x50})
	if err != nil {
		t.Fatalf("FromInline: %v", err)
	}
	if out.MIME != "image/png" {
		t.Errorf("mime = %q, want image/png", out.MIME)
	}
	if _, err := FromInline("image/png", nil); err != ErrNoOutput {
		t.Errorf("empty data err = %v, want ErrNoOutput", err)
	}
}

func TestAsDataURL(t *testing.T) {
	u, _ := FromURL("https://cdn.example.com/x.png")
	if got := u.AsDataURL(); got != "https://cdn.example.com/x.png" {
		t.Errorf("url AsDataURL = %q", got)
	}
	in, _ := FromInline("image/jpeg", []byte("hello"))
	got := in.AsDataURL()
	if !strings.HasPrefix(got, "data:image/jpeg;base64,") {
		t.Errorf("inline AsDataURL = %q, want data URL prefix", got)
	}
}
