// Package provider models generation output as an explicit tagged union
// instead of walking arbitrary provider response trees: each provider
// adapter parses its own response shape into an Output.
package provider

import (
	"encoding/base64"
	"errors"
	"strings"
)

// Kind discriminates the output variants.
type Kind string

const (
	// KindURL is a hosted asset (Replicate delivery URLs).
	KindURL Kind = "url"
	// KindInline is raw bytes returned in the response (Gemini inline data).
	KindInline Kind = "inline"
)

var ErrNoOutput = errors.New("provider returned no usable output")

// Output is the normalized result of one generation call.
type Output struct {
	Kind Kind
	URL  string // set when Kind == KindURL
	MIME string // set when Kind == KindInline
	Data []byte // set when Kind == KindInline
}

// FromURL builds a URL-kind output, rejecting empty and non-http values.
func FromURL(u string) (Output, error) {
	u = strings.TrimSpace(u)
	if u == "" || !(strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "data:")) {
		return Output{}, ErrNoOutput
	}
	return Output{Kind: KindURL, URL: u}, nil
}

// FromInline builds an inline-kind output.
func FromInline(mime string, data []byte) (Output, error) {
	if len(data) == 0 {
		return Output{}, ErrNoOutput
	}
	if mime == "" {
		mime = "image/png"
	}
	return Output{Kind: KindInline, MIME: mime, Data: data}, nil
}

// AsDataURL renders the output as something a browser can display directly:
// the URL itself, or a base64 data URL for inline bytes.
func (o Output) AsDataURL() string {
	switch o.Kind {
	case KindURL:
		return o.URL
	case KindInline:
		return "data:" + o.MIME + ";base64," + base64.StdEncoding.EncodeToString(o.Data)
	}
	return ""
}

// IsZero reports whether the output carries nothing.
func (o Output) IsZero() bool {
	return o.Kind == "" || (o.URL == "" && len(o.Data) == 0)
}
