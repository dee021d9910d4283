// Package imgutil shrinks uploads before they go to a provider: large phone
// photos waste upload bandwidth and most models cap input resolution anyway.
package imgutil

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/nfnt/resize"
)

// Normalize decodes b, downscales so the longest edge is at most maxEdge
// (0 = no limit), and re-encodes. PNG stays PNG to keep transparency;
// everything else becomes JPEG. Returns the bytes and final MIME type.
func Normalize(b []byte, maxEdge int) ([]byte, string, error) {
	img, format, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if maxEdge > 0 && (w > maxEdge || h > maxEdge) {
		if w >= h {
			img = resize.Resize(uint(maxEdge), 0, img, resize.Lanczos3)
		} else {
			img = resize.Resize(0, uint(maxEdge), img, resize.Lanczos3)
		}
	}
	var buf bytes.Buffer
	if format == "png" {
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/png", nil
	}
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "image/jpeg", nil
}
