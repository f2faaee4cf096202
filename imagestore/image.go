package imagestore

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	jpegQuality  = 85
	thumbQuality = 80
	thumbMaxSide = 300
)

// decodeImage parses any supported source format.
func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imagestore: decode: %w", err)
	}
	return img, nil
}

// encodeJPEG re-encodes at the storage quality; every stored object is JPEG
// regardless of source format.
func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("imagestore: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// thumbnail scales img so its longer side is at most thumbMaxSide. Images
// already small enough pass through unscaled.
func thumbnail(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= thumbMaxSide && h <= thumbMaxSide {
		return img
	}
	var tw, th int
	if w >= h {
		tw = thumbMaxSide
		th = h * thumbMaxSide / w
	} else {
		th = thumbMaxSide
		tw = w * thumbMaxSide / h
	}
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
