package layer

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"

	"github.com/stano45/streamcompositor/internal/frame"
)

// resize scales src to exactly (w, h) using bilinear interpolation, the
// ecosystem-standard resize primitive layered over stdlib image (no pack
// example does raster resizing; see DESIGN.md).
func resize(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}

// crop returns the sub-image of src described by r, clamped to src's own
// bounds (spec.md: "clamped to the source-frame bounds").
func crop(src image.Image, r image.Rectangle) image.Image {
	r = r.Intersect(src.Bounds())
	if r.Empty() {
		r = src.Bounds()
	}
	type subImager interface {
		SubImage(image.Rectangle) image.Image
	}
	if si, ok := src.(subImager); ok {
		return si.SubImage(r)
	}
	// fall back to a full copy via draw
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), src, r.Min, draw.Src)
	return dst
}

// encodeDataURL encodes img as JPEG (quality in [1,100]) or PNG and returns
// both the raw bytes and the data URL string spec.md §4.2 step 11 requires.
func encodeDataURL(img image.Image, usePNG bool, jpegQuality int) (raw []byte, dataURL string, err error) {
	var buf bytes.Buffer
	mime := "image/jpeg"
	if usePNG {
		mime = "image/png"
		if err = png.Encode(&buf, img); err != nil {
			return nil, "", fmt.Errorf("png encode: %w", err)
		}
	} else {
		q := jpegQuality
		if q < 1 {
			q = 1
		}
		if q > 100 {
			q = 100
		}
		if err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
			return nil, "", fmt.Errorf("jpeg encode: %w", err)
		}
	}
	raw = buf.Bytes()
	dataURL = "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(raw)
	return raw, dataURL, nil
}

// navThumbnail builds the ~90px-tall, aspect-preserved JPEG q=60 navigation
// thumbnail spec.md §4.2 step 7 requires whenever the effective zoom > 1,
// taken from the uncropped frame.
func navThumbnail(full *frame.Frame) (string, error) {
	const targetH = 90
	if full.Height <= 0 {
		return "", fmt.Errorf("zero-height frame")
	}
	w := full.Width * targetH / full.Height
	if w < 1 {
		w = 1
	}
	thumb := resize(full.Image(), w, targetH)
	_, dataURL, err := encodeDataURL(thumb, false, 60)
	return dataURL, err
}
