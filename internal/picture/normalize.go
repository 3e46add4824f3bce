package picture

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/disintegration/imaging"
)

// Format is the encoding of a stored picture.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// FormatFromExtension maps a validated extension to its output format.
func FormatFromExtension(ext string) (Format, bool) {
	switch ext {
	case "jpg", "jpeg":
		return FormatJPEG, true
	case "png":
		return FormatPNG, true
	}
	return "", false
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatPNG {
		return "image/png"
	}
	return "image/jpeg"
}

// Normalized is a decoded, oriented, resized and flattened picture ready
// for storage.
type Normalized struct {
	Data   []byte
	Format Format
	Width  int
	Height int

	// Orientation is the EXIF tag that was applied before resizing.
	Orientation int
}

// NormalizationError reports a picture that could not be decoded or
// re-encoded. Retrying with the same bytes will fail again.
type NormalizationError struct {
	Err error
}

// Error implements the error interface.
func (e *NormalizationError) Error() string {
	return fmt.Sprintf("invalid image: %v", e.Err)
}

// Unwrap returns the underlying decode or encode error.
func (e *NormalizationError) Unwrap() error {
	return e.Err
}

// NormalizerConfig holds the target geometry and encoding settings.
type NormalizerConfig struct {
	Width       int
	Height      int
	JPEGQuality int

	// Background is the colour translucent pixels are composited onto.
	Background color.Color
}

// Normalizer turns arbitrary JPEG/PNG input into a fixed-size opaque image.
//
// The image is first rotated/flipped according to its EXIF orientation, then
// scaled to cover the target and center-cropped, so the output is always
// exactly Width×Height with the aspect ratio preserved.
type Normalizer struct {
	cfg NormalizerConfig
}

// NewNormalizer creates a normalizer, filling zero config values with defaults.
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	if cfg.Width <= 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = DefaultHeight
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = DefaultQuality
	}
	if cfg.Background == nil {
		cfg.Background = color.White
	}
	return &Normalizer{cfg: cfg}
}

// Normalize decodes data and produces the stored representation in format.
func (n *Normalizer) Normalize(data []byte, format Format) (*Normalized, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &NormalizationError{Err: err}
	}

	orientation := ReadOrientation(data)
	img = ApplyOrientation(img, orientation)

	img = imaging.Fill(img, n.cfg.Width, n.cfg.Height, imaging.Center, imaging.Lanczos)
	img = n.flatten(img)

	var buf bytes.Buffer
	switch format {
	case FormatJPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(n.cfg.JPEGQuality))
	case FormatPNG:
		err = imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	default:
		err = fmt.Errorf("unsupported output format %q", format)
	}
	if err != nil {
		return nil, &NormalizationError{Err: err}
	}

	return &Normalized{
		Data:        buf.Bytes(),
		Format:      format,
		Width:       n.cfg.Width,
		Height:      n.cfg.Height,
		Orientation: orientation,
	}, nil
}

// flatten composites img onto an opaque canvas so no alpha survives encoding.
func (n *Normalizer) flatten(img image.Image) *image.NRGBA {
	b := img.Bounds()
	canvas := imaging.New(b.Dx(), b.Dy(), n.cfg.Background)
	return imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)
}
