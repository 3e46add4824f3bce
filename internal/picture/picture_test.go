package picture

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	red  = color.NRGBA{R: 255, A: 255}
	blue = color.NRGBA{B: 255, A: 255}
)

// withOrientation inserts an APP1 EXIF segment carrying only the
// orientation tag right after the JPEG SOI marker.
func withOrientation(t *testing.T, jpg []byte, orientation uint16) []byte {
	t.Helper()
	require.True(t, len(jpg) > 2 && jpg[0] == 0xFF && jpg[1] == 0xD8)

	var payload bytes.Buffer
	payload.WriteString("Exif\x00\x00")
	// Big-endian TIFF header with IFD0 at offset 8.
	payload.WriteString("MM\x00\x2A\x00\x00\x00\x08")
	// One entry: Orientation, SHORT, count 1, value left-justified.
	for _, v := range []any{uint16(1), uint16(0x0112), uint16(3), uint32(1), orientation, uint16(0)} {
		_ = binary.Write(&payload, binary.BigEndian, v)
	}
	// No next IFD.
	_ = binary.Write(&payload, binary.BigEndian, uint32(0))

	var out bytes.Buffer
	out.Write(jpg[:2])
	out.Write([]byte{0xFF, 0xE1})
	_ = binary.Write(&out, binary.BigEndian, uint16(payload.Len()+2))
	out.Write(payload.Bytes())
	out.Write(jpg[2:])
	return out.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// banded returns a size×size blue image with a red band of a third of the
// size along the given edge.
func banded(size int, edge string) *image.NRGBA {
	img := solid(size, size, blue)
	band := size / 3
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			var in bool
			switch edge {
			case "top":
				in = y < band
			case "bottom":
				in = y >= size-band
			case "left":
				in = x < band
			case "right":
				in = x >= size-band
			}
			if in {
				img.Set(x, y, red)
			}
		}
	}
	return img
}

func isRed(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return r>>8 > 200 && g>>8 < 80 && b>>8 < 80
}

func isBlue(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return b>>8 > 200 && r>>8 < 80 && g>>8 < 80
}

func TestValidator_Validate(t *testing.T) {
	v := NewValidator(nil, 0)

	tests := []struct {
		name     string
		filename string
		size     int64
		accepted bool
		reason   RejectReason
		ext      string
	}{
		{name: "jpg", filename: "avatar.jpg", size: 1024, accepted: true, ext: "jpg"},
		{name: "uppercase JPEG", filename: "AVATAR.JPEG", size: 1024, accepted: true, ext: "jpeg"},
		{name: "png", filename: "a.png", size: 1, accepted: true, ext: "png"},
		{name: "multiple dots", filename: "a.backup.jpg", size: 1, accepted: true, ext: "jpg"},
		{name: "multiple dots bad last", filename: "a.jpg.gif", size: 1, reason: ReasonExtension, ext: "gif"},
		{name: "gif", filename: "anim.gif", size: 1, reason: ReasonExtension, ext: "gif"},
		{name: "no extension", filename: "avatar", size: 1, reason: ReasonMissingExtension},
		{name: "trailing dot", filename: "avatar.", size: 1, reason: ReasonMissingExtension},
		{name: "empty", filename: "", size: 1, reason: ReasonMissingExtension},
		{name: "dot in directory only", filename: "dir.d/avatar", size: 1, reason: ReasonMissingExtension},
		{name: "exactly max", filename: "a.png", size: DefaultMaxSize, accepted: true, ext: "png"},
		{name: "over max", filename: "a.png", size: DefaultMaxSize + 1, reason: ReasonTooLarge, ext: "png"},
		{name: "over max bad ext", filename: "a.exe", size: DefaultMaxSize + 1, reason: ReasonTooLarge, ext: "exe"},
		{name: "unknown size", filename: "a.png", size: -1, accepted: true, ext: "png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := v.Validate(tt.filename, tt.size)
			assert.Equal(t, tt.accepted, d.Accepted)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.ext, d.Extension)

			if tt.accepted {
				assert.NoError(t, d.Err())
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(d.Err(), &verr))
			assert.Equal(t, tt.reason, verr.Reason)
		})
	}
}

func TestValidator_CustomExtensions(t *testing.T) {
	v := NewValidator([]string{".WEBP"}, 10)
	assert.True(t, v.Validate("x.webp", 5).Accepted)
	assert.Equal(t, ReasonExtension, v.Validate("x.png", 5).Reason)
	assert.Equal(t, ReasonTooLarge, v.Validate("x.webp", 11).Reason)
	assert.Equal(t, int64(10), v.MaxSize())
}

func TestApplyOrientation_Table(t *testing.T) {
	// 3x2 image with a single red marker at (0,0).
	src := solid(3, 2, blue)
	src.Set(0, 0, red)

	tests := []struct {
		orientation int
		w, h        int
		marker      image.Point
	}{
		{1, 3, 2, image.Pt(0, 0)},
		{2, 3, 2, image.Pt(2, 0)},
		{3, 3, 2, image.Pt(2, 1)},
		{4, 3, 2, image.Pt(0, 1)},
		{5, 2, 3, image.Pt(0, 0)},
		{6, 2, 3, image.Pt(1, 0)},
		{7, 2, 3, image.Pt(1, 2)},
		{8, 2, 3, image.Pt(0, 2)},
		{0, 3, 2, image.Pt(0, 0)},
		{9, 3, 2, image.Pt(0, 0)},
	}

	for _, tt := range tests {
		out := ApplyOrientation(src, tt.orientation)
		b := out.Bounds()
		require.Equal(t, tt.w, b.Dx(), "orientation %d width", tt.orientation)
		require.Equal(t, tt.h, b.Dy(), "orientation %d height", tt.orientation)

		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				c := out.At(b.Min.X+x, b.Min.Y+y)
				if x == tt.marker.X && y == tt.marker.Y {
					assert.True(t, isRed(c), "orientation %d: expected marker at %v", tt.orientation, tt.marker)
				} else {
					assert.True(t, isBlue(c), "orientation %d: unexpected marker at (%d,%d)", tt.orientation, x, y)
				}
			}
		}
	}
}

func TestReadOrientation(t *testing.T) {
	plain := encodeJPEG(t, solid(8, 8, blue))
	assert.Equal(t, OrientationNormal, ReadOrientation(plain))
	assert.Equal(t, OrientationNormal, ReadOrientation(encodePNG(t, solid(8, 8, blue))))
	assert.Equal(t, OrientationNormal, ReadOrientation([]byte("not an image")))

	for o := uint16(1); o <= 8; o++ {
		assert.Equal(t, int(o), ReadOrientation(withOrientation(t, plain, o)))
	}
}

func TestNormalize_EXIFOrientationUpright(t *testing.T) {
	// Each stored image places the band where the given orientation tag
	// will move it to the top.
	storedEdge := map[uint16]string{
		1: "top", 2: "top", 3: "bottom", 4: "bottom",
		5: "left", 6: "left", 7: "right", 8: "right",
	}

	n := NewNormalizer(NormalizerConfig{})
	for o, edge := range storedEdge {
		data := withOrientation(t, encodeJPEG(t, banded(300, edge)), o)

		out, err := n.Normalize(data, FormatJPEG)
		require.NoError(t, err, "orientation %d", o)
		assert.Equal(t, int(o), out.Orientation)

		img, err := jpeg.Decode(bytes.NewReader(out.Data))
		require.NoError(t, err)
		assert.True(t, isRed(img.At(100, 10)), "orientation %d: top should be red", o)
		assert.True(t, isBlue(img.At(100, 190)), "orientation %d: bottom should be blue", o)
	}
}

func TestNormalize_FixedSizeAllAspectRatios(t *testing.T) {
	n := NewNormalizer(NormalizerConfig{})

	sizes := [][2]int{{200, 200}, {50, 50}, {1000, 200}, {200, 1000}, {640, 480}, {1, 1}}
	for _, s := range sizes {
		out, err := n.Normalize(encodePNG(t, solid(s[0], s[1], blue)), FormatPNG)
		require.NoError(t, err)
		assert.Equal(t, 200, out.Width)
		assert.Equal(t, 200, out.Height)

		cfg, format, err := image.DecodeConfig(bytes.NewReader(out.Data))
		require.NoError(t, err)
		assert.Equal(t, "png", format)
		assert.Equal(t, 200, cfg.Width, "input %v", s)
		assert.Equal(t, 200, cfg.Height, "input %v", s)
	}
}

func TestNormalize_CenterCrop(t *testing.T) {
	// 600x200: red left third, blue middle, red right third. Cropping the
	// center square must keep only the blue middle.
	img := solid(600, 200, blue)
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			img.Set(x, y, red)
			img.Set(x+400, y, red)
		}
	}

	out, err := NewNormalizer(NormalizerConfig{}).Normalize(encodePNG(t, img), FormatPNG)
	require.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(out.Data))
	require.NoError(t, err)
	assert.True(t, isBlue(decoded.At(5, 100)))
	assert.True(t, isBlue(decoded.At(195, 100)))
}

func TestNormalize_FlattensAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 100, 100)) // fully transparent
	for y := 0; y < 100; y++ {
		for x := 50; x < 100; x++ {
			img.Set(x, y, blue)
		}
	}

	out, err := NewNormalizer(NormalizerConfig{}).Normalize(encodePNG(t, img), FormatPNG)
	require.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(out.Data))
	require.NoError(t, err)

	// An RGB PNG decodes to *image.RGBA; RGBA-with-alpha would be *image.NRGBA.
	_, isRGB := decoded.(*image.RGBA)
	assert.True(t, isRGB, "expected an opaque colour type, got %T", decoded)

	r, g, b, a := decoded.At(10, 100).RGBA()
	assert.Equal(t, uint32(0xffff), a)
	assert.True(t, r>>8 > 240 && g>>8 > 240 && b>>8 > 240, "transparent area should be white")
	assert.True(t, isBlue(decoded.At(190, 100)))
}

func TestNormalize_Errors(t *testing.T) {
	n := NewNormalizer(NormalizerConfig{})

	_, err := n.Normalize([]byte("this is plain text, not a jpeg"), FormatJPEG)
	var nerr *NormalizationError
	require.True(t, errors.As(err, &nerr))
	assert.Contains(t, err.Error(), "invalid image")

	_, err = n.Normalize(nil, FormatPNG)
	assert.True(t, errors.As(err, &nerr))

	_, err = n.Normalize(encodePNG(t, solid(4, 4, blue)), Format("gif"))
	assert.True(t, errors.As(err, &nerr))
}

func TestFormatFromExtension(t *testing.T) {
	f, ok := FormatFromExtension("jpg")
	assert.True(t, ok)
	assert.Equal(t, FormatJPEG, f)
	assert.Equal(t, "image/jpeg", f.ContentType())

	f, ok = FormatFromExtension("png")
	assert.True(t, ok)
	assert.Equal(t, "image/png", f.ContentType())

	_, ok = FormatFromExtension("gif")
	assert.False(t, ok)
}
