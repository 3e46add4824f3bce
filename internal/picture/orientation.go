package picture

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
)

// OrientationNormal is the EXIF orientation of an upright image.
const OrientationNormal = 1

// orientationTransforms maps EXIF orientation tags to the operation that
// makes the stored pixels display upright. Rotations are counter-clockwise.
var orientationTransforms = map[int]func(image.Image) *image.NRGBA{
	2: imaging.FlipH,
	3: imaging.Rotate180,
	4: imaging.FlipV,
	5: imaging.Transpose,
	6: imaging.Rotate270,
	7: imaging.Transverse,
	8: imaging.Rotate90,
}

// ReadOrientation returns the EXIF orientation tag of data, or
// OrientationNormal if the image carries no usable orientation.
func ReadOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return OrientationNormal
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return OrientationNormal
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return OrientationNormal
	}
	return v
}

// ApplyOrientation returns img transformed so it displays upright for the
// given EXIF orientation. Unknown tags return img unchanged.
func ApplyOrientation(img image.Image, orientation int) image.Image {
	transform, ok := orientationTransforms[orientation]
	if !ok {
		return img
	}
	return transform(img)
}
