package vision

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var boxColor = color.RGBA{R: 255, A: 255}

const boxStroke = 3

// Annotate draws each object's box and label onto a copy of src.
func Annotate(src image.Image, objects []Object) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)

	face := basicfont.Face7x13
	for _, o := range objects {
		r := boxRect(o.BoundingBox).Intersect(dst.Bounds())
		if r.Empty() {
			continue
		}
		strokeRect(dst, r, boxStroke)

		labelY := r.Min.Y - 4
		if labelY < face.Ascent {
			labelY = r.Min.Y + face.Ascent + boxStroke
		}
		d := &font.Drawer{
			Dst:  dst,
			Src:  image.NewUniform(boxColor),
			Face: face,
			Dot:  fixed.P(r.Min.X+boxStroke, labelY),
		}
		d.DrawString(o.Name)
	}
	return dst
}

// DataURL encodes img as a base64 PNG data URL.
func DataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func boxRect(box [4]float64) image.Rectangle {
	return image.Rect(
		int(math.Round(box[0])), int(math.Round(box[1])),
		int(math.Round(box[2])), int(math.Round(box[3])),
	)
}

func strokeRect(dst *image.RGBA, r image.Rectangle, width int) {
	src := image.NewUniform(boxColor)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width),
		image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y),
		image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(r), src, image.Point{}, draw.Src)
	}
}
