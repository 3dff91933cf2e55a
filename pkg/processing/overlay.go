package processing

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/menta2k/stride-detect/pkg/types"
)

var labelFont *truetype.Font

func init() {
	var err error
	labelFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// palette holds one box color per class, picked by class id
var palette = []color.NRGBA{
	{255, 56, 56, 255},
	{255, 157, 151, 255},
	{255, 112, 31, 255},
	{255, 178, 29, 255},
	{207, 210, 49, 255},
	{72, 249, 10, 255},
	{146, 204, 23, 255},
	{61, 219, 134, 255},
	{26, 147, 52, 255},
	{0, 212, 187, 255},
	{44, 153, 168, 255},
	{0, 194, 255, 255},
	{52, 69, 147, 255},
	{100, 115, 255, 255},
	{0, 24, 236, 255},
	{132, 56, 255, 255},
	{82, 0, 133, 255},
	{203, 56, 255, 255},
	{255, 149, 200, 255},
	{255, 55, 199, 255},
}

// ClassColor returns the box color for a class id
func ClassColor(classID int) color.NRGBA {
	if classID < 0 {
		classID = -classID
	}
	return palette[classID%len(palette)]
}

// AnnotateDetections draws each detection's box and a "<name> <confidence>" tag onto a copy of img
func (p *Processor) AnnotateDetections(img image.Image, result *types.DetectionResult) image.Image {
	base := imaging.Clone(img)
	if result == nil || len(result.Detections) == 0 {
		return base
	}

	w, h := base.Bounds().Dx(), base.Bounds().Dy()
	side := float64(minInt(w, h))
	stroke := math.Max(2, 0.004*side)
	fontSize := math.Max(11, 0.025*side)

	dc := gg.NewContextForImage(base)
	dc.SetFontFace(truetype.NewFace(labelFont, &truetype.Options{Size: fontSize}))

	for _, d := range result.Detections {
		rect := boxToRect(d.Box, w, h)
		c := ClassColor(d.ClassID)

		dc.SetColor(c)
		dc.SetLineWidth(stroke)
		dc.DrawRectangle(float64(rect.Min.X), float64(rect.Min.Y), float64(rect.Dx()), float64(rect.Dy()))
		dc.Stroke()

		label := fmt.Sprintf("%s %.2f", result.NameOf(d), d.Confidence)
		drawTag(dc, label, rect, c, fontSize)
	}

	return dc.Image()
}

// drawTag draws a filled label tag above the box, or inside it when the box touches the top edge
func drawTag(dc *gg.Context, label string, rect image.Rectangle, c color.NRGBA, fontSize float64) {
	tw, _ := dc.MeasureString(label)
	pad := math.Max(2, fontSize/5)
	th := fontSize + 2*pad

	x := float64(rect.Min.X)
	y := float64(rect.Min.Y) - th
	if y < 0 {
		y = float64(rect.Min.Y)
	}
	if over := x + tw + 2*pad - float64(dc.Width()); over > 0 {
		x = math.Max(0, x-over)
	}

	dc.SetColor(c)
	dc.DrawRectangle(x, y, tw+2*pad, th)
	dc.Fill()

	dc.SetColor(textColorFor(c))
	dc.DrawStringAnchored(label, x+pad, y+th/2, 0, 0.5)
}

// textColorFor picks black or white text for readability on background c
func textColorFor(c color.NRGBA) color.Color {
	luma := 0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)
	if luma > 150 {
		return color.Black
	}
	return color.White
}

// boxToRect converts a normalized box to pixel coordinates; empty boxes grow to one pixel
func boxToRect(box types.Box, w, h int) image.Rectangle {
	x0 := int(clamp(box.X, 0, 1)*float64(w) + 0.5)
	y0 := int(clamp(box.Y, 0, 1)*float64(h) + 0.5)
	x1 := int(clamp(box.X+box.W, 0, 1)*float64(w) + 0.5)
	y1 := int(clamp(box.Y+box.H, 0, 1)*float64(h) + 0.5)
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	return image.Rect(x0, y0, x1, y1)
}
