package services

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"pdf2md/internal/domain"
)

const (
	bannerHeight = 40
	bannerAlpha  = 180
)

// Annotator writes a copy of a page image with a dark banner across the top
// naming the page and the recognition task type.
type Annotator struct {
	quality int
}

func NewAnnotator(quality int) *Annotator {
	return &Annotator{quality: quality}
}

func (a *Annotator) Annotate(srcPath, dstPath, taskType string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return domain.IOError("open page image", err)
	}
	src, _, err := image.Decode(in)
	in.Close()
	if err != nil {
		return domain.ConversionError("decode page image", err)
	}

	bounds := src.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, src, bounds.Min, draw.Src)

	banner := image.Rect(bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Min.Y+min(bannerHeight, bounds.Dy()))
	shade := image.NewUniform(color.NRGBA{A: bannerAlpha})
	draw.Draw(canvas, banner, shade, image.Point{}, draw.Over)

	if taskType == "" {
		taskType = "OCR"
	}
	label := fmt.Sprintf("Page: %s | Task: %s", strings.TrimSuffix(filepath.Base(srcPath), filepath.Ext(srcPath)), taskType)
	drawer := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(bounds.Min.X+10, bounds.Min.Y+25),
	}
	drawer.DrawString(label)

	out, err := os.Create(dstPath)
	if err != nil {
		return domain.IOError("create annotated image", err)
	}
	if err := jpeg.Encode(out, canvas, &jpeg.Options{Quality: a.quality}); err != nil {
		out.Close()
		os.Remove(dstPath)
		return domain.ConversionError("encode annotated image", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dstPath)
		return domain.IOError("write annotated image", err)
	}
	return nil
}
