package services

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"pdf2md/internal/domain"
)

func init() {
	// pdfcpu would otherwise create a config dir under the user's home.
	api.DisableConfigDir()
}

// PageImage is one rasterized page on disk.
type PageImage struct {
	PageNumber int
	Path       string
	Width      int
	Height     int
}

// Rasterizer renders every page of a PDF to JPEG files named page_001.jpg,
// page_002.jpg, ... so lexical order matches page order.
type Rasterizer struct {
	dpi     int
	quality int
}

func NewRasterizer(dpi, quality int) *Rasterizer {
	return &Rasterizer{dpi: dpi, quality: quality}
}

func (r *Rasterizer) Rasterize(ctx context.Context, pdfData []byte, outDir string) ([]PageImage, error) {
	if err := preflight(pdfData); err != nil {
		return nil, err
	}

	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, domain.ConversionError("failed to open PDF", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, domain.ValidationError("PDF has no pages", nil)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, domain.IOError("failed to create pages directory", err)
	}

	images := make([]PageImage, 0, pageCount)
	opts := &jpeg.Options{Quality: r.quality}

	for pageNum := 0; pageNum < pageCount; pageNum++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := doc.ImageDPI(pageNum, float64(r.dpi))
		if err != nil {
			return nil, domain.ConversionError(fmt.Sprintf("failed to render page %d", pageNum+1), err)
		}

		outputPath := filepath.Join(outDir, fmt.Sprintf("page_%03d.jpg", pageNum+1))
		outputFile, err := os.Create(outputPath)
		if err != nil {
			return nil, domain.IOError(fmt.Sprintf("failed to create output file for page %d", pageNum+1), err)
		}

		err = jpeg.Encode(outputFile, img, opts)
		closeErr := outputFile.Close()
		if err != nil {
			return nil, domain.ConversionError(fmt.Sprintf("failed to encode page %d as JPG", pageNum+1), err)
		}
		if closeErr != nil {
			return nil, domain.IOError(fmt.Sprintf("failed to write page %d", pageNum+1), closeErr)
		}

		bounds := img.Bounds()
		images = append(images, PageImage{
			PageNumber: pageNum + 1,
			Path:       outputPath,
			Width:      bounds.Dx(),
			Height:     bounds.Dy(),
		})
	}

	return images, nil
}

// preflight validates the document structure before any rendering happens so
// corrupt uploads fail with a readable cause.
func preflight(pdfData []byte) error {
	if len(pdfData) == 0 {
		return domain.ValidationError("PDF file is empty", nil)
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	count, err := api.PageCount(bytes.NewReader(pdfData), conf)
	if err != nil {
		return domain.ConversionError("invalid or corrupt PDF", err)
	}
	if count == 0 {
		return domain.ValidationError("PDF has no pages", nil)
	}
	return nil
}
