package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/jung-kurt/gofpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf2md/internal/domain"
)

func testPDF(t *testing.T, pages int) []byte {
	t.Helper()
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Helvetica", "", 14)
	for i := 1; i <= pages; i++ {
		pdf.AddPage()
		pdf.Cell(0, 10, fmt.Sprintf("Page %d of the fixture", i))
	}
	var buf bytes.Buffer
	require.NoError(t, pdf.Output(&buf))
	return buf.Bytes()
}

func TestRasterizeWritesOrderedPages(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pages")
	r := NewRasterizer(72, 80)

	images, err := r.Rasterize(context.Background(), testPDF(t, 3), dir)
	require.NoError(t, err)
	require.Len(t, images, 3)

	for i, img := range images {
		assert.Equal(t, i+1, img.PageNumber)
		assert.Equal(t, filepath.Join(dir, fmt.Sprintf("page_%03d.jpg", i+1)), img.Path)
		assert.Greater(t, img.Width, 0)
		_, err := os.Stat(img.Path)
		assert.NoError(t, err)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestRasterizeScalesWithDPI(t *testing.T) {
	data := testPDF(t, 1)

	low, err := NewRasterizer(72, 80).Rasterize(context.Background(), data, filepath.Join(t.TempDir(), "low"))
	require.NoError(t, err)
	high, err := NewRasterizer(144, 80).Rasterize(context.Background(), data, filepath.Join(t.TempDir(), "high"))
	require.NoError(t, err)

	assert.InDelta(t, low[0].Width*2, high[0].Width, 2)
}

func TestRasterizeRejectsGarbage(t *testing.T) {
	_, err := NewRasterizer(72, 80).Rasterize(context.Background(), []byte("not a pdf at all"), t.TempDir())
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConversion))
}

func TestRasterizeRejectsEmpty(t *testing.T) {
	_, err := NewRasterizer(72, 80).Rasterize(context.Background(), nil, t.TempDir())
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestRasterizeHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRasterizer(72, 80).Rasterize(ctx, testPDF(t, 2), t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}
