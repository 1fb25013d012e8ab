package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"pdf2md/internal/domain"
)

// ReportService renders a one-document PDF summarizing a conversion run.
type ReportService struct{}

func NewReportService() *ReportService {
	return &ReportService{}
}

func (s *ReportService) GenerateReport(bundle domain.ResultBundle, records []domain.PageRecord, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("ensure report directory: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(tr(fmt.Sprintf("Conversion report %s", bundle.PDFName)), false)
	pdf.SetAuthor("pdf2md", false)
	pdf.AddPage()

	title := bundle.PDFName
	if strings.TrimSpace(title) == "" {
		title = "Document"
	}

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, tr(title))
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 6, fmt.Sprintf("Task: %s", bundle.TaskID))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Processed at: %s", bundle.ProcessedAt.Local().Format("02/01/2006 15:04")))
	pdf.Ln(12)

	sum := bundle.Summary
	s.writeSection(pdf, tr, "Summary", []string{
		fmt.Sprintf("Total pages: %d", sum.TotalPages),
		fmt.Sprintf("Successful pages: %d", sum.SuccessfulPages),
		fmt.Sprintf("Failed pages: %d", sum.FailedPages),
		fmt.Sprintf("Recognized characters: %d", sum.TotalCharacters),
		fmt.Sprintf("Success rate: %s", sum.SuccessRate),
	})
	pdf.Ln(8)

	pages := make([]string, 0, len(records))
	for idx, rec := range records {
		if rec.Failed() {
			pages = append(pages, fmt.Sprintf("Page %d: failed - %s", idx+1, rec.Error))
			continue
		}
		pages = append(pages, fmt.Sprintf("Page %d: %d characters", idx+1, len([]rune(rec.Text))))
	}
	s.writeSection(pdf, tr, "Pages", pages)

	if err := pdf.OutputFileAndClose(outPath); err != nil {
		return fmt.Errorf("write report pdf: %w", err)
	}

	return nil
}

func (s *ReportService) writeSection(pdf *gofpdf.Fpdf, tr func(string) string, title string, lines []string) {
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 8, title)
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "", 12)

	if len(lines) == 0 {
		pdf.MultiCell(0, 6, "(empty)", "", "L", false)
		return
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pdf.MultiCell(0, 6, tr(fmt.Sprintf("• %s", line)), "", "L", false)
	}
}
