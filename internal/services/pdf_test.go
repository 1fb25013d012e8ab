package services

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pdf2md/internal/domain"
)

func TestGenerateReport(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nested", "report.pdf")
	records := []domain.PageRecord{
		{PageNumber: 1, Text: "Bonjour à tous"},
		{PageNumber: 2, Error: "timeout"},
	}
	bundle := domain.ResultBundle{
		TaskID:      "t1",
		PDFName:     "Résumé",
		ProcessedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Summary:     Summarize(records),
	}

	if err := NewReportService().GenerateReport(bundle, records, out); err != nil {
		t.Fatalf("generate report: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Fatalf("report is not a pdf")
	}
}

func TestGenerateReportEmptyDocument(t *testing.T) {
	out := filepath.Join(t.TempDir(), "report.pdf")
	bundle := domain.ResultBundle{TaskID: "t2", Summary: Summarize(nil)}

	if err := NewReportService().GenerateReport(bundle, nil, out); err != nil {
		t.Fatalf("generate report: %v", err)
	}
	if info, err := os.Stat(out); err != nil || info.Size() == 0 {
		t.Fatalf("expected non-empty report, err=%v", err)
	}
}
