package services

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"pdf2md/internal/domain"
)

// Lines shorter than this that do not end a sentence are treated as the
// continuation of a wrapped line.
const shortLineRunes = 40

var sentenceEnders = []string{".", "!", "?", "。", "！", "？"}

// Assemble renders the page records, in order, into one Markdown document and
// computes the conversion summary. It performs no I/O.
//
// Image references are relative to the document: pages/<file>.
func Assemble(records []domain.PageRecord, documentName string) (string, domain.Summary) {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s - OCR Result\n", documentName)
	fmt.Fprintf(&b, "Total pages: %d\n\n", len(records))
	b.WriteString("---\n\n")

	for idx, rec := range records {
		page := idx + 1
		fmt.Fprintf(&b, "\n---\n\n## Page %d\n\n", page)

		if rec.ImagePath != "" {
			fmt.Fprintf(&b, "![Page %d original](%s)\n\n", page, pageRef(rec.ImagePath))
		}
		if rec.AnnotatedImage != "" {
			fmt.Fprintf(&b, "![Page %d annotated](%s)\n\n", page, pageRef(rec.AnnotatedImage))
		}

		if rec.Failed() {
			fmt.Fprintf(&b, "> ⚠️ **Recognition failed**: %s\n\n", rec.Error)
			continue
		}

		b.WriteString("### Recognized content\n\n")
		writeContent(&b, rec.Text)
		b.WriteString("\n")
	}

	return b.String(), Summarize(records)
}

func writeContent(b *strings.Builder, text string) {
	if strings.TrimSpace(text) == "" {
		b.WriteString("*No content recognized*\n\n")
		return
	}

	joined := JoinLines(text)
	switch {
	case LooksTabular(text):
		b.WriteString("**Contains table content**\n\n")
		b.WriteString("```\n")
		b.WriteString(joined)
		b.WriteString("\n```\n\n")
	case LooksLikeFormula(text):
		b.WriteString("**Contains formula content**\n\n")
		b.WriteString(joined)
		b.WriteString("\n\n")
	default:
		b.WriteString(joined)
		b.WriteString("\n\n")
	}
}

// LooksTabular is a substring heuristic, not a classifier: the table prompt
// echo or any pipe character is enough.
func LooksTabular(text string) bool {
	return strings.Contains(text, "Table Recognition:") || strings.Contains(text, "|")
}

// LooksLikeFormula is a substring heuristic like LooksTabular.
func LooksLikeFormula(text string) bool {
	return strings.Contains(text, "Formula") || strings.Contains(text, "$")
}

// JoinLines undoes hard wraps produced by OCR: a short line that follows an
// unfinished line is appended to it. Blank lines are kept as paragraph breaks.
func JoinLines(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	pending := ""

	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		switch {
		case strings.TrimSpace(line) == "":
			if pending != "" {
				out = append(out, pending)
				pending = ""
			}
			out = append(out, "")
		case pending != "" && utf8.RuneCountInString(line) < shortLineRunes && !endsSentence(line):
			pending += " " + line
		default:
			if pending != "" {
				out = append(out, pending)
			}
			pending = line
		}
	}
	if pending != "" {
		out = append(out, pending)
	}
	return strings.Join(out, "\n")
}

func endsSentence(line string) bool {
	for _, p := range sentenceEnders {
		if strings.HasSuffix(line, p) {
			return true
		}
	}
	return false
}

// Summarize counts pages and recognized characters. The success rate is a
// percentage with one decimal, or "0%" for an empty document.
func Summarize(records []domain.PageRecord) domain.Summary {
	s := domain.Summary{TotalPages: len(records)}
	for _, rec := range records {
		if rec.Failed() {
			s.FailedPages++
			continue
		}
		s.SuccessfulPages++
		s.TotalCharacters += utf8.RuneCountInString(rec.Text)
	}

	if s.TotalPages == 0 {
		s.SuccessRate = "0%"
	} else {
		s.SuccessRate = fmt.Sprintf("%.1f%%", float64(s.SuccessfulPages)/float64(s.TotalPages)*100)
	}
	return s
}

func pageRef(p string) string {
	return path.Join("pages", filepath.Base(p))
}
