package domain

import "time"

type TaskStatus string

const (
	StatusQueued     TaskStatus = "queued"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task types understood by the recognition engine.
const (
	TaskTypeOCR     = "ocr"
	TaskTypeTable   = "table"
	TaskTypeFormula = "formula"
	TaskTypeChart   = "chart"
)

func ValidTaskType(t string) bool {
	switch t {
	case TaskTypeOCR, TaskTypeTable, TaskTypeFormula, TaskTypeChart:
		return true
	default:
		return false
	}
}

type Task struct {
	ID         string        `json:"task_id"`
	SourceName string        `json:"filename"`
	TaskType   string        `json:"task_type"`
	Status     TaskStatus    `json:"status"`
	Progress   int           `json:"progress"`
	Message    string        `json:"message"`
	Logs       []string      `json:"logs"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	Result     *ResultBundle `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Clone returns a deep copy so callers never share the logs slice or result
// bundle with the registry.
func (t Task) Clone() Task {
	out := t
	out.Logs = append([]string(nil), t.Logs...)
	if out.Logs == nil {
		out.Logs = []string{}
	}
	if t.Result != nil {
		res := *t.Result
		res.Files.Images = append([]string(nil), t.Result.Files.Images...)
		res.Files.AnnotatedImages = append([]string(nil), t.Result.Files.AnnotatedImages...)
		out.Result = &res
	}
	return out
}

// PageRecord is the outcome of recognizing a single rasterized page. Exactly
// one of Text or Error is set.
type PageRecord struct {
	PageNumber     int    `json:"page_number"`
	ImagePath      string `json:"image_path"`
	TaskType       string `json:"task_type"`
	Text           string `json:"result,omitempty"`
	AnnotatedImage string `json:"annotated_image,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	Error          string `json:"error,omitempty"`
}

func (r PageRecord) Failed() bool {
	return r.Error != ""
}

type Summary struct {
	TotalPages      int    `json:"total_pages"`
	SuccessfulPages int    `json:"successful_pages"`
	FailedPages     int    `json:"failed_pages"`
	TotalCharacters int    `json:"total_characters"`
	SuccessRate     string `json:"success_rate"`
}

type ResultFiles struct {
	Markdown        string   `json:"markdown"`
	OCRJSON         string   `json:"ocr_json"`
	Report          string   `json:"report,omitempty"`
	Images          []string `json:"images"`
	AnnotatedImages []string `json:"annotated_images"`
}

type ResultBundle struct {
	TaskID      string      `json:"task_id"`
	PDFName     string      `json:"pdf_name"`
	ProcessedAt time.Time   `json:"processed_at"`
	Summary     Summary     `json:"summary"`
	Files       ResultFiles `json:"files"`
}
