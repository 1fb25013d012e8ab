package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"

	"pdf2md/internal/config"
	"pdf2md/internal/domain"
)

var taskPrompts = map[string]string{
	domain.TaskTypeOCR:     "OCR with format:",
	domain.TaskTypeTable:   "Table Recognition:",
	domain.TaskTypeFormula: "Formula Recognition:",
	domain.TaskTypeChart:   "Chart Recognition:",
}

// PromptFor maps a task type to the instruction sent with the page image.
// Unknown types fall back to structured OCR.
func PromptFor(taskType string) string {
	if p, ok := taskPrompts[taskType]; ok {
		return p
	}
	return taskPrompts[domain.TaskTypeOCR]
}

// Recognizer talks to an OpenAI-compatible vision endpoint serving the OCR
// model. It is built once, shared by every task and never re-created. Calls
// are serialized because the backing model is a single instance.
type Recognizer struct {
	cfg config.OCRConfig

	readyMu sync.Mutex
	client  *openai.Client

	callMu sync.Mutex
}

func NewRecognizer(cfg config.OCRConfig) *Recognizer {
	return &Recognizer{cfg: cfg}
}

// EnsureReady builds the client and confirms the model is served. It is
// idempotent: once it succeeds, later calls return immediately.
func (r *Recognizer) EnsureReady(ctx context.Context) error {
	r.readyMu.Lock()
	defer r.readyMu.Unlock()

	if r.client != nil {
		return nil
	}

	clientCfg := openai.DefaultConfig(r.cfg.APIKey)
	if r.cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(r.cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: r.cfg.Timeout}
	client := openai.NewClientWithConfig(clientCfg)

	models, err := client.ListModels(ctx)
	if err != nil {
		return domain.RecognitionError("ocr model endpoint unavailable", err)
	}
	found := false
	for _, m := range models.Models {
		if m.ID == r.cfg.Model {
			found = true
			break
		}
	}
	if !found {
		return domain.RecognitionError(fmt.Sprintf("model %s is not served by the ocr endpoint", r.cfg.Model), nil)
	}

	r.client = client
	return nil
}

func (r *Recognizer) Ready() bool {
	r.readyMu.Lock()
	defer r.readyMu.Unlock()
	return r.client != nil
}

// Recognize runs one inference call for the page image and returns the text.
func (r *Recognizer) Recognize(ctx context.Context, imagePath, taskType string) (string, error) {
	if err := r.EnsureReady(ctx); err != nil {
		return "", err
	}

	dataURL, err := imageDataURL(imagePath)
	if err != nil {
		return "", err
	}

	req := openai.ChatCompletionRequest{
		Model:       r.cfg.Model,
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailHigh,
						},
					},
					{
						Type: openai.ChatMessagePartTypeText,
						Text: PromptFor(taskType),
					},
				},
			},
		},
	}

	r.callMu.Lock()
	defer r.callMu.Unlock()

	callCtx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	resp, err := r.client.CreateChatCompletion(callCtx, req)
	if err != nil {
		return "", domain.RecognitionError("ocr inference failed", decodeAPIError(err))
	}
	if len(resp.Choices) == 0 {
		return "", domain.RecognitionError("ocr inference returned no choices", nil)
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func imageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", domain.IOError(fmt.Sprintf("read page image %s", filepath.Base(path)), err)
	}
	mime := "image/jpeg"
	if strings.EqualFold(filepath.Ext(path), ".png") {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func decodeAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("ocr api error: status %d type %s message %s", apiErr.HTTPStatusCode, apiErr.Type, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("ocr api error: status %d: %w", reqErr.HTTPStatusCode, reqErr.Err)
	}
	return err
}
