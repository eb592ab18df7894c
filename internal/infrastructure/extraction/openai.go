package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"
	openai "github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/apexfin/invoiceflow/internal/application/port"
	"github.com/apexfin/invoiceflow/internal/domain/entity"
)

// maxVisionPages bounds how many PDF pages are sent to the vision model.
const maxVisionPages = 2

// OpenAIExtractor implements port.DocumentExtractor against the OpenAI vision
// API. PDF pages are rendered to JPEG first; images are sent as-is.
type OpenAIExtractor struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAIExtractor creates the production extraction adapter.
func NewOpenAIExtractor(apiKey, model string, logger *zap.Logger) *OpenAIExtractor {
	return &OpenAIExtractor{
		client: openai.NewClient(apiKey),
		model:  model,
		logger: logger,
	}
}

// wireResult mirrors the JSON shape the model is instructed to return.
// Amounts arrive as floats and are converted to decimals at this boundary.
type wireResult struct {
	VendorName    string `json:"vendor_name"`
	InvoiceNumber string `json:"invoice_number"`
	InvoiceDate   string `json:"invoice_date"`
	DueDate       string `json:"due_date"`
	Subtotal      float64 `json:"subtotal"`
	TaxAmount     float64 `json:"tax_amount"`
	TotalAmount   float64 `json:"total_amount"`
	Currency      string  `json:"currency"`
	LineItems     []struct {
		Description string  `json:"description"`
		Quantity    float64 `json:"quantity"`
		UnitPrice   float64 `json:"unit_price"`
		LineTotal   float64 `json:"line_total"`
		ProductCode string  `json:"product_code"`
	} `json:"line_items"`
	Confidence struct {
		Fields            map[string]entity.FieldConfidence `json:"fields"`
		OverallConfidence float64                           `json:"overall_confidence"`
	} `json:"confidence"`
}

// Extract renders the document and asks the vision model for structured
// fields plus per-field confidence.
func (e *OpenAIExtractor) Extract(ctx context.Context, content []byte, mimeType string) (*entity.ExtractionResult, error) {
	images, err := e.renderImages(content, mimeType)
	if err != nil {
		return nil, err
	}

	contentParts := []openai.ChatMessagePart{{
		Type: openai.ChatMessagePartTypeText,
		Text: extractionPrompt,
	}}
	for _, imgData := range images {
		contentParts = append(contentParts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    fmt.Sprintf("data:image/jpeg;base64,%s", base64.StdEncoding.EncodeToString(imgData)),
				Detail: openai.ImageURLDetailHigh,
			},
		})
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		MaxTokens:   4096,
		Temperature: 0.1,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are an expert at reading supplier invoices. Extract every field exactly as printed and estimate your confidence per field. Always respond with valid JSON.",
			},
			{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: contentParts,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		e.logger.Error("vision API call failed", zap.Error(err))
		return nil, fmt.Errorf("vision API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from vision API")
	}

	var wire wireResult
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &wire); err != nil {
		e.logger.Error("failed to parse extraction response",
			zap.Error(err),
			zap.String("content", resp.Choices[0].Message.Content))
		return nil, fmt.Errorf("failed to parse extraction response: %w", err)
	}

	return wire.toResult(), nil
}

// renderImages produces JPEG pages for the vision request.
func (e *OpenAIExtractor) renderImages(content []byte, mimeType string) ([][]byte, error) {
	if mimeType != "application/pdf" {
		return [][]byte{content}, nil
	}

	doc, err := fitz.NewFromMemory(content)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount > maxVisionPages {
		pageCount = maxVisionPages
	}

	var images [][]byte
	for pageNum := 0; pageNum < pageCount; pageNum++ {
		img, err := doc.Image(pageNum)
		if err != nil {
			e.logger.Warn("failed to render PDF page", zap.Int("page", pageNum), zap.Error(err))
			continue
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
			return nil, fmt.Errorf("failed to encode page %d: %w", pageNum, err)
		}
		images = append(images, buf.Bytes())
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("no pages rendered from PDF")
	}
	return images, nil
}

func (w *wireResult) toResult() *entity.ExtractionResult {
	doc := entity.ExtractedDocument{
		VendorName:    w.VendorName,
		InvoiceNumber: w.InvoiceNumber,
		InvoiceDate:   w.InvoiceDate,
		DueDate:       w.DueDate,
		Subtotal:      decimal.NewFromFloat(w.Subtotal),
		TaxAmount:     decimal.NewFromFloat(w.TaxAmount),
		TotalAmount:   decimal.NewFromFloat(w.TotalAmount),
		Currency:      w.Currency,
	}
	for _, item := range w.LineItems {
		doc.LineItems = append(doc.LineItems, entity.ExtractedLine{
			Description: item.Description,
			Quantity:    decimal.NewFromFloat(item.Quantity),
			UnitPrice:   decimal.NewFromFloat(item.UnitPrice),
			LineTotal:   decimal.NewFromFloat(item.LineTotal),
			ProductCode: item.ProductCode,
		})
	}

	confidence := entity.ConfidenceReport{
		Fields:            w.Confidence.Fields,
		OverallConfidence: w.Confidence.OverallConfidence,
	}
	if confidence.Fields == nil {
		confidence.Fields = map[string]entity.FieldConfidence{}
	}

	return &entity.ExtractionResult{Document: doc, Confidence: confidence}
}

const extractionPrompt = `Extract the invoice shown in the attached page(s) as JSON with this exact shape:
{
  "vendor_name": "", "invoice_number": "", "invoice_date": "YYYY-MM-DD",
  "due_date": "YYYY-MM-DD", "subtotal": 0, "tax_amount": 0, "total_amount": 0,
  "currency": "USD",
  "line_items": [{"description": "", "quantity": 0, "unit_price": 0, "line_total": 0, "product_code": ""}],
  "confidence": {
    "fields": {"vendor_name": {"value": "", "confidence": 0}},
    "overall_confidence": 0
  }
}
Use null-free values: empty string or 0 when a field is absent. Confidence values are in [0,1]. Report one confidence entry per top-level field.`

var _ port.DocumentExtractor = (*OpenAIExtractor)(nil)
