package gcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/disclosureflow/internal/extraction"
	"github.com/Lllllllleong/disclosureflow/internal/models"
	"github.com/Lllllllleong/disclosureflow/internal/segment"
)

// --- Extraction Model Prompts ---
const ExtractorSystemPrompt = "You are a meticulous data-entry specialist for campaign-finance audits. You read scanned financial disclosure forms and transcribe their income (ingress) and expenditure (egress) tables into structured JSON. You never invent values."

const ExtractorUserPrompt = `You will be provided with one or more scanned pages of a financial disclosure.

Transcribe every data row of the income and expenditure tables on these pages:

Ingress rows: each contribution or income line. Use "receiptNumber" for the receipt or voucher number.
Egress rows: each expense line. Use "invoiceNumber" for the invoice, receipt or voucher number.
Page numbers: set "pageNumber" to the position of the page within the pages you were given, starting at 1.
Amounts: write "total" as a plain number with a dot as decimal separator and no currency symbol.
Illegible values: omit the field and list its name in "unreadableFields". Never guess.
Ignore subtotal, total and carry-over lines, headers, signatures and stamps.
If a page has no table rows, return empty arrays.

Return ONLY a JSON object of the form {"ingress": [...], "egress": [...]}.`

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// ResponseSchema is the genai form of the output schema. The row fields are
// taken from the extraction field catalogue.
func ResponseSchema() *genai.Schema {
	return &genai.Schema{
		Type:     genai.TypeObject,
		Required: []string{models.KindIngress, models.KindEgress},
		Properties: map[string]*genai.Schema{
			models.KindIngress: rowArraySchema(extraction.IngressFields),
			models.KindEgress:  rowArraySchema(extraction.EgressFields),
		},
	}
}

func rowArraySchema(fields []extraction.Field) *genai.Schema {
	props := map[string]*genai.Schema{
		"pageNumber": {Type: genai.TypeInteger, Description: "1-based position of the page within the pages provided."},
		"unreadableFields": {
			Type:        genai.TypeArray,
			Description: "Names of fields that could not be read confidently.",
			Items:       &genai.Schema{Type: genai.TypeString},
		},
	}
	for _, f := range fields {
		t := genai.TypeString
		if f.Type == extraction.FieldNumber {
			t = genai.TypeNumber
		}
		props[f.Name] = &genai.Schema{Type: t, Description: f.Description, Nullable: true}
	}
	return &genai.Schema{
		Type:  genai.TypeArray,
		Items: &genai.Schema{Type: genai.TypeObject, Properties: props},
	}
}

// VertexExtractor reads rows off a PDF unit with a Gemini model on Vertex AI.
type VertexExtractor struct {
	model      *genai.GenerativeModel
	modelName  string
	baseClient *genai.Client
	logger     *slog.Logger
}

// NewVertexExtractor creates a client and configures the extraction model.
func NewVertexExtractor(ctx context.Context, projectID, region, modelName string, logger *slog.Logger) (*VertexExtractor, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexExtractor: projectID and region cannot be empty")
	}
	if modelName == "" {
		return nil, fmt.Errorf("NewVertexExtractor: model name cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := baseClient.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(ExtractorSystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   ResponseSchema(),
		Temperature:      genai.Ptr[float32](0.0),
	}
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	return &VertexExtractor{model: model, modelName: modelName, baseClient: baseClient, logger: logger}, nil
}

// ModelName is the model identity runs are attributed to.
func (v *VertexExtractor) ModelName() string { return v.modelName }

// Ready reports whether the extractor can be called.
func (v *VertexExtractor) Ready(context.Context) error {
	if v == nil || v.model == nil {
		return errors.New("vertex model is not configured")
	}
	return nil
}

// Extract sends the unit inline and decodes the JSON answer.
func (v *VertexExtractor) Extract(ctx context.Context, unit segment.Unit) (models.RowSet, error) {
	pdf := genai.Blob{MIMEType: "application/pdf", Data: unit.Bytes}
	resp, err := v.model.GenerateContent(ctx, pdf, genai.Text(ExtractorUserPrompt))
	if err != nil {
		return models.RowSet{}, fmt.Errorf("failed to generate content from gemini: %w", err)
	}

	text := responseText(resp, v.logger.With("ordinal", unit.Ordinal, "firstPage", unit.FirstPage))
	if text == "" {
		return models.RowSet{}, fmt.Errorf("gemini returned no content for unit %d", unit.Ordinal)
	}
	if IsRefusal(text) {
		return models.RowSet{}, fmt.Errorf("gemini response indicates refusal for unit %d", unit.Ordinal)
	}
	return extraction.DecodeRows(text, v.logger)
}

// IsRefusal reports whether model text reads like a refusal rather than data.
func IsRefusal(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse, logger *slog.Logger) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}

	var sb strings.Builder
	var textPartsFound int
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
			textPartsFound++
		}
	}
	if textPartsFound > 1 {
		logger.Warn("Gemini response contained multiple text parts; they have been concatenated.", "parts", textPartsFound)
	}
	return strings.TrimSpace(sb.String())
}

func (v *VertexExtractor) Close() error {
	if v.baseClient != nil {
		return v.baseClient.Close()
	}
	return nil
}
