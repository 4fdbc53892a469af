package notes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"vet-scribe-service/internal/models"
)

const systemPrompt = `You are a veterinary scribe. Write a SOAP note from the consult transcript.
Subjective: history and owner observations. Objective: exam findings and measurements.
Assessment: diagnosis or differentials. Plan: treatment, medication, follow-up.
Only use facts stated in the transcript. Leave a section empty if nothing supports it.`

// contentGenerator is the part of genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini generates notes with a Gemini model.
type Gemini struct {
	models contentGenerator
	model  string
}

// NewGemini creates a Gemini generator using the Gemini API backend.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{models: client.Models, model: model}, nil
}

var noteSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"subjective": {Type: genai.TypeString},
		"objective":  {Type: genai.TypeString},
		"assessment": {Type: genai.TypeString},
		"plan":       {Type: genai.TypeString},
	},
	Required: []string{"subjective", "objective", "assessment", "plan"},
}

// Generate implements Generator.
func (g *Gemini) Generate(ctx context.Context, transcript string, speakers []models.SpeakerUtterance) (models.SOAPNote, error) {
	text := formatTranscript(transcript, speakers)
	if strings.TrimSpace(text) == "" {
		return models.SOAPNote{}, ErrEmptyTranscript
	}

	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(text), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.2),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    noteSchema,
	})
	if err != nil {
		return models.SOAPNote{}, err
	}

	return parseNote(resp.Text())
}

func parseNote(raw string) (models.SOAPNote, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimSuffix(strings.TrimPrefix(raw, "```"), "```")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.SOAPNote{}, fmt.Errorf("%w: empty response", ErrBadResponse)
	}

	var note models.SOAPNote
	if err := json.Unmarshal([]byte(raw), &note); err != nil {
		return models.SOAPNote{}, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	return note, nil
}
