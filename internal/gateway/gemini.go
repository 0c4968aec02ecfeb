package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/slog"
	"google.golang.org/genai"

	"github.com/jwulff/sequent/internal/logging"
)

const (
	DefaultModel   = "gemini-3-flash-preview"
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
)

// Instruction is sent with every segment. Context from the config is
// appended to it to steer terminology.
const Instruction = `You are a professional sequential interpreter working on back-to-back audio blocks of a live talk.

TASKS:
1. TRANSCRIBE: Convert the audio to text in the source language. Prioritize the human voice even in noisy rooms.
2. TRANSLATE: Translate the transcription into the target language, keeping names, organizations and technical terms accurate.
3. TONE: Keep the speaker's register. Do not summarize.
4. NO SPEECH: If there is no human speech at all, return empty strings for "original" and "translated".

Return the result strictly in JSON format.`

// Gemini interprets segments with the Gemini API through the genai SDK. The
// audio travels inline with the prompt.
type Gemini struct {
	APIKey  string
	Model   string
	BaseURL string
	// Context is extra domain guidance added to the instruction.
	Context string
	Client  *http.Client
	Logger  *slog.Logger

	once   sync.Once
	sdk    *genai.Client
	sdkErr error
}

// NewGemini returns a client with default model, endpoint and HTTP timeout.
func NewGemini(apiKey string) *Gemini {
	return &Gemini{
		APIKey:  apiKey,
		Model:   DefaultModel,
		BaseURL: DefaultBaseURL,
		Client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

// interpretation is the schema the model is asked to return. Pointers tell a
// missing field apart from an empty one.
type interpretation struct {
	Original   *string `json:"original"`
	Translated *string `json:"translated"`
}

var responseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"original": {
			Type:        genai.TypeString,
			Description: "The transcription of the original speech in the source language.",
		},
		"translated": {
			Type:        genai.TypeString,
			Description: "The translation of the speech into the target language.",
		},
	},
	PropertyOrdering: []string{"original", "translated"},
	Required:         []string{"original", "translated"},
}

// Prompt builds the text part for a request.
func (g *Gemini) Prompt(source, target string) string {
	var b strings.Builder
	b.WriteString(Instruction)
	if c := strings.TrimSpace(g.Context); c != "" {
		b.WriteString("\n\nCONTEXT:\n")
		b.WriteString(c)
	}
	fmt.Fprintf(&b, "\n\nTask: Transcribe the audio in %s and translate it to %s.", source, target)
	return b.String()
}

// client builds the SDK client on first use, after the fields are final.
func (g *Gemini) client(ctx context.Context) (*genai.Client, error) {
	g.once.Do(func() {
		base := g.BaseURL
		if base == "" {
			base = DefaultBaseURL
		}
		g.sdk, g.sdkErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:      g.APIKey,
			Backend:     genai.BackendGeminiAPI,
			HTTPClient:  g.Client,
			HTTPOptions: genai.HTTPOptions{BaseURL: base},
		})
	})
	return g.sdk, g.sdkErr
}

// Submit sends one segment.
func (g *Gemini) Submit(ctx context.Context, req Request) (Result, error) {
	log := logging.OrDiscard(g.Logger)

	sdk, err := g.client(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrGatewayFailure, err)
	}
	model := g.Model
	if model == "" {
		model = DefaultModel
	}

	contents := []*genai.Content{genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromBytes(req.Audio, req.MIMEType),
		genai.NewPartFromText(g.Prompt(req.Source.String(), req.Target.String())),
	}, genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema,
	}

	start := time.Now()
	resp, err := sdk.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return Result{}, classify(err)
	}
	text := strings.TrimSpace(resp.Text())
	log.Debug("gemini response", "model", model, "chars", len(text), "took", time.Since(start))

	if text == "" {
		return Result{}, fmt.Errorf("%w: the model returned an empty response", ErrMalformedResponse)
	}
	return parseInterpretation(text)
}

// classify maps SDK errors onto the gateway sentinels.
func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusNotFound || strings.Contains(strings.ToLower(apiErr.Message), "not found") {
			return fmt.Errorf("%w: the selected AI model is unavailable, check the API settings", ErrGatewayFailure)
		}
		return fmt.Errorf("%w: http %d: %s", ErrGatewayFailure, apiErr.Code, apiErr.Message)
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return fmt.Errorf("%w: decode envelope: %v", ErrMalformedResponse, err)
	}
	return fmt.Errorf("%w: %v", ErrGatewayFailure, err)
}

func parseInterpretation(text string) (Result, error) {
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var in interpretation
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &in); err != nil {
		return Result{}, fmt.Errorf("%w: failed to parse interpretation result: %v", ErrMalformedResponse, err)
	}
	if in.Original == nil || in.Translated == nil {
		return Result{}, fmt.Errorf("%w: interpretation result is missing a field", ErrMalformedResponse)
	}
	return Result{
		Original:   strings.TrimSpace(*in.Original),
		Translated: strings.TrimSpace(*in.Translated),
	}, nil
}
