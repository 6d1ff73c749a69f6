package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/cil"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/telemetry"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/timeparsing"
)

var (
	// ErrAPIKeyRequired is returned when no Anthropic key is configured.
	ErrAPIKeyRequired = errors.New("API key required")
	// ErrTemporary marks a rate limit, server error or network timeout.
	ErrTemporary = errors.New("extractor temporarily unavailable")
)

// AnthropicOptions configures the model-backed extractor.
type AnthropicOptions struct {
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	Logger     *zap.Logger
	// ClientOptions are appended to the SDK client options (tests point
	// the client at a local server).
	ClientOptions []option.RequestOption
}

// Anthropic asks a Claude model to fill the candidate fields.
type Anthropic struct {
	client  anthropic.Client
	model   anthropic.Model
	timeout time.Duration
	prompt  *template.Template
	log     *zap.Logger
	now     func() time.Time
}

// NewAnthropic creates the extractor. ANTHROPIC_API_KEY takes precedence
// over opts.APIKey.
func NewAnthropic(opts AnthropicOptions) (*Anthropic, error) {
	apiKey := opts.APIKey
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or extract.api-key", ErrAPIKeyRequired)
	}
	if opts.Model == "" {
		opts.Model = "claude-3-5-haiku-20241022"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	tmpl, err := template.New("extract").Parse(promptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt template: %w", err)
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(opts.MaxRetries)}
	clientOpts = append(clientOpts, opts.ClientOptions...)

	return &Anthropic{
		client:  anthropic.NewClient(clientOpts...),
		model:   anthropic.Model(opts.Model),
		timeout: opts.Timeout,
		prompt:  tmpl,
		log:     opts.Logger,
		now:     time.Now,
	}, nil
}

type promptField struct {
	Name     string
	Kind     string
	Required bool
}

type promptType struct {
	Type    cil.Type
	Example string
	Fields  []promptField
}

type promptData struct {
	Today string
	Hint  cil.Type
	Text  string
	Types []promptType
}

var kindNames = map[cil.FieldKind]string{
	cil.Text:          "text",
	cil.Ref:           "name or id",
	cil.Money:         "integer cents",
	cil.PositiveMoney: "integer cents > 0",
	cil.PositiveInt:   "integer > 0",
	cil.Date:          "YYYY-MM-DD",
}

func (a *Anthropic) render(text string, hint cil.Type) (string, error) {
	data := promptData{Today: a.now().Format(timeparsing.DateLayout), Hint: hint, Text: text}
	for _, t := range cil.Types() {
		s, _ := cil.Lookup(t)
		pt := promptType{Type: t, Example: s.Example}
		for _, f := range s.Fields {
			if f.Name == "job_id" {
				continue
			}
			pt.Fields = append(pt.Fields, promptField{Name: f.Name, Kind: kindNames[f.Kind], Required: f.Required})
		}
		data.Types = append(data.Types, pt)
	}
	var buf bytes.Buffer
	if err := a.prompt.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (a *Anthropic) Extract(ctx context.Context, text string, hint cil.Type) (c *Candidate, err error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	prompt, err := a.render(text, hint)
	if err != nil {
		return nil, fmt.Errorf("failed to render prompt: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	tracer := telemetry.Tracer("github.com/ScottJutras/chief-ai-refactored-sub001/extract")
	ctx, span := tracer.Start(ctx, "anthropic.messages.new")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("chief.ai.model", string(a.model)))

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 512,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		if isRetryable(err) {
			return nil, fmt.Errorf("extract: %w: %v", ErrTemporary, err)
		}
		return nil, fmt.Errorf("extract: %w", err)
	}
	span.SetAttributes(
		attribute.Int64("chief.ai.input_tokens", message.Usage.InputTokens),
		attribute.Int64("chief.ai.output_tokens", message.Usage.OutputTokens),
	)

	if len(message.Content) == 0 {
		return nil, fmt.Errorf("unexpected response format: no content blocks")
	}
	content := message.Content[0]
	if content.Type != "text" {
		return nil, fmt.Errorf("unexpected response format: not a text block (type=%s)", content.Type)
	}
	return parseReply(content.Text)
}

type modelReply struct {
	Type   *string        `json:"type"`
	Fields map[string]any `json:"fields"`
}

// parseReply reads the JSON object in the model's answer. A null or unknown
// type means "not a command".
func parseReply(text string) (*Candidate, error) {
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("model reply has no JSON object")
	}
	dec := json.NewDecoder(strings.NewReader(text[start : end+1]))
	dec.UseNumber()
	var r modelReply
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("decode model reply: %w", err)
	}
	if r.Type == nil {
		return nil, nil
	}
	typ := cil.Type(*r.Type)
	if _, ok := cil.Lookup(typ); !ok {
		return nil, nil
	}
	if r.Fields == nil {
		r.Fields = map[string]any{}
	}
	return &Candidate{Type: typ, Fields: r.Fields}, nil
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

const promptTemplate = `You convert short text messages from a contractor into bookkeeping commands.

Today is {{.Today}}.{{if .Hint}} The conversation is waiting for a {{.Hint}} command.{{end}}

Command types and their fields:
{{range .Types}}
{{.Type}} (e.g. "{{.Example}}"):
{{- range .Fields}}
  - {{.Name}}: {{.Kind}}{{if .Required}}, required{{end}}
{{- end}}
{{end}}
Rules:
- Money is integer cents: "84.12" is 8412. Never use decimals.
- Dates are YYYY-MM-DD; resolve words like "yesterday" against today.
- Only include fields the message states. Do not invent values.
- If the message is not one of these commands, answer {"type": null}.

Answer with one JSON object and nothing else:
{"type": "<command type>", "fields": {...}}

Message: {{.Text}}`
