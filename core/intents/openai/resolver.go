// Package openai resolves utterances into booking intents through the
// OpenAI chat completions API, using a JSON schema response format so
// the model's answer always parses into the resolver contract.
package openai

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/koscakluka/booking-core/core/intents"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultURL   = "https://api.openai.com/v1/chat/completions"
	defaultModel = "gpt-4o-mini"
)

//go:embed resolverInstr.tmpl
var resolverSystemPrompt string

var resolverPromptTemplate = template.Must(template.New("resolver").Parse(resolverSystemPrompt))

// Resolver implements intents.Resolver against the OpenAI chat
// completions endpoint.
type Resolver struct {
	apiKey string
	model  string
	url    string
	client *http.Client
}

// NewResolver creates a resolver authenticated with apiKey.
func NewResolver(apiKey string, opts ...ResolverOption) *Resolver {
	resolver := &Resolver{
		apiKey: apiKey,
		model:  defaultModel,
		url:    defaultURL,
		client: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(resolver)
	}
	return resolver
}

type ResolverOption func(*Resolver)

// WithModel overrides the default model.
func WithModel(model string) ResolverOption {
	return func(r *Resolver) { r.model = model }
}

// WithBaseURL points the resolver at a different completions endpoint,
// such as a proxy or a test server.
func WithBaseURL(url string) ResolverOption {
	return func(r *Resolver) { r.url = url }
}

// WithHTTPClient overrides the default instrumented client.
func WithHTTPClient(client *http.Client) ResolverOption {
	return func(r *Resolver) { r.client = client }
}

// Resolve maps one utterance plus conversation context to a structured
// resolution.
func (r *Resolver) Resolve(ctx context.Context, req intents.Request) (*intents.Resolution, error) {
	ctx, span := tracer.Start(ctx, "resolve intent")
	defer span.End()

	systemPrompt, err := r.systemPrompt(req)
	if err != nil {
		err = fmt.Errorf("error rendering system prompt: %w", err)
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return nil, err
	}

	messages := []message{{Role: messageRoleSystem, Content: systemPrompt}}
	for _, turn := range req.History {
		role := messageRoleUser
		if turn.Role == intents.RoleAssistant {
			role = messageRoleAssistant
		}
		messages = append(messages, message{Role: role, Content: turn.Content})
	}
	messages = append(messages, message{Role: messageRoleUser, Content: req.RawText})

	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(structuredResolution{})

	reqBody := schemaRequestBody{
		Model:    r.model,
		Messages: messages,
		ResponseFormat: &chatResponseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchemaFormat{
				Name:   "booking_resolution",
				Schema: *schema,
				Strict: true,
			},
		},
	}

	span.SetAttributes(attribute.String("request.model", r.model))

	requestBodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		err = fmt.Errorf("error marshalling JSON: %w", err)
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", r.url, bytes.NewBuffer(requestBodyBytes))
	if err != nil {
		err = fmt.Errorf("error creating HTTP request: %w", err)
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		err = fmt.Errorf("error sending request: %w", err)
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return nil, err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		if errorBody, readErr := io.ReadAll(resp.Body); readErr == nil {
			span.SetAttributes(attribute.String("response.error", string(errorBody)))
		}
		err := fmt.Errorf("non-OK HTTP status: %s", resp.Status)
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return nil, err
	}

	respBodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("error reading response body: %w", err)
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return nil, err
	}

	var responseBody schemaResponseBody
	if err := json.Unmarshal(respBodyBytes, &responseBody); err != nil {
		err = fmt.Errorf("error unmarshalling response: %w", err)
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return nil, err
	}
	if len(responseBody.Choices) == 0 {
		err := fmt.Errorf("no choices in response")
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return nil, err
	}

	content := responseBody.Choices[0].Message.Content
	if split := strings.Split(content, "```"); len(split) > 1 {
		content = split[1]
	}

	var structured structuredResolution
	if err := json.Unmarshal([]byte(content), &structured); err != nil {
		err = fmt.Errorf("error unmarshalling structured resolution: %w", err)
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return nil, err
	}

	resolution, err := toResolution(structured, req.Timezone)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return nil, err
	}
	span.SetAttributes(attribute.String("response.intent", string(resolution.Kind)))
	return resolution, nil
}

func (r *Resolver) systemPrompt(req intents.Request) (string, error) {
	pending := ""
	if req.Pending != nil {
		pendingBytes, err := json.Marshal(req.Pending)
		if err != nil {
			return "", fmt.Errorf("error marshalling pending intent: %w", err)
		}
		pending = string(pendingBytes)
	}

	timezone := req.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	var rendered bytes.Buffer
	err := resolverPromptTemplate.Execute(&rendered, struct {
		ReferenceTime string
		Timezone      string
		Pending       string
	}{
		ReferenceTime: req.ReferenceTime.Format(time.RFC3339),
		Timezone:      timezone,
		Pending:       pending,
	})
	if err != nil {
		return "", err
	}
	return rendered.String(), nil
}

// structuredResolution is the schema the model must fill. Absent
// optional fields mean the user did not state them.
type structuredResolution struct {
	Intent          string         `json:"intent" jsonschema:"title=Intent,description=What the user wants from the latest message,enum=create,enum=reschedule,enum=cancel,enum=confirm,enum=decline,enum=clarify,enum=reset,enum=unknown"`
	Title           *extractedText `json:"title,omitempty" jsonschema:"description=Title for the event being created"`
	StartTime       *extractedTime `json:"start_time,omitempty" jsonschema:"description=Requested start as RFC 3339"`
	EndTime         *extractedTime `json:"end_time,omitempty" jsonschema:"description=Requested end as RFC 3339"`
	DurationMinutes *extractedInt  `json:"duration_minutes,omitempty" jsonschema:"description=Requested duration in minutes"`
	EventReference  *extractedText `json:"event_reference,omitempty" jsonschema:"description=The user's description of an existing event"`
	Choice          *extractedInt  `json:"choice,omitempty" jsonschema:"description=1-based pick from the most recently offered list"`
}

type extractedText struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence" jsonschema:"minimum=0,maximum=1"`
}

type extractedTime struct {
	Value      string  `json:"value" jsonschema:"description=RFC 3339 timestamp"`
	Confidence float64 `json:"confidence" jsonschema:"minimum=0,maximum=1"`
}

type extractedInt struct {
	Value      int     `json:"value"`
	Confidence float64 `json:"confidence" jsonschema:"minimum=0,maximum=1"`
}

func toResolution(structured structuredResolution, timezone string) (*intents.Resolution, error) {
	kind := intents.Kind(structured.Intent)
	switch kind {
	case intents.KindCreate, intents.KindReschedule, intents.KindCancel,
		intents.KindConfirm, intents.KindDecline, intents.KindClarify,
		intents.KindReset, intents.KindUnknown:
	default:
		kind = intents.KindUnknown
	}

	resolution := &intents.Resolution{Kind: kind, Fields: map[intents.Field]intents.Value{}}

	if structured.Title != nil {
		resolution.Fields[intents.FieldTitle] = intents.Value{
			Text:       structured.Title.Value,
			Confidence: structured.Title.Confidence,
		}
	}
	if structured.EventReference != nil {
		resolution.Fields[intents.FieldEventRef] = intents.Value{
			Text:       structured.EventReference.Value,
			Confidence: structured.EventReference.Confidence,
		}
	}
	if structured.Choice != nil {
		resolution.Fields[intents.FieldChoice] = intents.Value{
			Choice:     structured.Choice.Value,
			Confidence: structured.Choice.Confidence,
		}
	}
	if structured.DurationMinutes != nil {
		duration := time.Duration(structured.DurationMinutes.Value) * time.Minute
		resolution.Fields[intents.FieldDuration] = intents.Value{
			Duration:   &duration,
			Confidence: structured.DurationMinutes.Confidence,
		}
	}

	for field, extracted := range map[intents.Field]*extractedTime{
		intents.FieldStartTime: structured.StartTime,
		intents.FieldEndTime:   structured.EndTime,
	} {
		if extracted == nil {
			continue
		}
		parsed, err := parseTime(extracted.Value, timezone)
		if err != nil {
			return nil, fmt.Errorf("error parsing %s: %w", field, err)
		}
		resolution.Fields[field] = intents.Value{
			Time:       &parsed,
			Confidence: extracted.Confidence,
		}
	}

	return resolution, nil
}

// parseTime accepts RFC 3339, falling back to a zone-less timestamp
// interpreted in the session's timezone when the model omits the
// offset.
func parseTime(value string, timezone string) (time.Time, error) {
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed, nil
	}

	location := time.UTC
	if timezone != "" {
		if loaded, err := time.LoadLocation(timezone); err == nil {
			location = loaded
		}
	}
	return time.ParseInLocation("2006-01-02T15:04:05", value, location)
}

type message struct {
	Role    messageRole `json:"role"`
	Content string      `json:"content"`
}

type messageRole string

const (
	messageRoleSystem    messageRole = "system"
	messageRoleUser      messageRole = "user"
	messageRoleAssistant messageRole = "assistant"
)

type schemaRequestBody struct {
	Model          string              `json:"model"`
	Messages       []message           `json:"messages"`
	ResponseFormat *chatResponseFormat `json:"response_format,omitempty"`
}

type chatResponseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type jsonSchemaFormat struct {
	Name   string            `json:"name"`
	Schema jsonschema.Schema `json:"schema"`
	Strict bool              `json:"strict"`
}

type schemaResponseBody struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"message"`
		FinishReason *string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
