// Package openai provides a streaming completion client for any
// OpenAI-compatible chat endpoint (vLLM, llama.cpp, the hosted API, ...).
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/codes"

	"github.com/parley-ai/parley-core/core/llms"
)

type Client struct {
	client openaisdk.Client
	model  string

	temperature float64
}

type Option func(*Client)

// WithModel pins the model name sent with every completion. Required for
// backends serving more than one model.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithDefaultTemperature sets the sampling temperature used when the caller
// does not override it per call.
func WithDefaultTemperature(temperature float64) Option {
	return func(c *Client) { c.temperature = temperature }
}

// NewClient builds a client against baseURL (the path should include /v1).
// An empty apiKey is replaced with a placeholder since self-hosted backends
// still require the header to be present.
func NewClient(baseURL string, apiKey string, opts ...Option) *Client {
	if apiKey == "" {
		apiKey = "EMPTY"
	}

	client := &Client{
		client: openaisdk.NewClient(
			option.WithBaseURL(baseURL),
			option.WithAPIKey(apiKey),
			option.WithHTTPClient(&http.Client{
				Transport: otelhttp.NewTransport(http.DefaultTransport),
			}),
		),
		temperature: 1.0,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// PromptWithStream prepares a lazy completion over the given history. No
// request is issued until the stream's Chunks sequence is consumed.
func (c *Client) PromptWithStream(messages []llms.Message, opts ...llms.StreamingPromptOption) llms.Stream {
	options := llms.StreamingPromptOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	temperature := c.temperature
	if options.Temperature != nil {
		temperature = *options.Temperature
	}

	return &stream{
		client:      c.client,
		model:       c.model,
		messages:    toOpenAIMessages(messages),
		temperature: temperature,
		tools:       options.Tools,
	}
}

type stream struct {
	client      openaisdk.Client
	model       string
	messages    []openaisdk.ChatCompletionMessageParamUnion
	temperature float64
	tools       []llms.Tool
}

func (s *stream) Chunks(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, span := tracer.Start(ctx, "llm completion stream")
		defer span.End()

		params := openaisdk.ChatCompletionNewParams{
			Model:       s.model,
			Messages:    s.messages,
			Temperature: openaisdk.Float(s.temperature),
		}
		if len(s.tools) > 0 {
			params.Tools = toOpenAITools(s.tools)
		}

		// A completion may need several round trips when the model calls
		// tools; each pass streams deltas until the model either finishes
		// the turn or asks for another tool.
		for {
			again, err := s.streamOnce(ctx, &params, yield)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				yield("", err)
				return
			}
			if !again {
				return
			}
		}
	}
}

// streamOnce runs one completion request. It reports whether another pass is
// needed because the model requested tool calls.
func (s *stream) streamOnce(
	ctx context.Context,
	params *openaisdk.ChatCompletionNewParams,
	yield func(string, error) bool,
) (bool, error) {
	completion := s.client.Chat.Completions.NewStreaming(ctx, *params)
	defer completion.Close()

	accumulator := openaisdk.ChatCompletionAccumulator{}
	for completion.Next() {
		chunk := completion.Current()
		accumulator.AddChunk(chunk)

		if len(chunk.Choices) == 0 {
			// Empty chunks happen on the first message and on usage-only
			// frames; llama.cpp also emits null deltas.
			continue
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			if !yield(content, nil) {
				return false, nil
			}
		}
	}
	if err := completion.Err(); err != nil {
		return false, fmt.Errorf("completion stream failed: %w", err)
	}

	if len(accumulator.Choices) == 0 {
		return false, nil
	}
	toolCalls := accumulator.Choices[0].Message.ToolCalls
	if len(toolCalls) == 0 {
		return false, nil
	}

	params.Messages = append(params.Messages, accumulator.Choices[0].Message.ToParam())
	for _, toolCall := range toolCalls {
		result, err := s.executeTool(ctx, toolCall.Function.Name, toolCall.Function.Arguments)
		if err != nil {
			logger.WarnContext(ctx, "tool execution failed",
				"tool", toolCall.Function.Name, "error", err)
			result = fmt.Sprintf("error: %v", err)
		}
		params.Messages = append(params.Messages, openaisdk.ToolMessage(result, toolCall.ID))
	}

	return true, nil
}

func (s *stream) executeTool(ctx context.Context, name string, arguments string) (string, error) {
	_, span := tracer.Start(ctx, "execute tool")
	defer span.End()

	for _, tool := range s.tools {
		if tool.Name == name {
			return tool.Execute(arguments)
		}
	}
	return "", fmt.Errorf("model requested unknown tool %q", name)
}

func toOpenAIMessages(messages []llms.Message) []openaisdk.ChatCompletionMessageParamUnion {
	converted := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, message := range messages {
		switch message.Role {
		case llms.RoleSystem:
			converted = append(converted, openaisdk.SystemMessage(message.Content))
		case llms.RoleAssistant:
			converted = append(converted, openaisdk.AssistantMessage(message.Content))
		default:
			converted = append(converted, openaisdk.UserMessage(message.Content))
		}
	}
	return converted
}

func toOpenAITools(tools []llms.Tool) []openaisdk.ChatCompletionToolUnionParam {
	converted := make([]openaisdk.ChatCompletionToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		converted = append(converted, openaisdk.ChatCompletionFunctionTool(openaisdk.FunctionDefinitionParam{
			Name:        tool.Name,
			Description: openaisdk.String(tool.Description),
			Parameters:  toFunctionParameters(tool.Parameters),
		}))
	}
	return converted
}

func toFunctionParameters(schema any) openaisdk.FunctionParameters {
	if schema == nil {
		return nil
	}

	marshalled, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	parameters := openaisdk.FunctionParameters{}
	if err := json.Unmarshal(marshalled, &parameters); err != nil {
		return nil
	}
	return parameters
}
