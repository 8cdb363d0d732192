package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"backend-go-chat-gateway/internal/config"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
	ProviderOpenAI     = "openai"
	// ProviderMock answers deterministically without any upstream.
	ProviderMock = "mock"
)

const (
	defaultOllamaBaseURL     = "http://localhost:11434"
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// sharedHTTPClient pools connections and traces every outbound model call.
// Request deadlines come from the caller's context.
var sharedHTTPClient = newSharedHTTPClient()

func newSharedHTTPClient() *http.Client {
	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: otelhttp.NewTransport(base)}
}

// New builds the Model selected by cfg.Provider.
func New(cfg config.LLMConfig) (Model, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case ProviderMock, "":
		return NewMock(), nil

	case ProviderOllama:
		base := cfg.BaseURL
		if base == "" {
			base = defaultOllamaBaseURL
		}
		oc := openai.DefaultConfig("")
		oc.BaseURL = normalizeOllamaBaseURL(base)
		oc.HTTPClient = sharedHTTPClient
		return newOpenAIModel(oc, orDefault(cfg.Model, "llama3")), nil

	case ProviderOpenRouter:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("LLM_API_KEY is required when LLM_PROVIDER=openrouter")
		}
		oc := openai.DefaultConfig(cfg.APIKey)
		oc.BaseURL = orDefault(cfg.BaseURL, defaultOpenRouterBaseURL)
		oc.HTTPClient = sharedHTTPClient
		return newOpenAIModel(oc, orDefault(cfg.Model, "mistralai/mistral-7b-instruct:free")), nil

	case ProviderOpenAI:
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, fmt.Errorf("LLM_API_KEY is required when LLM_PROVIDER=openai")
		}
		oc := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
		}
		oc.HTTPClient = sharedHTTPClient
		return newOpenAIModel(oc, orDefault(cfg.Model, "gpt-4o-mini")), nil

	default:
		return nil, fmt.Errorf("unsupported LLM_PROVIDER=%q (supported: openrouter, ollama, openai, mock)", provider)
	}
}

func normalizeOllamaBaseURL(base string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// openAIModel speaks the OpenAI-compatible chat API.
type openAIModel struct {
	client *openai.Client
	model  string
}

func newOpenAIModel(cfg openai.ClientConfig, model string) *openAIModel {
	return &openAIModel{client: openai.NewClientWithConfig(cfg), model: model}
}

func (m *openAIModel) request(req Request, stream bool) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content})
	}
	out := openai.ChatCompletionRequest{
		Model:       m.model,
		Messages:    msgs,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if req.JSON {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	return out
}

func (m *openAIModel) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := m.client.CreateChatCompletion(ctx, m.request(req, false))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("upstream returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (m *openAIModel) Stream(ctx context.Context, req Request) (DeltaStream, error) {
	s, err := m.client.CreateChatCompletionStream(ctx, m.request(req, true))
	if err != nil {
		return nil, err
	}
	return &openAIStream{s: s}, nil
}

type openAIStream struct {
	s *openai.ChatCompletionStream
}

func (o *openAIStream) Recv() (string, error) {
	for {
		resp, err := o.s.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", err
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		return resp.Choices[0].Delta.Content, nil
	}
}

func (o *openAIStream) Close() error {
	o.s.Close()
	return nil
}
