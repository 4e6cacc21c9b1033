package aiservice

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/vidsight/internal/logging"
)

// OpenAIConfig configures an OpenAI-compatible chat endpoint that accepts
// video_url content parts (for example DashScope compatible mode).
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string

	// RateLimit is the sustained requests per second. Zero disables limiting.
	RateLimit float64
	RateBurst int

	// MaxRetries is passed to the client. Default: 0, the pipeline does not retry.
	MaxRetries int

	HTTPClient *http.Client
}

// OpenAIAnalyzer implements Analyzer and Summarizer with chat completions.
type OpenAIAnalyzer struct {
	client  openai.Client
	model   string
	limiter *rate.Limiter
	logger  *logging.Logger
	tracer  trace.Tracer
}

var (
	_ Analyzer   = (*OpenAIAnalyzer)(nil)
	_ Summarizer = (*OpenAIAnalyzer)(nil)
)

// NewOpenAIAnalyzer creates an analyzer for cfg.
func NewOpenAIAnalyzer(cfg OpenAIConfig, logger *logging.Logger) (*OpenAIAnalyzer, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" || cfg.Model == "" {
		return nil, fmt.Errorf("base url and model are required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}

	opts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &OpenAIAnalyzer{
		client:  openai.NewClient(opts...),
		model:   cfg.Model,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
	}, nil
}

func (a *OpenAIAnalyzer) modelFor(requested string) string {
	if requested != "" {
		return requested
	}
	return a.model
}

// Analyze streams a chat completion over the window's video URL. The
// typed params have no video part, so the user message content is
// replaced with a raw text + video_url array.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, req AnalyzeRequest) (*Stream, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	model := a.modelFor(req.Model)
	prompt := analysisPrompt(req)
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(analysisSystemPrompt),
			openai.UserMessage(prompt),
		},
	}
	content := []map[string]any{
		{"type": "text", "text": prompt},
		{"type": "video_url", "video_url": map[string]any{"url": req.VideoURL}},
	}

	return NewStream(ctx, func(ctx context.Context, emit Emitter) error {
		ctx, span := a.tracer.Start(ctx, "aiservice.openai.Analyze", trace.WithAttributes(
			attribute.String("session.id", req.SessionID),
			attribute.Int("window.index", req.WindowIndex),
			attribute.String("model", model),
		))
		defer span.End()

		start := time.Now()
		stream := a.client.Chat.Completions.NewStreaming(ctx, params,
			option.WithJSONSet("messages.1.content", content))
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				final := choice.FinishReason != ""
				if choice.Delta.Content == "" && !final {
					continue
				}
				if err := emit(Delta{Content: choice.Delta.Content, Final: final}); err != nil {
					return err
				}
			}
		}
		if err := stream.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "stream failed")
			return fmt.Errorf("openai stream: %w", err)
		}
		a.logger.Debug(ctx, "analysis stream finished",
			zap.String("model", model),
			zap.Duration("elapsed", time.Since(start)),
		)
		return nil
	}), nil
}

func (a *OpenAIAnalyzer) complete(ctx context.Context, system, user, model string) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}
	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(a.modelFor(model)),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion: no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (a *OpenAIAnalyzer) GenerateTitle(ctx context.Context, req SummaryRequest) (string, error) {
	ctx, span := a.tracer.Start(ctx, "aiservice.openai.GenerateTitle")
	defer span.End()
	return a.complete(ctx, titleSystemPrompt, summaryPrompt(req), req.Model)
}

func (a *OpenAIAnalyzer) ExtractUserMemory(ctx context.Context, req SummaryRequest) (string, error) {
	ctx, span := a.tracer.Start(ctx, "aiservice.openai.ExtractUserMemory")
	defer span.End()
	out, err := a.complete(ctx, memorySystemPrompt, summaryPrompt(req), req.Model)
	if err != nil {
		return "", err
	}
	// Models sometimes fence JSON despite being told not to.
	out = strings.TrimPrefix(out, "```json")
	out = strings.TrimPrefix(out, "```")
	out = strings.TrimSuffix(out, "```")
	return strings.TrimSpace(out), nil
}
