package translate

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	apperrors "github.com/GriffinCanCode/subvoice/internal/errors"
)

// ProviderConfig configures an OpenAI-compatible chat completion endpoint.
type ProviderConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Prompt      string // system message
	Temperature float64
	MaxTokens   int
}

// OpenAI translates through the chat completions API. It works against any
// compatible endpoint, DeepSeek by default.
type OpenAI struct {
	client openai.Client
	cfg    ProviderConfig
}

func NewOpenAI(cfg ProviderConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.New(apperrors.ConfigMissing, "translation api key not set")
	}
	if cfg.Model == "" {
		return nil, apperrors.New(apperrors.ConfigInvalid, "translation model not set")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0), // a stale line is worth less than the next one
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...), cfg: cfg}, nil
}

// Model returns the configured model name.
func (o *OpenAI) Model() string { return o.cfg.Model }

func (o *OpenAI) Translate(ctx context.Context, text string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(o.cfg.Prompt),
			openai.UserMessage(text),
		},
	}
	if o.cfg.Temperature > 0 {
		params.Temperature = openai.Float(o.cfg.Temperature)
	}
	if o.cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(o.cfg.MaxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.New(apperrors.TranslateFailed, "provider returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(err, apperrors.Timeout, "translation timed out")
	}
	if errors.Is(err, context.Canceled) {
		return apperrors.Wrap(err, apperrors.Cancelled, "translation cancelled")
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		code := apperrors.TranslateFailed
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
			code = apperrors.Unavailable
		}
		return apperrors.Wrapf(err, code, "provider returned %d", apiErr.StatusCode)
	}
	return apperrors.Wrap(err, apperrors.Unavailable, "provider request")
}
