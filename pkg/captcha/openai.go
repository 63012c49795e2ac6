package captcha

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/entrhq/sessionpilot/pkg/types"
)

const visionPrompt = `The image is a captcha of type %q. It asks to select the two objects that have the same shape.
Answer with JSON only: {"points":[{"x":0.0,"y":0.0},{"x":0.0,"y":0.0}]}
where x and y are the centers of the two objects as fractions of the image width and height.`

// OpenAIVision solves challenges with a vision-capable chat model.
type OpenAIVision struct {
	client openai.Client
	model  string
}

// OpenAIOption configures an OpenAIVision solver.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	model   string
	baseURL string
}

// WithModel sets the chat model.
func WithModel(model string) OpenAIOption {
	return func(c *openAIConfig) { c.model = model }
}

// WithBaseURL points the client at an OpenAI-compatible API.
func WithBaseURL(baseURL string) OpenAIOption {
	return func(c *openAIConfig) { c.baseURL = baseURL }
}

// NewOpenAIVision creates a solver. The default model is gpt-4o.
func NewOpenAIVision(apiKey string, opts ...OpenAIOption) (*OpenAIVision, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	cfg := openAIConfig{model: string(openai.ChatModelGPT4o)}
	for _, opt := range opts {
		opt(&cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(1)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	return &OpenAIVision{client: openai.NewClient(reqOpts...), model: cfg.model}, nil
}

func (o *OpenAIVision) Name() string { return "openai" }

type visionAnswer struct {
	Points []Point `json:"points"`
}

// Solve sends the image with instructions and parses the JSON answer.
func (o *OpenAIVision) Solve(ctx context.Context, kind types.CaptchaType, image []byte) (*Solution, error) {
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(image)

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(fmt.Sprintf(visionPrompt, kind)),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSolverUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrSolverUnavailable)
	}

	var answer visionAnswer
	if err := json.Unmarshal([]byte(extractJSON(resp.Choices[0].Message.Content)), &answer); err != nil {
		return nil, fmt.Errorf("captcha: unparseable model answer: %w", err)
	}
	sol := &Solution{Points: answer.Points}
	if err := validate(sol); err != nil {
		return nil, err
	}
	return sol, nil
}

// extractJSON strips markdown fences and prose around a JSON object.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
