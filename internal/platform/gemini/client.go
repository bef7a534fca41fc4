package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/phrazzld/moments-api/internal/config"
	"github.com/phrazzld/moments-api/internal/domain"
	"github.com/phrazzld/moments-api/internal/inference"
	"google.golang.org/genai"
)

// Client implements inference.VisionModel and inference.TextModel.
type Client struct {
	logger *slog.Logger
	config config.LLMConfig
	models *genai.Models

	visionPrompt   string
	scenarioPrompt string

	// sleep is replaced in tests to skip backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

var (
	_ inference.VisionModel = (*Client)(nil)
	_ inference.TextModel   = (*Client)(nil)
)

// Option customises a Client.
type Option func(*genai.ClientConfig)

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(url string) Option {
	return func(cc *genai.ClientConfig) {
		cc.HTTPOptions.BaseURL = url
	}
}

// NewClient validates cfg, loads the system prompts and connects to Gemini.
func NewClient(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig, opts ...Option) (*Client, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", inference.ErrInvalidConfig)
	}
	if cfg.VisionModel == "" || cfg.TextModel == "" {
		return nil, fmt.Errorf("%w: vision and text model names are required", inference.ErrInvalidConfig)
	}

	visionPrompt, err := loadPrompt(cfg.VisionPromptPath, DefaultVisionSystemPrompt)
	if err != nil {
		return nil, err
	}
	scenarioPrompt, err := loadPrompt(cfg.ScenarioPromptPath, "")
	if err != nil {
		return nil, err
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.RequestTimeoutSeconds > 0 {
		timeout := cfg.RequestTimeout()
		clientConfig.HTTPOptions.Timeout = &timeout
	}
	for _, opt := range opts {
		opt(clientConfig)
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", inference.ErrInvalidConfig, err)
	}

	return &Client{
		logger:         logger,
		config:         cfg,
		models:         client.Models,
		visionPrompt:   visionPrompt,
		scenarioPrompt: scenarioPrompt,
		sleep:          sleepContext,
	}, nil
}

// DescribeImage asks the vision model for a factual description of image.
func (c *Client) DescribeImage(ctx context.Context, image domain.Image) (string, inference.Usage, error) {
	if len(image.Data) == 0 {
		return "", inference.Usage{}, domain.ErrImageRequired
	}
	mimeType := image.MIMEType
	if mimeType == "" {
		mimeType = domain.DefaultImageMIMEType
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromBytes(image.Data, mimeType)}, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(c.visionPrompt, genai.RoleUser),
	}

	return c.generateWithRetry(ctx, c.config.VisionModel, contents, cfg)
}

// Complete sends prompt to the text model, preceded by the scenario prompt
// when one is configured.
func (c *Client) Complete(ctx context.Context, prompt string) (string, inference.Usage, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", inference.Usage{}, fmt.Errorf("%w: prompt cannot be empty", inference.ErrInvalidResponse)
	}

	system := []*genai.Part{}
	if c.scenarioPrompt != "" {
		system = append(system, genai.NewPartFromText(c.scenarioPrompt))
	}
	system = append(system, genai.NewPartFromText(TextSystemPrompt))

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromParts(system, genai.RoleUser),
	}

	return c.generateWithRetry(ctx, c.config.TextModel, genai.Text(prompt), cfg)
}

// ModelName implements inference.TextModel.
func (c *Client) ModelName() string {
	return c.config.TextModel
}

// generateWithRetry calls the model up to MaxRetries+1 times, backing off
// exponentially with jitter between transient failures. Blocked content and
// malformed replies are returned immediately.
func (c *Client) generateWithRetry(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	cfg *genai.GenerateContentConfig,
) (string, inference.Usage, error) {
	maxRetries := c.config.MaxRetries
	if maxRetries < 0 {
		maxRetries = 3
	}
	baseDelay := time.Duration(c.config.RetryDelaySeconds) * time.Second
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	log := c.logger.With("model", model)

	for attempt := 0; ; attempt++ {
		log.DebugContext(ctx, "calling Gemini", "attempt", attempt+1, "max_attempts", maxRetries+1)

		resp, err := c.models.GenerateContent(ctx, model, contents, cfg)
		if err != nil {
			err = classifyAPIError(err)
		} else {
			var text string
			var usage inference.Usage
			text, usage, err = parseResponse(resp)
			if err == nil {
				log.DebugContext(ctx, "Gemini call succeeded",
					"attempt", attempt+1,
					"total_tokens", usage.TotalTokens)
				return text, usage, nil
			}
		}

		if !errors.Is(err, inference.ErrTransient) {
			log.WarnContext(ctx, "permanent Gemini error, not retrying", "error", err)
			return "", inference.Usage{}, err
		}
		if attempt >= maxRetries {
			log.WarnContext(ctx, "maximum Gemini retry attempts reached", "max_retries", maxRetries, "error", err)
			return "", inference.Usage{}, fmt.Errorf("exceeded maximum retry attempts (%d): %w", maxRetries, err)
		}

		// delay = base * 2^attempt * [0.5, 1.0)
		delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt)) * (0.5 + rng.Float64()*0.5))
		log.InfoContext(ctx, "retrying Gemini call after delay", "attempt", attempt+1, "delay", delay.String())
		if err := c.sleep(ctx, delay); err != nil {
			return "", inference.Usage{}, fmt.Errorf("%w: %v", inference.ErrTransient, err)
		}
	}
}

func parseResponse(resp *genai.GenerateContentResponse) (string, inference.Usage, error) {
	if resp == nil {
		return "", inference.Usage{}, fmt.Errorf("%w: nil response", inference.ErrInvalidResponse)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", inference.Usage{}, fmt.Errorf("%w: prompt blocked (%s)",
			inference.ErrContentBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", inference.Usage{}, fmt.Errorf("%w: no candidates returned", inference.ErrInvalidResponse)
	}
	if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return "", inference.Usage{}, fmt.Errorf("%w: content blocked by safety filters", inference.ErrContentBlocked)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", inference.Usage{}, fmt.Errorf("%w: no reply content returned", inference.ErrInvalidResponse)
	}

	var usage inference.Usage
	if md := resp.UsageMetadata; md != nil {
		usage = inference.Usage{
			InputTokens:  int(md.PromptTokenCount),
			OutputTokens: int(md.CandidatesTokenCount),
			TotalTokens:  int(md.TotalTokenCount),
		}
	}
	return text, usage, nil
}

// classifyAPIError marks rate limiting, server errors and network failures as
// transient. Client errors such as a bad API key are permanent.
func classifyAPIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code >= 500 {
			return fmt.Errorf("%w: %v", inference.ErrTransient, err)
		}
		return fmt.Errorf("%w: %v", inference.ErrInvalidConfig, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", inference.ErrTransient, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
