package enrich

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	dialogueSystemPrompt = `You turn raw speech transcripts into readable dialogue.
Label each speaker turn as Speaker1:, Speaker2: and so on, and separate turns with a semicolon.
Keep the wording and meaning of the transcript. If only one person speaks, return "Speaker1: " followed by the whole text.`

	imageSystemPrompt = `You write prompts for an image generation model.
Describe one scene that captures the setting, people and mood of the conversation you are given.
Mention lighting and colour, never include text or speech bubbles, and stay under 400 characters.`

	// Inputs are cut to keep requests inside the model context.
	maxDialogueInput = 12000
	maxPromptInput   = 1000

	imageSize = 1024
)

type OpenAIConfig struct {
	APIKey            string
	BaseURL           string
	ChatModel         string
	ImageModel        string
	RequestsPerMinute int
	MaxRetries        int
}

type OpenAI struct {
	client     openai.Client
	chatModel  string
	imageModel string
	limiter    *rate.Limiter
	log        *logrus.Logger
}

var _ Processor = (*OpenAI)(nil)

func NewOpenAI(cfg OpenAIConfig, log *logrus.Logger) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4"
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = "dall-e-3"
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}

	return &OpenAI{
		client:     openai.NewClient(opts...),
		chatModel:  cfg.ChatModel,
		imageModel: cfg.ImageModel,
		limiter:    rate.NewLimiter(rate.Limit(rpm)/60, 1),
		log:        log,
	}
}

func (o *OpenAI) FormatDialogue(ctx context.Context, text string) (string, error) {
	out, err := o.complete(ctx, dialogueSystemPrompt,
		"Format this transcription as dialogue:\n\n"+truncate(text, maxDialogueInput), 0.3, 2000)
	if err != nil {
		return "", errors.Wrap(err, "dialogue formatting failed")
	}
	return out, nil
}

func (o *OpenAI) ImagePrompt(ctx context.Context, dialogue string) string {
	out, err := o.complete(ctx, imageSystemPrompt,
		"Create an image prompt for this dialogue:\n\n"+truncate(dialogue, maxPromptInput), 0.7, 150)
	if err != nil || out == "" {
		o.log.WithError(err).Warn("Image prompt generation failed, using fallback")
		return FallbackPrompt(dialogue)
	}
	return out
}

func (o *OpenAI) GenerateImage(ctx context.Context, prompt string) (*GeneratedImage, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := o.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          openai.ImageModel(o.imageModel),
		N:              openai.Int(1),
		Size:           openai.ImageGenerateParamsSize1024x1024,
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	})
	if err != nil {
		return nil, errors.Wrap(err, "image generation failed")
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, errors.New("image generation returned no data")
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode generated image")
	}
	return &GeneratedImage{Data: data, MimeType: "image/png", Width: imageSize, Height: imageSize}, nil
}

func (o *OpenAI) complete(ctx context.Context, system, user string, temperature float64, maxTokens int64) (string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", err
	}

	completion, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(o.chatModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(temperature),
		MaxTokens:   openai.Int(maxTokens),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", errors.Wrapf(err, "openai status %d", apiErr.StatusCode)
		}
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}
