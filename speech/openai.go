package speech

import (
	"context"
	"encoding/json"
	"os"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

type OpenAIConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	RequestsPerMinute int
}

// OpenAI transcribes through the hosted audio transcription endpoint using
// the verbose_json format, which carries whisper segments.
type OpenAI struct {
	client  openai.Client
	model   string
	limiter *rate.Limiter
}

var _ Engine = (*OpenAI)(nil)

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}
	return &OpenAI{
		client:  openai.NewClient(opts...),
		model:   cfg.Model,
		limiter: rate.NewLimiter(rate.Limit(rpm)/60, 1),
	}
}

type verboseTranscription struct {
	Language string       `json:"language"`
	Text     string       `json:"text"`
	Segments []rawSegment `json:"segments"`
}

func (o *OpenAI) Transcribe(ctx context.Context, audioPath, language string) (*Transcript, error) {
	const op = "OpenAI.Transcribe"

	if err := o.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	f, err := os.Open(audioPath)
	if err != nil {
		return nil, newEngineError(op, err, "failed to open audio")
	}
	defer f.Close()

	params := openai.AudioTranscriptionNewParams{
		File:           f,
		Model:          openai.AudioModel(o.model),
		ResponseFormat: openai.AudioResponseFormatVerboseJSON,
	}
	if language != "" {
		params.Language = openai.String(language)
	}

	resp, err := o.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, newEngineError(op, err, apiErr.Message)
		}
		return nil, newEngineError(op, err, "transcription request failed")
	}

	return parseVerbose([]byte(resp.RawJSON()))
}

func parseVerbose(raw []byte) (*Transcript, error) {
	const op = "OpenAI.parseVerbose"

	var v verboseTranscription
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, newEngineError(op, err, "invalid transcription response")
	}
	// A response without segments still carries the full text.
	if len(v.Segments) == 0 && v.Text != "" {
		v.Segments = []rawSegment{{ID: 0, Text: v.Text}}
	}
	return toTranscript(v.Language, v.Segments), nil
}
