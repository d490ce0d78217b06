package speech

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/nijaru/transcribe-pipeline/models"
)

// Transcript is the output of a speech engine for one audio file.
type Transcript struct {
	Language   string
	Segments   []models.Segment
	Confidence string
}

// Engine turns an audio file into timed text segments. An empty language
// asks the engine to detect it.
type Engine interface {
	Transcribe(ctx context.Context, audioPath, language string) (*Transcript, error)
}

// Registry maps engine tags stored on jobs to engines.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Engine
}

func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]Engine)}
}

func (r *Registry) Register(tag string, engine Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[tag] = engine
}

func (r *Registry) Get(tag string) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	engine, ok := r.engines[tag]
	if !ok {
		return nil, fmt.Errorf("unknown speech engine %q", tag)
	}
	return engine, nil
}

func (r *Registry) Has(tag string) bool {
	_, err := r.Get(tag)
	return err == nil
}

func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.engines))
	for tag := range r.engines {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// rawSegment is the whisper segment shape shared by the local script and the
// OpenAI verbose_json response.
type rawSegment struct {
	ID         int      `json:"id"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Text       string   `json:"text"`
	AvgLogprob *float64 `json:"avg_logprob,omitempty"`
}

func toTranscript(language string, raw []rawSegment) *Transcript {
	t := &Transcript{Language: language, Segments: make([]models.Segment, 0, len(raw))}

	var sum float64
	var n int
	for _, s := range raw {
		t.Segments = append(t.Segments, models.Segment{ID: s.ID, Start: s.Start, End: s.End, Text: s.Text})
		if s.AvgLogprob != nil {
			sum += math.Exp(*s.AvgLogprob)
			n++
		}
	}
	if n > 0 {
		t.Confidence = fmt.Sprintf("%.2f", sum/float64(n))
	}
	return t
}
