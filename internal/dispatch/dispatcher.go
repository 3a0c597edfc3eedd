// Package dispatch brokers completion calls on behalf of personas:
// fingerprint-based dedup of concurrent identical requests, advisory
// blackout windows after failures, and classification of ambiguous
// provider output.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/chorus/internal/classify"
	"github.com/jordanhubbard/chorus/internal/clock"
	"github.com/jordanhubbard/chorus/internal/metrics"
	"github.com/jordanhubbard/chorus/internal/persona"
	"github.com/jordanhubbard/chorus/internal/provider"
	"github.com/jordanhubbard/chorus/internal/telemetry"
)

// Config holds dispatch policy knobs.
type Config struct {
	// BlackoutDuration is the default suppression window set after a
	// failure. Independent of the dedup timing below.
	BlackoutDuration time.Duration `yaml:"blackout_duration"`

	// PendingGrace keeps a settled pending entry around briefly so
	// retries racing the cleanup still join the finished call.
	PendingGrace time.Duration `yaml:"pending_grace"`

	// PendingMaxAge bounds how long a live pending entry can block
	// identical requests; past it the entry is treated as dead.
	PendingMaxAge time.Duration `yaml:"pending_max_age"`

	// CallTimeout caps each provider call.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// DefaultPrompt substitutes for empty message content.
	DefaultPrompt string `yaml:"default_prompt"`

	// DefaultModelPath is used when a persona has no model path.
	DefaultModelPath string `yaml:"default_model_path"`

	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// DefaultConfig returns the stock dispatch policy.
func DefaultConfig() Config {
	return Config{
		BlackoutDuration: 10 * time.Minute,
		PendingGrace:     5 * time.Second,
		PendingMaxAge:    2 * time.Minute,
		CallTimeout:      45 * time.Second,
		DefaultPrompt:    "Say hello and introduce yourself briefly.",
		Temperature:      0.9,
	}
}

type pendingRequest struct {
	createdAt time.Time
	done      chan struct{}
	result    string
}

// Dispatcher orchestrates completion calls. GetCompletion never
// returns an error: every path terminates in a displayable string or
// the suppression sentinel.
type Dispatcher struct {
	cfg         Config
	registry    *provider.Registry
	directory   persona.Directory
	classifier  *classify.Classifier
	clock       clock.Clock
	metrics     *metrics.Metrics
	problematic *ProblematicRegistry
	blackout    *blackoutList

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// New creates a dispatcher. directory and m may be nil.
func New(cfg Config, registry *provider.Registry, directory persona.Directory, clk clock.Clock, m *metrics.Metrics, curated []KnownProblematicPersona) *Dispatcher {
	def := DefaultConfig()
	if cfg.BlackoutDuration == 0 {
		cfg.BlackoutDuration = def.BlackoutDuration
	}
	if cfg.PendingGrace == 0 {
		cfg.PendingGrace = def.PendingGrace
	}
	if cfg.PendingMaxAge == 0 {
		cfg.PendingMaxAge = def.PendingMaxAge
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.DefaultPrompt == "" {
		cfg.DefaultPrompt = def.DefaultPrompt
	}
	if clk == nil {
		clk = clock.System()
	}

	return &Dispatcher{
		cfg:         cfg,
		registry:    registry,
		directory:   directory,
		classifier:  classify.New(),
		clock:       clk,
		metrics:     m,
		problematic: NewProblematicRegistry(curated),
		blackout:    newBlackoutList(clk),
		pending:     make(map[string]*pendingRequest),
	}
}

// GetCompletion resolves the persona's model, deduplicates concurrent
// identical requests, and calls the completion provider. Concurrent
// callers with the same fingerprint observe the one real completion.
func (d *Dispatcher) GetCompletion(ctx context.Context, personaName string, content Content, reqCtx RequestContext) string {
	if personaName == "" {
		log.Printf("[dispatch] hard error: %v (user=%s channel=%s)",
			ErrConfiguration, reqCtx.UserID, reqCtx.ChannelID)
		d.record(personaName, "config_error")
		return ConfigErrorReply
	}

	if content.Empty() {
		log.Printf("[dispatch] warning: %v for persona %s, substituting default prompt",
			ErrValidation, personaName)
		content.Text = d.cfg.DefaultPrompt
	}

	fp := Fingerprint(personaName, content, reqCtx)
	now := d.clock.Now()

	d.mu.Lock()
	if pr, ok := d.pending[fp]; ok && now.Sub(pr.createdAt) < d.cfg.PendingMaxAge {
		d.mu.Unlock()
		d.record(personaName, "dedup_hit")
		telemetry.DedupJoins.Add(ctx, 1)
		select {
		case <-pr.done:
			return pr.result
		case <-ctx.Done():
			return SuppressedSentinel
		}
	}
	pr := &pendingRequest{createdAt: now, done: make(chan struct{})}
	d.pending[fp] = pr
	d.mu.Unlock()

	pr.result = d.execute(ctx, personaName, content, reqCtx)
	close(pr.done)

	// Deferred cleanup: the grace window absorbs near-simultaneous
	// duplicates that race the settlement.
	d.clock.AfterFunc(d.cfg.PendingGrace, func() {
		d.mu.Lock()
		if d.pending[fp] == pr {
			delete(d.pending, fp)
		}
		d.mu.Unlock()
	})

	return pr.result
}

func (d *Dispatcher) execute(ctx context.Context, personaName string, content Content, reqCtx RequestContext) string {
	modelPath := d.cfg.DefaultModelPath
	displayName := personaName
	if d.directory != nil {
		p, err := d.directory.GetPersona(ctx, personaName)
		switch {
		case err != nil:
			log.Printf("[dispatch] persona lookup failed for %s: %v", personaName, err)
		case p != nil:
			if p.ModelPath != "" {
				modelPath = p.ModelPath
			}
			if p.DisplayName != "" {
				displayName = p.DisplayName
			}
		}
	}

	prov, model, err := d.registry.ForModelPath(modelPath)
	if err != nil {
		return d.providerFailure(personaName, reqCtx, fmt.Errorf("%w: %v", ErrProvider, err))
	}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	result, err := prov.Complete(callCtx, model, buildMessages(displayName, content), &provider.Options{
		Temperature: d.cfg.Temperature,
		MaxTokens:   d.cfg.MaxTokens,
	})
	if err != nil {
		return d.providerFailure(personaName, reqCtx, fmt.Errorf("%w: %v", ErrProvider, err))
	}

	if d.metrics != nil {
		d.metrics.RecordCompletion(personaName, "success", time.Since(start).Seconds(), int64(result.Usage.TotalTokens))
	}
	telemetry.CompletionsServed.Add(ctx, 1)
	telemetry.CompletionLatency.Record(ctx, float64(time.Since(start).Milliseconds()))

	if d.problematic.MatchesKnownError(personaName, result.Content) ||
		d.classifier.IsLikelyError(result.Content) {
		return d.classifiedFailure(personaName, reqCtx, result.Content)
	}
	return result.Content
}

// providerFailure registers a blackout and returns the suppression
// sentinel: the caller must show nothing to the user.
func (d *Dispatcher) providerFailure(personaName string, reqCtx RequestContext, err error) string {
	key := BlackoutKey(personaName, reqCtx)
	already := d.blackout.active(key)
	d.blackout.add(key, d.cfg.BlackoutDuration)
	d.record(personaName, "provider_error")
	d.recordBlackout(personaName)
	if !already {
		log.Printf("[dispatch] provider failure for %s: %v (blackout %s)", personaName, err, key)
	}
	return SuppressedSentinel
}

// classifiedFailure handles a "successful" provider response that
// looks like a leaked internal error.
func (d *Dispatcher) classifiedFailure(personaName string, reqCtx RequestContext, raw string) string {
	d.problematic.MarkRuntime(personaName)
	d.blackout.add(BlackoutKey(personaName, reqCtx), d.cfg.BlackoutDuration)
	d.record(personaName, "classified_error")
	d.recordBlackout(personaName)

	errorID := uuid.New().String()
	log.Printf("[dispatch] classified error from %s (error id %s): %.120q", personaName, errorID, raw)

	if fallback, ok := d.problematic.Fallback(personaName); ok {
		return fallback
	}
	return fmt.Sprintf("I'm having a technical issue right now. Error ID: %s", errorID)
}

// AddToBlackout sets the suppression window for a persona/context key.
// A zero duration uses the configured default.
func (d *Dispatcher) AddToBlackout(personaName string, reqCtx RequestContext, duration time.Duration) {
	if duration == 0 {
		duration = d.cfg.BlackoutDuration
	}
	d.blackout.add(BlackoutKey(personaName, reqCtx), duration)
}

// IsInBlackout reports whether the persona/context key is inside an
// unexpired suppression window. Blackout is advisory; it never blocks
// provider calls.
func (d *Dispatcher) IsInBlackout(personaName string, reqCtx RequestContext) bool {
	return d.blackout.active(BlackoutKey(personaName, reqCtx))
}

// BlackoutSnapshot lists current blackout keys and expiries.
func (d *Dispatcher) BlackoutSnapshot() map[string]time.Time {
	return d.blackout.snapshot()
}

// Problematic exposes the problematic-persona registry.
func (d *Dispatcher) Problematic() *ProblematicRegistry {
	return d.problematic
}

func (d *Dispatcher) record(personaName, result string) {
	if d.metrics != nil {
		d.metrics.CompletionResults.WithLabelValues(personaName, result).Inc()
	}
}

func (d *Dispatcher) recordBlackout(personaName string) {
	if d.metrics != nil {
		d.metrics.BlackoutsSet.WithLabelValues(personaName).Inc()
	}
}

func buildMessages(displayName string, content Content) []provider.Message {
	system := fmt.Sprintf("You are %s. Stay in character and answer as %s would.", displayName, displayName)
	text := content.Text
	if len(content.Image) > 0 {
		text += "\n[the user attached an image]"
	}
	if len(content.Audio) > 0 {
		text += "\n[the user attached an audio clip]"
	}
	return []provider.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: text},
	}
}
