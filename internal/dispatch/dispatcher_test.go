package dispatch

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/chorus/internal/clock"
	"github.com/jordanhubbard/chorus/internal/persona"
	"github.com/jordanhubbard/chorus/internal/provider"
)

// fakeProvider returns scripted responses and counts calls. If gate is
// non-nil, Complete blocks until the gate closes, letting tests pile
// up concurrent callers.
type fakeProvider struct {
	mu       sync.Mutex
	response string
	err      error
	gate     chan struct{}
	calls    int64
	lastReq  []provider.Message
}

func (f *fakeProvider) Complete(ctx context.Context, model string, messages []provider.Message, opts *provider.Options) (*provider.Result, error) {
	atomic.AddInt64(&f.calls, 1)
	f.mu.Lock()
	f.lastReq = messages
	f.mu.Unlock()
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &provider.Result{Content: f.response, Usage: provider.Usage{TotalTokens: 7}}, nil
}

func (f *fakeProvider) Models(ctx context.Context) ([]string, error) {
	return []string{"fake-model"}, nil
}

func (f *fakeProvider) callCount() int64 {
	return atomic.LoadInt64(&f.calls)
}

func (f *fakeProvider) lastMessages() []provider.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

type fakeDirectory struct {
	personas map[string]*persona.Persona
}

func (f *fakeDirectory) GetPersona(ctx context.Context, fullName string) (*persona.Persona, error) {
	return f.personas[fullName], nil
}

func (f *fakeDirectory) ListPersonas(ctx context.Context) ([]*persona.Persona, error) {
	out := make([]*persona.Persona, 0, len(f.personas))
	for _, p := range f.personas {
		out = append(out, p)
	}
	return out, nil
}

func newTestDispatcher(t *testing.T, fake *fakeProvider, curated []KnownProblematicPersona) (*Dispatcher, *clock.Fake) {
	t.Helper()

	registry := provider.NewRegistry()
	require.NoError(t, registry.RegisterProvider(
		&provider.Config{ID: "fake", Model: "fake-model"}, fake))

	dir := &fakeDirectory{personas: map[string]*persona.Persona{
		"Marvin": {FullName: "Marvin", DisplayName: "Marvin", ModelPath: "fake/fake-model"},
	}}

	clk := clock.NewFake(time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC))
	cfg := DefaultConfig()
	cfg.DefaultModelPath = "fake"
	return New(cfg, registry, dir, clk, nil, curated), clk
}

func TestGetCompletion_Success(t *testing.T) {
	fake := &fakeProvider{response: "Don't talk to me about life."}
	d, _ := newTestDispatcher(t, fake, nil)

	got := d.GetCompletion(context.Background(), "Marvin",
		Content{Text: "how are you"}, RequestContext{UserID: "u1", ChannelID: "c1"})

	assert.Equal(t, "Don't talk to me about life.", got)
	assert.EqualValues(t, 1, fake.callCount())
}

func TestGetCompletion_MissingPersonaSkipsProvider(t *testing.T) {
	fake := &fakeProvider{response: "never"}
	d, _ := newTestDispatcher(t, fake, nil)

	got := d.GetCompletion(context.Background(), "",
		Content{Text: "hi"}, RequestContext{UserID: "u1"})

	assert.Equal(t, ConfigErrorReply, got)
	assert.EqualValues(t, 0, fake.callCount(), "provider must not be invoked")
}

func TestGetCompletion_EmptyContentSubstitutesDefaultPrompt(t *testing.T) {
	fake := &fakeProvider{response: "hello there"}
	d, _ := newTestDispatcher(t, fake, nil)

	got := d.GetCompletion(context.Background(), "Marvin",
		Content{}, RequestContext{UserID: "u1", ChannelID: "c1"})

	assert.Equal(t, "hello there", got)
	msgs := fake.lastMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, DefaultConfig().DefaultPrompt, msgs[1].Content)
}

func TestGetCompletion_ConcurrentDuplicatesShareOneCall(t *testing.T) {
	fake := &fakeProvider{response: "the answer", gate: make(chan struct{})}
	d, _ := newTestDispatcher(t, fake, nil)

	content := Content{Text: "what is six times seven"}
	reqCtx := RequestContext{UserID: "u1", ChannelID: "c1"}

	const callers = 5
	results := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- d.GetCompletion(context.Background(), "Marvin", content, reqCtx)
		}()
	}

	// Wait for the first caller to reach the provider, then release.
	require.Eventually(t, func() bool { return fake.callCount() == 1 },
		2*time.Second, 5*time.Millisecond)
	close(fake.gate)
	wg.Wait()
	close(results)

	for got := range results {
		assert.Equal(t, "the answer", got)
	}
	assert.EqualValues(t, 1, fake.callCount(),
		"identical concurrent requests must issue exactly one provider call")
}

func TestGetCompletion_PendingEntryExpiresAfterGrace(t *testing.T) {
	fake := &fakeProvider{response: "first"}
	d, clk := newTestDispatcher(t, fake, nil)

	content := Content{Text: "same question"}
	reqCtx := RequestContext{UserID: "u1", ChannelID: "c1"}

	_ = d.GetCompletion(context.Background(), "Marvin", content, reqCtx)
	assert.EqualValues(t, 1, fake.callCount())

	// Within the grace window the settled entry still absorbs retries.
	_ = d.GetCompletion(context.Background(), "Marvin", content, reqCtx)
	assert.EqualValues(t, 1, fake.callCount())

	clk.Advance(DefaultConfig().PendingGrace + time.Second)
	_ = d.GetCompletion(context.Background(), "Marvin", content, reqCtx)
	assert.EqualValues(t, 2, fake.callCount(),
		"after cleanup a fresh identical request issues a new call")
}

func TestGetCompletion_DifferentContextsDoNotDedup(t *testing.T) {
	fake := &fakeProvider{response: "hi"}
	d, _ := newTestDispatcher(t, fake, nil)

	content := Content{Text: "hello"}
	_ = d.GetCompletion(context.Background(), "Marvin", content, RequestContext{UserID: "u1", ChannelID: "c1"})
	_ = d.GetCompletion(context.Background(), "Marvin", content, RequestContext{UserID: "u2", ChannelID: "c1"})

	assert.EqualValues(t, 2, fake.callCount())
}

func TestGetCompletion_ProviderErrorReturnsSentinelAndBlackout(t *testing.T) {
	fake := &fakeProvider{err: context.DeadlineExceeded}
	d, clk := newTestDispatcher(t, fake, nil)

	reqCtx := RequestContext{UserID: "u1", ChannelID: "c1"}
	got := d.GetCompletion(context.Background(), "Marvin", Content{Text: "hi"}, reqCtx)

	assert.Equal(t, SuppressedSentinel, got)
	assert.True(t, d.IsInBlackout("Marvin", reqCtx))

	// Blackout is advisory: an identical request (new fingerprint via
	// different text) still reaches the provider.
	_ = d.GetCompletion(context.Background(), "Marvin", Content{Text: "again"}, reqCtx)
	assert.EqualValues(t, 2, fake.callCount())

	clk.Advance(DefaultConfig().BlackoutDuration + time.Second)
	assert.False(t, d.IsInBlackout("Marvin", reqCtx),
		"blackout must lapse after the configured duration")
}

func TestGetCompletion_ClassifiedErrorGetsGenericFallback(t *testing.T) {
	fake := &fakeProvider{response: "TypeError: cannot read x"}
	d, _ := newTestDispatcher(t, fake, nil)

	reqCtx := RequestContext{UserID: "u1", ChannelID: "c1"}
	got := d.GetCompletion(context.Background(), "Marvin", Content{Text: "hi"}, reqCtx)

	assert.NotContains(t, got, "TypeError", "raw provider error must never surface")
	assert.Contains(t, got, "Error ID:")
	assert.True(t, d.IsInBlackout("Marvin", reqCtx))
	assert.True(t, d.Problematic().IsRuntimeProblematic("Marvin"))
}

func TestGetCompletion_CuratedPersonaGetsCannedFallback(t *testing.T) {
	fake := &fakeProvider{response: "ReferenceError: ghost is not defined"}
	curated := []KnownProblematicPersona{{
		PersonaName: "Marvin",
		Fallbacks:   []string{"Brain the size of a planet, and they give me errors."},
	}}
	d, _ := newTestDispatcher(t, fake, curated)

	got := d.GetCompletion(context.Background(), "Marvin",
		Content{Text: "hi"}, RequestContext{UserID: "u1", ChannelID: "c1"})

	assert.Equal(t, "Brain the size of a planet, and they give me errors.", got)
}

func TestGetCompletion_CuratedErrorSubstringTriggersFallback(t *testing.T) {
	// "Connection lost to shard gateway" carries no generic classifier
	// marker; only the curated substring can catch it.
	fake := &fakeProvider{response: "Connection lost to shard gateway"}
	curated := []KnownProblematicPersona{{
		PersonaName:     "Marvin",
		Fallbacks:       []string{"I've calculated your chance of survival, but I don't think you'll like it."},
		ErrorSubstrings: []string{"Connection lost to shard"},
	}}
	d, _ := newTestDispatcher(t, fake, curated)

	reqCtx := RequestContext{UserID: "u1", ChannelID: "c1"}
	got := d.GetCompletion(context.Background(), "Marvin", Content{Text: "hi"}, reqCtx)

	assert.Equal(t, "I've calculated your chance of survival, but I don't think you'll like it.", got)
	assert.True(t, d.IsInBlackout("Marvin", reqCtx))
	assert.True(t, d.Problematic().IsRuntimeProblematic("Marvin"))

	// Substrings are scoped to their persona; clean output passes.
	fake2 := &fakeProvider{response: "All systems nominal."}
	d2, _ := newTestDispatcher(t, fake2, curated)
	got2 := d2.GetCompletion(context.Background(), "Marvin", Content{Text: "status"}, reqCtx)
	assert.Equal(t, "All systems nominal.", got2)
}

func TestAddToBlackout_PlaceholderKeys(t *testing.T) {
	fake := &fakeProvider{response: "ok"}
	d, clk := newTestDispatcher(t, fake, nil)

	d.AddToBlackout("Marvin", RequestContext{}, 5*time.Minute)
	assert.True(t, d.IsInBlackout("Marvin", RequestContext{}))

	snap := d.BlackoutSnapshot()
	require.Len(t, snap, 1)
	for key := range snap {
		assert.Equal(t, "Marvin_anon_nochannel", key)
	}

	clk.Advance(5*time.Minute + time.Second)
	assert.False(t, d.IsInBlackout("Marvin", RequestContext{}))
	assert.Empty(t, d.BlackoutSnapshot())
}

func TestFingerprint(t *testing.T) {
	reqCtx := RequestContext{UserID: "u1", ChannelID: "c1"}

	testCases := []struct {
		name string
		a, b Content
		same bool
	}{
		{"identical text", Content{Text: "hello world"}, Content{Text: "hello world"}, true},
		{"whitespace stripped", Content{Text: "hello  world"}, Content{Text: "helloworld"}, true},
		{
			"long shared prefix treated as identical",
			Content{Text: strings.Repeat("a", 40) + "-one"},
			Content{Text: strings.Repeat("a", 40) + "-two"},
			true,
		},
		{"different text", Content{Text: "hello"}, Content{Text: "goodbye"}, false},
		{
			"image vs audio never collide",
			Content{Image: []byte{1, 2, 3}},
			Content{Audio: []byte{1, 2, 3}},
			false,
		},
		{
			"identical images fingerprint identically",
			Content{Image: []byte{9, 9, 9}},
			Content{Image: []byte{9, 9, 9}},
			true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fpA := Fingerprint("P", tc.a, reqCtx)
			fpB := Fingerprint("P", tc.b, reqCtx)
			if tc.same {
				assert.Equal(t, fpA, fpB)
			} else {
				assert.NotEqual(t, fpA, fpB)
			}
		})
	}

	anon := Fingerprint("P", Content{Text: "x"}, RequestContext{})
	assert.Contains(t, anon, "_anon_nochannel_")
}
