package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/chorus/internal/clock"
	"github.com/jordanhubbard/chorus/internal/dispatch"
	"github.com/jordanhubbard/chorus/internal/persona"
	"github.com/jordanhubbard/chorus/internal/provider"
	"github.com/jordanhubbard/chorus/internal/router"
	"github.com/jordanhubbard/chorus/internal/session"
)

// memoryBus is an in-process Bus for exercising the gateway loop
// without a NATS server.
type memoryBus struct {
	mu      sync.Mutex
	replies []*router.Reply
	handler func(*router.InboundMessage)
}

func (b *memoryBus) PublishReply(ctx context.Context, reply *router.Reply) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replies = append(b.replies, reply)
	return nil
}

func (b *memoryBus) SubscribeInbound(handler func(*router.InboundMessage)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
	return nil
}

func (b *memoryBus) deliver(msg *router.InboundMessage) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	h(msg)
}

func (b *memoryBus) subscribed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handler != nil
}

func (b *memoryBus) replyCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.replies)
}

type staticProvider struct{ reply string }

func (p *staticProvider) Complete(ctx context.Context, model string, messages []provider.Message, opts *provider.Options) (*provider.Result, error) {
	return &provider.Result{Content: p.reply}, nil
}

func (p *staticProvider) Models(ctx context.Context) ([]string, error) {
	return []string{"m"}, nil
}

func newTestGateway(t *testing.T) (*Gateway, *memoryBus) {
	t.Helper()

	aliases := persona.NewAliasIndex("@")
	require.NoError(t, aliases.RegisterAlias("marvin", "Marvin", false))

	registry := provider.NewRegistry()
	require.NoError(t, registry.RegisterProvider(&provider.Config{ID: "fake", Model: "m"}, &staticProvider{reply: "here I am"}))

	cfg := dispatch.DefaultConfig()
	cfg.DefaultModelPath = "fake"
	clk := clock.NewFake(time.Unix(1700000000, 0))
	d := dispatch.New(cfg, registry, nil, clk, nil, nil)

	sessions := session.NewStore(session.DefaultConfig(), clk, nil)
	r := router.New(aliases, sessions, d, nil, nil, nil)

	bus := &memoryBus{}
	return NewGateway(bus, r, 2, nil), bus
}

func TestGateway_RoutesAndPublishesReply(t *testing.T) {
	g, bus := newTestGateway(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	require.Eventually(t, bus.subscribed, time.Second, 5*time.Millisecond)

	bus.deliver(&router.InboundMessage{MessageID: "m1", UserID: "u1", ChannelID: "c1", Text: "@marvin hello"})
	require.Eventually(t, func() bool { return bus.replyCount() == 1 }, time.Second, 5*time.Millisecond)

	bus.mu.Lock()
	reply := bus.replies[0]
	bus.mu.Unlock()
	assert.Equal(t, "Marvin", reply.PersonaName)
	assert.Equal(t, "c1", reply.ChannelID)
	assert.Equal(t, "here I am", reply.Text)

	cancel()
	require.NoError(t, <-done)
}

func TestGateway_UnroutedMessagePublishesNothing(t *testing.T) {
	g, bus := newTestGateway(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	require.Eventually(t, bus.subscribed, time.Second, 5*time.Millisecond)

	bus.deliver(&router.InboundMessage{MessageID: "m1", UserID: "u1", ChannelID: "c1", Text: "no mention here"})

	cancel()
	require.NoError(t, <-done)
	assert.Zero(t, bus.replyCount())
}
