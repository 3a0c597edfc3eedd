package gateway

import (
	"context"
	"log"
	"sync"

	"github.com/jordanhubbard/chorus/internal/metrics"
	"github.com/jordanhubbard/chorus/internal/router"
	"github.com/jordanhubbard/chorus/internal/telemetry"
)

// Bus abstracts the message bus for testability.
type Bus interface {
	PublishReply(ctx context.Context, reply *router.Reply) error
	SubscribeInbound(handler func(*router.InboundMessage)) error
}

// Verify NatsBus implements the bus interface at compile time.
var _ Bus = (*NatsBus)(nil)

// Gateway pumps inbound chat messages through the router and publishes
// the replies. Messages are handled on a bounded worker pool so one
// slow provider call does not stall the whole inbound stream.
type Gateway struct {
	bus     Bus
	router  *router.Router
	metrics *metrics.Metrics
	sem     chan struct{}

	wg sync.WaitGroup
}

// NewGateway creates a gateway. workers bounds concurrent message
// handling; values below 1 are clamped to 1. m may be nil.
func NewGateway(bus Bus, r *router.Router, workers int, m *metrics.Metrics) *Gateway {
	if workers < 1 {
		workers = 1
	}
	return &Gateway{
		bus:     bus,
		router:  r,
		metrics: m,
		sem:     make(chan struct{}, workers),
	}
}

// Run subscribes to the inbound stream and handles messages until ctx
// is cancelled. It returns after in-flight handlers finish.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.bus.SubscribeInbound(func(msg *router.InboundMessage) {
		g.handle(ctx, msg)
	}); err != nil {
		return err
	}

	<-ctx.Done()
	g.wg.Wait()
	return nil
}

func (g *Gateway) handle(ctx context.Context, msg *router.InboundMessage) {
	telemetry.MessagesHandled.Add(ctx, 1)
	if g.metrics != nil {
		kind := "guild"
		if msg.IsDM {
			kind = "dm"
		}
		g.metrics.InboundMessages.WithLabelValues(kind).Inc()
	}

	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() { <-g.sem }()

		reply := g.router.HandleMessage(ctx, msg)
		if reply == nil {
			return
		}
		if err := g.bus.PublishReply(ctx, reply); err != nil {
			log.Printf("[gateway] failed to publish reply for channel %s: %v", reply.ChannelID, err)
			return
		}
		if g.metrics != nil {
			g.metrics.OutboundReplies.WithLabelValues(reply.PersonaName).Inc()
		}
	}()
}
