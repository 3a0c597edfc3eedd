// Package router is the public surface of the chorus core: it decides
// which persona an inbound message addresses and brokers the
// completion call for it.
package router

import (
	"context"
	"log"
	"time"

	"github.com/jordanhubbard/chorus/internal/dispatch"
	"github.com/jordanhubbard/chorus/internal/metrics"
	"github.com/jordanhubbard/chorus/internal/persona"
	"github.com/jordanhubbard/chorus/internal/session"
)

// Authorizer gates channel activation. A nil Authorizer allows all
// actors.
type Authorizer interface {
	CanManageChannels(actorID string) bool
}

// Router wires the alias index, session store, and dispatcher into the
// message-handling pipeline. All shared state lives in the owned
// components; the router itself is stateless and safe for concurrent
// use.
type Router struct {
	aliases    *persona.AliasIndex
	sessions   *session.Store
	dispatcher *dispatch.Dispatcher
	detector   *ProxyDetector
	authorizer Authorizer
	metrics    *metrics.Metrics
}

// New creates a router. detector, authorizer, and m may be nil.
func New(aliases *persona.AliasIndex, sessions *session.Store, dispatcher *dispatch.Dispatcher, detector *ProxyDetector, authorizer Authorizer, m *metrics.Metrics) *Router {
	if detector == nil {
		detector = NewProxyDetector(nil, nil, nil)
	}
	r := &Router{
		aliases:    aliases,
		sessions:   sessions,
		dispatcher: dispatcher,
		detector:   detector,
		authorizer: authorizer,
		metrics:    m,
	}
	// Reply continuity falls back to webhook display names, which the
	// alias index can translate back to persona names.
	sessions.SetDisplayNameLookup(func(displayName string) string {
		return aliases.PersonaName(displayName)
	})
	return r
}

// ResolveMention resolves a mention at the start of text to a persona
// name, or "" when nothing matches.
func (r *Router) ResolveMention(text string) string {
	name, _ := r.aliases.ResolveMatch(text)
	if r.metrics != nil {
		result := "hit"
		if name == "" {
			result = "miss"
		}
		r.metrics.MentionResolves.WithLabelValues(result).Inc()
	}
	return name
}

// GetActivePersona reports which persona would continue the
// conversation for (userID, channelID) without consuming the message.
func (r *Router) GetActivePersona(userID, channelID string, isDM, autoResponseEnabled bool) string {
	return r.sessions.ActivePersona(userID, channelID, isDM, autoResponseEnabled)
}

// RecordSession creates or refreshes the session for a user/channel.
func (r *Router) RecordSession(userID, channelID string, messageIDs []string, personaName string, isDM, mentionOnly bool) {
	r.sessions.Record(userID, channelID, messageIDs, personaName, isDM, mentionOnly)
}

// ClearSession drops the session and its message-id entries.
func (r *Router) ClearSession(userID, channelID string) bool {
	ok := r.sessions.Clear(userID, channelID)
	if ok && r.metrics != nil {
		r.metrics.SessionsCleared.Inc()
	}
	return ok
}

// ActivateChannel pins a persona to a channel. The actor must pass the
// authorizer when one is configured.
func (r *Router) ActivateChannel(channelID, personaName, actorID string) bool {
	if r.authorizer != nil && !r.authorizer.CanManageChannels(actorID) {
		log.Printf("[router] actor %s is not allowed to activate channels", actorID)
		return false
	}
	// Accept an alias in place of the full persona name.
	if resolved := r.aliases.PersonaName(personaName); resolved != "" {
		personaName = resolved
	}
	return r.sessions.ActivateChannel(channelID, personaName)
}

// DeactivateChannel clears a channel activation.
func (r *Router) DeactivateChannel(channelID string) bool {
	return r.sessions.DeactivateChannel(channelID)
}

// SetAutoResponse toggles auto-response for a user.
func (r *Router) SetAutoResponse(userID string, enabled bool) {
	r.sessions.SetAutoResponse(userID, enabled)
}

// PersonaFromMessageID resolves the persona that authored a message,
// falling back to the webhook display name when the id is unknown.
func (r *Router) PersonaFromMessageID(messageID, webhookName string) string {
	return r.sessions.PersonaFromMessageID(messageID, webhookName)
}

// BlackoutSnapshot lists active blackout keys and their expiries.
func (r *Router) BlackoutSnapshot() map[string]time.Time {
	return r.dispatcher.BlackoutSnapshot()
}

// GetCompletion dispatches a completion for a persona. It never
// returns an error; hard failures come back as the suppression
// sentinel.
func (r *Router) GetCompletion(ctx context.Context, personaName string, content dispatch.Content, reqCtx dispatch.RequestContext) string {
	return r.dispatcher.GetCompletion(ctx, personaName, content, reqCtx)
}

// HandleMessage runs the full pipeline for one inbound message. It
// returns nil when the message is not addressed to any persona or the
// reply was suppressed.
func (r *Router) HandleMessage(ctx context.Context, msg *InboundMessage) *Reply {
	if reason, isProxy := r.detector.Detect(msg); isProxy {
		log.Printf("[router] ignoring proxy message %s (%s)", msg.MessageID, reason)
		return nil
	}

	personaName, body, source := r.route(msg)
	r.recordRoute(source)
	if personaName == "" {
		return nil
	}

	mentionOnly := source == RouteMention && !msg.IsDM
	r.sessions.Record(msg.UserID, msg.ChannelID, []string{msg.MessageID}, personaName, msg.IsDM, mentionOnly)

	text := r.dispatcher.GetCompletion(ctx, personaName,
		dispatch.Content{Text: body, Image: msg.Image, Audio: msg.Audio},
		dispatch.RequestContext{UserID: msg.UserID, ChannelID: msg.ChannelID})
	if text == dispatch.SuppressedSentinel {
		if r.metrics != nil {
			r.metrics.SuppressedReplies.Inc()
		}
		return nil
	}

	return &Reply{PersonaName: personaName, ChannelID: msg.ChannelID, Text: text}
}

// route picks the persona for a message: explicit mention first, then
// reply continuity, then channel activation, then the active session.
func (r *Router) route(msg *InboundMessage) (personaName, body string, source RouteSource) {
	if name, rest := r.aliases.ResolveMatch(msg.Text); name != "" {
		return name, rest, RouteMention
	}

	if msg.ReplyToID != "" {
		if name := r.sessions.PersonaFromMessageID(msg.ReplyToID, msg.WebhookName); name != "" {
			return name, msg.Text, RouteReply
		}
	}

	if name := r.sessions.ChannelPersona(msg.ChannelID); name != "" {
		return name, msg.Text, RouteChannel
	}

	if name := r.sessions.ActivePersona(msg.UserID, msg.ChannelID, msg.IsDM, r.sessions.AutoResponse(msg.UserID)); name != "" {
		return name, msg.Text, RouteSession
	}

	return "", "", RouteNone
}

func (r *Router) recordRoute(source RouteSource) {
	if r.metrics != nil {
		r.metrics.MessagesRouted.WithLabelValues(string(source)).Inc()
	}
}
