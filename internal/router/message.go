package router

// InboundMessage is one chat message as delivered by the platform
// gateway. The router only needs identity and addressing fields; the
// platform client owns everything else about delivery.
type InboundMessage struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	IsDM      bool   `json:"is_dm"`

	Text  string `json:"text,omitempty"`
	Image []byte `json:"image,omitempty"`
	Audio []byte `json:"audio,omitempty"`

	// ReplyToID is the id of the message this one replies to, when the
	// platform reports one.
	ReplyToID string `json:"reply_to_id,omitempty"`

	// Author metadata used by webhook/bot detection.
	AuthorID      string `json:"author_id,omitempty"`
	ApplicationID string `json:"application_id,omitempty"`
	Username      string `json:"username,omitempty"`

	// WebhookName is the display name of the webhook that posted the
	// replied-to message, if known; used for reply continuity when the
	// message index has no entry.
	WebhookName string `json:"webhook_name,omitempty"`
}

// Reply is what the router hands back for delivery.
type Reply struct {
	PersonaName string `json:"persona_name"`
	ChannelID   string `json:"channel_id"`
	Text        string `json:"text"`
}

// RouteSource says which mechanism picked the persona for a message.
type RouteSource string

const (
	RouteMention RouteSource = "mention"
	RouteReply   RouteSource = "reply"
	RouteChannel RouteSource = "channel"
	RouteSession RouteSource = "session"
	RouteNone    RouteSource = "unrouted"
)
