package session

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jordanhubbard/chorus/internal/clock"
)

// Key identifies a conversation session.
type Key struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
}

// Session records which persona is active for a user in a channel.
type Session struct {
	Key             Key       `json:"key"`
	PersonaName     string    `json:"persona_name"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	IsDM            bool      `json:"is_dm"`
	MentionOnly     bool      `json:"mention_only"`
	MessageIDs      []string  `json:"message_ids,omitempty"`
	LegacyMessageID string    `json:"legacy_message_id,omitempty"`
}

// Snapshotter persists session state across restarts. Implementations
// must tolerate being called on every mutation; failures are logged
// and never block the in-memory store.
type Snapshotter interface {
	Save(s *Session) error
	Delete(k Key) error
	LoadAll() ([]*Session, error)
}

// Config holds session policy knobs.
type Config struct {
	DMTTL    time.Duration `yaml:"dm_ttl"`
	GuildTTL time.Duration `yaml:"guild_ttl"`
}

// DefaultConfig returns the stock TTL policy: DM conversations stay
// warm much longer than guild channels.
func DefaultConfig() Config {
	return Config{
		DMTTL:    2 * time.Hour,
		GuildTTL: 30 * time.Minute,
	}
}

// Store tracks active sessions, per-user auto-response flags, and
// channel-wide persona activations. Expiry is lazy: stale entries fail
// the active check and are treated as gone, but may physically remain
// until overwritten.
type Store struct {
	cfg   Config
	clock clock.Clock
	snap  Snapshotter

	mu        sync.RWMutex
	sessions  map[Key]*Session
	byMessage map[string]Key // message id -> session key, last write wins
	autoResp  map[string]bool
	channels  map[string]string // channel id -> activated persona

	// lookupDisplay maps a webhook display name to a persona full
	// name, used as fallback when the message index has no entry.
	lookupDisplay func(displayName string) string
}

// NewStore creates a session store. snap may be nil.
func NewStore(cfg Config, clk clock.Clock, snap Snapshotter) *Store {
	if cfg.DMTTL == 0 {
		cfg.DMTTL = DefaultConfig().DMTTL
	}
	if cfg.GuildTTL == 0 {
		cfg.GuildTTL = DefaultConfig().GuildTTL
	}
	if clk == nil {
		clk = clock.System()
	}
	s := &Store{
		cfg:       cfg,
		clock:     clk,
		snap:      snap,
		sessions:  make(map[Key]*Session),
		byMessage: make(map[string]Key),
		autoResp:  make(map[string]bool),
		channels:  make(map[string]string),
	}
	s.restore()
	return s
}

// SetDisplayNameLookup installs the fallback resolver used by
// PersonaFromMessageID when the reverse index has been evicted.
func (s *Store) SetDisplayNameLookup(fn func(displayName string) string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookupDisplay = fn
}

// Record creates or refreshes the session for (userID, channelID). A
// DM session force-enables the user's auto-response flag so DM
// continuity always works without explicit opt-in.
func (s *Store) Record(userID, channelID string, messageIDs []string, personaName string, isDM, mentionOnly bool) {
	now := s.clock.Now()
	k := Key{UserID: userID, ChannelID: channelID}

	s.mu.Lock()
	sess := &Session{
		Key:            k,
		PersonaName:    personaName,
		LastActivityAt: now,
		IsDM:           isDM,
		MentionOnly:    mentionOnly,
		MessageIDs:     append([]string(nil), messageIDs...),
	}
	s.sessions[k] = sess
	for _, id := range messageIDs {
		if id != "" {
			s.byMessage[id] = k
		}
	}
	if isDM {
		s.autoResp[userID] = true
	}
	s.mu.Unlock()

	s.persist(sess)
}

// ActivePersona returns the session's persona iff the session exists,
// has not outlived its TTL, and either was not mention-only or the
// user opted into auto-response.
func (s *Store) ActivePersona(userID, channelID string, isDM, autoResponseEnabled bool) string {
	now := s.clock.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[Key{UserID: userID, ChannelID: channelID}]
	if !ok {
		return ""
	}
	if now.Sub(sess.LastActivityAt) >= s.ttl(sess.IsDM || isDM) {
		return ""
	}
	if sess.MentionOnly && !(autoResponseEnabled || s.autoResp[userID]) {
		return ""
	}
	return sess.PersonaName
}

// Clear removes the session and every reverse message-id entry that
// points at it. It reports whether a session existed.
func (s *Store) Clear(userID, channelID string) bool {
	k := Key{UserID: userID, ChannelID: channelID}

	s.mu.Lock()
	_, ok := s.sessions[k]
	delete(s.sessions, k)
	for id, owner := range s.byMessage {
		if owner == k {
			delete(s.byMessage, id)
		}
	}
	s.mu.Unlock()

	if ok && s.snap != nil {
		if err := s.snap.Delete(k); err != nil {
			log.Printf("[session] snapshot delete failed for %s/%s: %v", userID, channelID, err)
		}
	}
	return ok
}

// PersonaFromMessageID resolves the persona that authored a message,
// via the reverse index first and then by matching the webhook display
// name ("DisplayName | suffix" convention) against known personas.
// Returns "" when neither path matches.
func (s *Store) PersonaFromMessageID(messageID, fallbackWebhookName string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k, ok := s.byMessage[messageID]; ok {
		if sess, ok := s.sessions[k]; ok {
			return sess.PersonaName
		}
	}

	// Legacy single-id sessions predate the multi-id index.
	for _, sess := range s.sessions {
		if sess.LegacyMessageID != "" && sess.LegacyMessageID == messageID {
			return sess.PersonaName
		}
	}

	if fallbackWebhookName == "" || s.lookupDisplay == nil {
		return ""
	}
	name := fallbackWebhookName
	if idx := strings.Index(name, "|"); idx >= 0 {
		name = name[:idx]
	}
	return s.lookupDisplay(strings.TrimSpace(name))
}

// SetAutoResponse flips the per-user auto-response flag. The flag is
// independent of any single session.
func (s *Store) SetAutoResponse(userID string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoResp[userID] = enabled
}

// AutoResponse reports the user's auto-response flag.
func (s *Store) AutoResponse(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoResp[userID]
}

// ActivateChannel pins a persona to every message in a channel. It
// overrides per-user session state for non-mention messages.
func (s *Store) ActivateChannel(channelID, personaName string) bool {
	if channelID == "" || personaName == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[channelID] = personaName
	return true
}

// DeactivateChannel clears a channel activation. It reports whether
// one existed.
func (s *Store) DeactivateChannel(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.channels[channelID]
	delete(s.channels, channelID)
	return ok
}

// ChannelPersona returns the channel-activated persona, or "".
func (s *Store) ChannelPersona(channelID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channels[channelID]
}

func (s *Store) ttl(isDM bool) time.Duration {
	if isDM {
		return s.cfg.DMTTL
	}
	return s.cfg.GuildTTL
}

func (s *Store) persist(sess *Session) {
	if s.snap == nil {
		return
	}
	if err := s.snap.Save(sess); err != nil {
		log.Printf("[session] snapshot save failed for %s/%s: %v",
			sess.Key.UserID, sess.Key.ChannelID, err)
	}
}

func (s *Store) restore() {
	if s.snap == nil {
		return
	}
	sessions, err := s.snap.LoadAll()
	if err != nil {
		log.Printf("[session] snapshot restore failed: %v", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range sessions {
		s.sessions[sess.Key] = sess
		for _, id := range sess.MessageIDs {
			if id != "" {
				s.byMessage[id] = sess.Key
			}
		}
		if sess.IsDM {
			s.autoResp[sess.Key.UserID] = true
		}
	}
	if len(sessions) > 0 {
		log.Printf("[session] restored %d sessions from snapshot", len(sessions))
	}
}
