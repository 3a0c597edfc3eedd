package dispatch

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// contentKeyLen bounds how much text feeds the fingerprint; beyond
// this, requests that share a long prefix are considered identical for
// dedup purposes.
const contentKeyLen = 30

// Content is the message payload handed to a persona. Multimodal
// payloads carry raw bytes; only their hash enters the fingerprint.
type Content struct {
	Text  string
	Image []byte
	Audio []byte
}

// Empty reports whether the content carries nothing at all.
func (c Content) Empty() bool {
	return strings.TrimSpace(c.Text) == "" && len(c.Image) == 0 && len(c.Audio) == 0
}

// RequestContext identifies who asked and where. Zero values are
// replaced with placeholders in the fingerprint so keys stay stable.
type RequestContext struct {
	UserID    string
	ChannelID string
}

// Fingerprint derives the dedup/blackout key for a logically-identical
// completion request: persona + user + channel + a normalized content
// key. Image and audio payloads get distinct tagged hashes so the two
// shapes can never collide.
func Fingerprint(personaName string, content Content, reqCtx RequestContext) string {
	user := reqCtx.UserID
	if user == "" {
		user = "anon"
	}
	channel := reqCtx.ChannelID
	if channel == "" {
		channel = "nochannel"
	}
	return personaName + "_" + user + "_" + channel + "_" + contentKey(content)
}

// BlackoutKey is the fingerprint without the content component; a
// blackout suppresses a persona for a user/channel pair regardless of
// what was asked.
func BlackoutKey(personaName string, reqCtx RequestContext) string {
	user := reqCtx.UserID
	if user == "" {
		user = "anon"
	}
	channel := reqCtx.ChannelID
	if channel == "" {
		channel = "nochannel"
	}
	return personaName + "_" + user + "_" + channel
}

func contentKey(content Content) string {
	var parts []string
	if text := stripWhitespace(content.Text); text != "" {
		if len(text) > contentKeyLen {
			text = text[:contentKeyLen]
		}
		parts = append(parts, text)
	}
	if len(content.Image) > 0 {
		parts = append(parts, "IMG-"+shortHash(content.Image))
	}
	if len(content.Audio) > 0 {
		parts = append(parts, "AUD-"+shortHash(content.Audio))
	}
	if len(parts) == 0 {
		return "empty"
	}
	return strings.Join(parts, "+")
}

func stripWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func shortHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:6])
}
