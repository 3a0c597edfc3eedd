package router

import "strings"

// proxySignal is one predicate+reason pair. Detection walks the list
// in order and returns the first matching reason, replacing the old
// ad hoc property probing with a small closed set of signal sources.
type proxySignal struct {
	reason string
	match  func(msg *InboundMessage) bool
}

// ProxyDetector decides whether a message was posted by one of our own
// webhooks or a cooperating bot, which must never be routed back into
// a persona (that way lies a feedback loop).
type ProxyDetector struct {
	signals []proxySignal
}

// NewProxyDetector builds a detector from the closed signal set:
// owner ids, application ids, and username patterns.
func NewProxyDetector(ownerIDs, applicationIDs, usernamePatterns []string) *ProxyDetector {
	owners := toSet(ownerIDs)
	apps := toSet(applicationIDs)

	d := &ProxyDetector{}
	d.signals = append(d.signals, proxySignal{
		reason: "owner-id match",
		match: func(msg *InboundMessage) bool {
			return owners[msg.AuthorID]
		},
	})
	d.signals = append(d.signals, proxySignal{
		reason: "application-id match",
		match: func(msg *InboundMessage) bool {
			return msg.ApplicationID != "" && apps[msg.ApplicationID]
		},
	})
	d.signals = append(d.signals, proxySignal{
		reason: "username-pattern match",
		match: func(msg *InboundMessage) bool {
			if msg.Username == "" {
				return false
			}
			lower := strings.ToLower(msg.Username)
			for _, p := range usernamePatterns {
				if p != "" && strings.Contains(lower, strings.ToLower(p)) {
					return true
				}
			}
			return false
		},
	})
	return d
}

// Detect returns the matching signal's reason, or ("", false).
func (d *ProxyDetector) Detect(msg *InboundMessage) (string, bool) {
	for _, s := range d.signals {
		if s.match(msg) {
			return s.reason, true
		}
	}
	return "", false
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = true
		}
	}
	return set
}
