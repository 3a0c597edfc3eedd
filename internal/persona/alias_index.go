package persona

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
)

// ErrAliasCollision is returned when registering an alias that already
// maps to a different persona and reassignment was not requested.
type ErrAliasCollision struct {
	Alias   string
	OwnedBy string
}

func (e *ErrAliasCollision) Error() string {
	return fmt.Sprintf("alias %q already maps to persona %q", e.Alias, e.OwnedBy)
}

// ordinalSuffixes are tried in order when deriving a distinct alias
// from a colliding display name.
var ordinalSuffixes = []string{
	"second", "third", "fourth", "fifth", "sixth",
	"seventh", "eighth", "ninth", "tenth",
}

const randomSuffixLen = 5
const randomSuffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// AliasIndex maintains the alias -> persona mapping and resolves free
// text to a persona name. All aliases are stored lowercased with
// internal whitespace runs collapsed.
//
// Matching tries word windows from shortest to longest and returns on
// the first hit. A short alias that is a textual prefix of a longer
// one therefore shadows the longer one; this is a known limitation
// kept for compatibility with observed routing behavior.
type AliasIndex struct {
	mu       sync.RWMutex
	marker   string
	aliases  map[string]string // normalized alias -> persona full name
	personas map[string]*Persona

	// maxWords caches the largest word count among current aliases.
	// It is bumped on insert and marked stale on removals that drop a
	// max-length alias; stale values are recomputed on next read.
	maxWords int
	maxStale bool
}

// NewAliasIndex creates an empty index. marker is the mention prefix
// stripped from inbound text before matching (e.g. "@").
func NewAliasIndex(marker string) *AliasIndex {
	if marker == "" {
		marker = "@"
	}
	return &AliasIndex{
		marker:   marker,
		aliases:  make(map[string]string),
		personas: make(map[string]*Persona),
		maxWords: 1,
	}
}

// NormalizeAlias lowercases, collapses internal whitespace runs to
// single spaces, and trims trailing punctuation.
func NormalizeAlias(alias string) string {
	alias = strings.Join(strings.Fields(alias), " ")
	alias = strings.ToLower(alias)
	return strings.TrimRight(alias, ".,!?;:")
}

// AddPersona registers a persona and all of its aliases. Alias
// collisions with other personas fail the whole call.
func (ix *AliasIndex) AddPersona(p *Persona) error {
	if p == nil || p.FullName == "" {
		return fmt.Errorf("persona must have a full name")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, a := range p.Aliases {
		norm := NormalizeAlias(a)
		if owner, ok := ix.aliases[norm]; ok && owner != p.FullName {
			return &ErrAliasCollision{Alias: norm, OwnedBy: owner}
		}
	}

	ix.personas[p.FullName] = p
	for _, a := range p.Aliases {
		ix.insertAliasLocked(NormalizeAlias(a), p.FullName)
	}
	return nil
}

// RegisterAlias maps alias to personaName. If the alias already maps
// to a different persona the call fails with ErrAliasCollision unless
// reassign is true.
func (ix *AliasIndex) RegisterAlias(alias, personaName string, reassign bool) error {
	norm := NormalizeAlias(alias)
	if norm == "" {
		return fmt.Errorf("alias must not be empty")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if owner, ok := ix.aliases[norm]; ok && owner != personaName && !reassign {
		return &ErrAliasCollision{Alias: norm, OwnedBy: owner}
	}
	ix.insertAliasLocked(norm, personaName)
	return nil
}

// UnregisterAlias removes a single alias. It reports whether the alias
// was present.
func (ix *AliasIndex) UnregisterAlias(alias string) bool {
	norm := NormalizeAlias(alias)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.aliases[norm]; !ok {
		return false
	}
	delete(ix.aliases, norm)
	ix.invalidateMaxLocked(norm)
	return true
}

// RemovePersona drops a persona and every alias pointing at it. It
// reports whether the persona was known.
func (ix *AliasIndex) RemovePersona(fullName string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	_, known := ix.personas[fullName]
	delete(ix.personas, fullName)

	removed := false
	staleMax := false
	for a, owner := range ix.aliases {
		if owner != fullName {
			continue
		}
		delete(ix.aliases, a)
		removed = true
		if wordCount(a) >= ix.maxWords {
			staleMax = true
		}
	}
	if staleMax {
		ix.maxStale = true
	}
	return known || removed
}

// Resolve matches the leading words of text (after the mention marker)
// against registered aliases. It returns the persona full name, or ""
// when nothing matches. Windows of 1..maxAliasWordCount words are
// tried shortest first.
func (ix *AliasIndex) Resolve(text string) string {
	name, _ := ix.ResolveMatch(text)
	return name
}

// ResolveMatch is Resolve plus the remaining text after the matched
// mention window, so callers can hand the persona just the message
// body.
func (ix *AliasIndex) ResolveMatch(text string) (personaName, rest string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, ix.marker) {
		return "", ""
	}
	words := strings.Fields(strings.TrimPrefix(text, ix.marker))
	if len(words) == 0 {
		return "", ""
	}

	ix.mu.Lock()
	max := ix.maxWordsLocked()
	ix.mu.Unlock()

	if max > len(words) {
		max = len(words)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	for n := 1; n <= max; n++ {
		candidate := NormalizeAlias(strings.Join(words[:n], " "))
		if name, ok := ix.aliases[candidate]; ok {
			return name, strings.Join(words[n:], " ")
		}
	}
	return "", ""
}

// DeriveAlias derives a collision-free alias from a display name for
// personaName. The bare name is preferred; on collision, ordinal
// suffixes (name-second, name-third, ...) are tried; failing those, a
// short random suffix is appended.
func (ix *AliasIndex) DeriveAlias(displayName, personaName string) (string, error) {
	root := NormalizeAlias(displayName)
	if root == "" {
		return "", fmt.Errorf("display name must not be empty")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if owner, ok := ix.aliases[root]; !ok || owner == personaName {
		ix.insertAliasLocked(root, personaName)
		return root, nil
	}

	for _, ord := range ordinalSuffixes {
		candidate := root + "-" + ord
		if owner, ok := ix.aliases[candidate]; !ok || owner == personaName {
			ix.insertAliasLocked(candidate, personaName)
			return candidate, nil
		}
	}

	// All ordinals taken; fall back to a random suffix. Collisions at
	// this point are improbable, so a small retry bound suffices.
	for attempt := 0; attempt < 100; attempt++ {
		candidate := root + "-" + randomSuffix()
		if _, ok := ix.aliases[candidate]; !ok {
			ix.insertAliasLocked(candidate, personaName)
			return candidate, nil
		}
	}
	return "", fmt.Errorf("could not derive a distinct alias for %q", displayName)
}

// MaxAliasWordCount returns the largest word count among registered
// aliases, recomputing first if a removal left the cache stale. Never
// below 1.
func (ix *AliasIndex) MaxAliasWordCount() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.maxWordsLocked()
}

// PersonaName returns the persona a normalized alias maps to, or "".
func (ix *AliasIndex) PersonaName(alias string) string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.aliases[NormalizeAlias(alias)]
}

// Personas returns all personas registered via AddPersona.
func (ix *AliasIndex) Personas() []*Persona {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]*Persona, 0, len(ix.personas))
	for _, p := range ix.personas {
		out = append(out, p)
	}
	return out
}

// Persona returns the registered persona with the given full name.
func (ix *AliasIndex) Persona(fullName string) *Persona {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.personas[fullName]
}

// Aliases returns all aliases registered for a persona.
func (ix *AliasIndex) Aliases(personaName string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []string
	for a, owner := range ix.aliases {
		if owner == personaName {
			out = append(out, a)
		}
	}
	return out
}

func (ix *AliasIndex) insertAliasLocked(norm, personaName string) {
	ix.aliases[norm] = personaName
	if wc := wordCount(norm); !ix.maxStale && wc > ix.maxWords {
		ix.maxWords = wc
	}
}

func (ix *AliasIndex) invalidateMaxLocked(removed string) {
	if wordCount(removed) >= ix.maxWords {
		ix.maxStale = true
	}
}

func (ix *AliasIndex) maxWordsLocked() int {
	if ix.maxStale {
		// Full rescan: nothing cheaper tracks the runner-up length.
		max := 1
		for a := range ix.aliases {
			if wc := wordCount(a); wc > max {
				max = wc
			}
		}
		ix.maxWords = max
		ix.maxStale = false
	}
	if ix.maxWords < 1 {
		ix.maxWords = 1
	}
	return ix.maxWords
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

func randomSuffix() string {
	b := make([]byte, randomSuffixLen)
	for i := range b {
		b[i] = randomSuffixAlphabet[rand.Intn(len(randomSuffixAlphabet))]
	}
	return string(b)
}
