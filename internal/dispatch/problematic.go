package dispatch

import (
	"math/rand"
	"strings"
	"sync"
)

// KnownProblematicPersona is a curated entry for a persona whose
// backing model is known to leak noisy provider errors. Fallbacks are
// in-character strings shown instead of a generic apology.
type KnownProblematicPersona struct {
	PersonaName     string   `json:"persona_name" yaml:"persona_name"`
	Fallbacks       []string `json:"fallbacks" yaml:"fallbacks"`
	ErrorSubstrings []string `json:"error_substrings,omitempty" yaml:"error_substrings,omitempty"`
}

// ProblematicRegistry holds the curated known-problematic list plus
// the runtime set of personas observed misbehaving in this process.
type ProblematicRegistry struct {
	mu      sync.RWMutex
	known   map[string]*KnownProblematicPersona
	runtime map[string]bool
}

// NewProblematicRegistry builds a registry from the curated list.
func NewProblematicRegistry(curated []KnownProblematicPersona) *ProblematicRegistry {
	r := &ProblematicRegistry{
		known:   make(map[string]*KnownProblematicPersona),
		runtime: make(map[string]bool),
	}
	for i := range curated {
		entry := curated[i]
		r.known[entry.PersonaName] = &entry
	}
	return r
}

// MarkRuntime records that a persona produced classified-error output
// during this process lifetime. Distinct from the curated list.
func (r *ProblematicRegistry) MarkRuntime(personaName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runtime[personaName] = true
}

// IsRuntimeProblematic reports whether the persona misbehaved at
// runtime.
func (r *ProblematicRegistry) IsRuntimeProblematic(personaName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runtime[personaName]
}

// MatchesKnownError reports whether output contains one of the curated
// error substrings for the persona. These catch persona-specific error
// text the generic classifier markers miss.
func (r *ProblematicRegistry) MatchesKnownError(personaName, output string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.known[personaName]
	if !ok {
		return false
	}
	for _, sub := range entry.ErrorSubstrings {
		if sub != "" && strings.Contains(output, sub) {
			return true
		}
	}
	return false
}

// Fallback returns a canned in-character fallback for a curated
// persona, or ("", false) when the persona is not on the curated list.
func (r *ProblematicRegistry) Fallback(personaName string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.known[personaName]
	if !ok || len(entry.Fallbacks) == 0 {
		return "", false
	}
	return entry.Fallbacks[rand.Intn(len(entry.Fallbacks))], true
}
