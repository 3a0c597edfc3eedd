package persona

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeAlias(t *testing.T) {
	testCases := []struct {
		name     string
		in       string
		expected string
	}{
		{"lowercases", "Lilith", "lilith"},
		{"collapses whitespace", "dr.   strange  love", "dr. strange love"},
		{"trims trailing punctuation", "marvin?!", "marvin"},
		{"keeps internal punctuation", "mr. roboto", "mr. roboto"},
		{"trims outer space", "  echo  ", "echo"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeAlias(tc.in); got != tc.expected {
				t.Errorf("NormalizeAlias(%q) = %q, want %q", tc.in, got, tc.expected)
			}
		})
	}
}

func TestResolve_WordWindows(t *testing.T) {
	ix := NewAliasIndex("@")
	mustRegister(t, ix, "marvin", "Marvin the Paranoid Android")
	mustRegister(t, ix, "dr strange", "Doctor Strange")
	mustRegister(t, ix, "the great gonzo", "Gonzo")

	testCases := []struct {
		name     string
		text     string
		expected string
	}{
		{"single word alias", "@marvin what now", "Marvin the Paranoid Android"},
		{"two word alias", "@dr strange heal me", "Doctor Strange"},
		{"three word alias", "@the great gonzo juggle", "Gonzo"},
		{"case insensitive", "@MARVIN hello", "Marvin the Paranoid Android"},
		{"trailing punctuation on mention", "@marvin, are you there?", "Marvin the Paranoid Android"},
		{"no marker", "marvin hello", ""},
		{"unknown alias", "@zaphod hi", ""},
		{"marker only", "@", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ix.Resolve(tc.text); got != tc.expected {
				t.Errorf("Resolve(%q) = %q, want %q", tc.text, got, tc.expected)
			}
		})
	}
}

func TestResolve_ShorterAliasShadowsLonger(t *testing.T) {
	ix := NewAliasIndex("@")
	mustRegister(t, ix, "gonzo", "PersonaShort")
	mustRegister(t, ix, "gonzo prime", "PersonaLong")

	// Shortest window wins; the longer alias is shadowed by design.
	if got := ix.Resolve("@gonzo prime directive"); got != "PersonaShort" {
		t.Errorf("expected shadowing short alias to win, got %q", got)
	}
}

func TestRegisterAlias_Collision(t *testing.T) {
	ix := NewAliasIndex("@")
	mustRegister(t, ix, "echo", "PersonaA")

	err := ix.RegisterAlias("Echo", "PersonaB", false)
	var collision *ErrAliasCollision
	if !errors.As(err, &collision) {
		t.Fatalf("expected ErrAliasCollision, got %v", err)
	}
	if collision.OwnedBy != "PersonaA" {
		t.Errorf("expected collision owner PersonaA, got %q", collision.OwnedBy)
	}

	// Explicit reassignment succeeds.
	if err := ix.RegisterAlias("echo", "PersonaB", true); err != nil {
		t.Fatalf("reassignment failed: %v", err)
	}
	if got := ix.PersonaName("echo"); got != "PersonaB" {
		t.Errorf("expected echo -> PersonaB after reassign, got %q", got)
	}
}

func TestMaxAliasWordCount_AddRemove(t *testing.T) {
	ix := NewAliasIndex("@")
	if got := ix.MaxAliasWordCount(); got != 1 {
		t.Fatalf("empty index max = %d, want 1", got)
	}

	mustRegister(t, ix, "a", "P1")
	mustRegister(t, ix, "b c d", "P2")
	if got := ix.MaxAliasWordCount(); got != 3 {
		t.Fatalf("max = %d, want 3", got)
	}

	// Removing the max-length alias triggers the full rescan.
	if !ix.UnregisterAlias("b c d") {
		t.Fatal("expected alias to be removed")
	}
	if got := ix.MaxAliasWordCount(); got != 1 {
		t.Fatalf("max after removal = %d, want 1", got)
	}

	// Never drops below 1, even with no aliases left.
	ix.UnregisterAlias("a")
	if got := ix.MaxAliasWordCount(); got != 1 {
		t.Fatalf("max on empty index = %d, want 1", got)
	}
}

func TestMaxAliasWordCount_RemovePersona(t *testing.T) {
	ix := NewAliasIndex("@")
	mustRegister(t, ix, "short", "Keeper")
	mustRegister(t, ix, "one two three four", "Verbose")
	mustRegister(t, ix, "one two", "Verbose")

	if got := ix.MaxAliasWordCount(); got != 4 {
		t.Fatalf("max = %d, want 4", got)
	}
	if !ix.RemovePersona("Verbose") {
		t.Fatal("expected persona removal to succeed")
	}
	if got := ix.MaxAliasWordCount(); got != 1 {
		t.Fatalf("max after persona removal = %d, want 1", got)
	}
	if ix.RemovePersona("Verbose") {
		t.Error("second removal should report false")
	}
}

func TestDeriveAlias_Ordinals(t *testing.T) {
	ix := NewAliasIndex("@")

	got, err := ix.DeriveAlias("Lilith", "PersonaA")
	if err != nil || got != "lilith" {
		t.Fatalf("first derive = (%q, %v), want (lilith, nil)", got, err)
	}

	got, err = ix.DeriveAlias("Lilith", "PersonaB")
	if err != nil || got != "lilith-second" {
		t.Fatalf("second derive = (%q, %v), want (lilith-second, nil)", got, err)
	}

	got, err = ix.DeriveAlias("Lilith", "PersonaC")
	if err != nil || got != "lilith-third" {
		t.Fatalf("third derive = (%q, %v), want (lilith-third, nil)", got, err)
	}
}

func TestDeriveAlias_RandomFallback(t *testing.T) {
	ix := NewAliasIndex("@")
	if _, err := ix.DeriveAlias("lilith", "P0"); err != nil {
		t.Fatal(err)
	}
	for _, ord := range ordinalSuffixes {
		mustRegister(t, ix, "lilith-"+ord, "Taken"+ord)
	}

	got, err := ix.DeriveAlias("lilith", "PersonaZ")
	if err != nil {
		t.Fatalf("derive with exhausted ordinals failed: %v", err)
	}
	if !strings.HasPrefix(got, "lilith-") {
		t.Fatalf("expected lilith- prefix, got %q", got)
	}
	suffix := strings.TrimPrefix(got, "lilith-")
	if len(suffix) != randomSuffixLen {
		t.Errorf("expected %d-char random suffix, got %q", randomSuffixLen, suffix)
	}
}

func TestResolve_ExtraWordsNeverInspected(t *testing.T) {
	ix := NewAliasIndex("@")
	mustRegister(t, ix, "one two", "P")

	// Max word count is 2, so only the first two words matter; a match
	// in the tail must not resolve.
	if got := ix.Resolve("@nope nope one two"); got != "" {
		t.Errorf("expected no match beyond the window, got %q", got)
	}
}

func mustRegister(t *testing.T, ix *AliasIndex, alias, personaName string) {
	t.Helper()
	if err := ix.RegisterAlias(alias, personaName, false); err != nil {
		t.Fatalf("RegisterAlias(%q, %q) failed: %v", alias, personaName, err)
	}
}
