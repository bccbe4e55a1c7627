// Package spellbook holds the static spell lexicon and the transcript
// rescorer that maps noisy speech onto lexicon entries.
//
// The lexicon is immutable after load. A default book ships embedded in the
// binary; deployments can override it with their own YAML file. Every lookup
// path is read-only, so a [Book] is safe for concurrent use.
package spellbook

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/antzucaro/matchr"
	"gopkg.in/yaml.v3"
)

//go:embed data/lexicon.yaml
var defaultLexicon []byte

// Element is the elemental tag of a spell, used for client-side effect
// selection only.
type Element string

// Kind classifies what a spell does when it resolves.
type Kind string

const (
	KindAttack  Kind = "attack"
	KindShield  Kind = "shield"
	KindHeal    Kind = "heal"
	KindUtility Kind = "utility"
)

// IsValid reports whether k is a recognised spell kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindAttack, KindShield, KindHeal, KindUtility:
		return true
	}
	return false
}

// Difficulty is a coarse pronunciation-difficulty tag.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// IsValid reports whether d is a recognised difficulty tag.
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Entry is one spell in the lexicon. Entries are loaded once at startup and
// never mutated at runtime.
type Entry struct {
	// ID is the unique lookup key for the spell (e.g., "stupefy").
	ID string `yaml:"id"`

	// Name is the canonical spoken incantation.
	Name string `yaml:"name"`

	// Aliases are alternative spellings/hearings of the incantation.
	Aliases []string `yaml:"aliases"`

	// Phonemes are coarse phonetic renderings. When one of them appears as
	// a literal substring of a normalized transcript, the rescorer treats
	// the entry as a near-certain match.
	Phonemes []string `yaml:"phonemes"`

	Element    Element    `yaml:"element"`
	Kind       Kind       `yaml:"kind"`
	Difficulty Difficulty `yaml:"difficulty"`

	// Damage and Healing are the base effect magnitudes before power scaling.
	Damage  int `yaml:"damage"`
	Healing int `yaml:"healing"`

	// Shield is the absorption pool granted by shield spells.
	Shield int `yaml:"shield"`

	ManaCost   int `yaml:"mana_cost"`
	CooldownMs int `yaml:"cooldown_ms"`
}

// Cooldown returns the spell's per-spell cooldown as a duration.
func (e *Entry) Cooldown() time.Duration {
	return time.Duration(e.CooldownMs) * time.Millisecond
}

// lexiconFile is the top-level YAML structure of a lexicon file.
type lexiconFile struct {
	Lexicon lexiconMeta `yaml:"lexicon"`
	Spells  []Entry     `yaml:"spells"`
}

type lexiconMeta struct {
	// Name is a display label for the lexicon.
	Name string `yaml:"name"`

	// Fallback is the ID of the entry returned when no candidate clears the
	// match threshold. Must reference an existing spell.
	Fallback string `yaml:"fallback"`
}

// Book is a loaded, validated spell lexicon plus the precomputed match data
// the rescorer needs. Read-only after construction.
type Book struct {
	entries  []Entry
	byID     map[string]*Entry
	fallback *Entry

	// Precomputed per entry, index-aligned with entries: normalized
	// canonical name + aliases, and their phonetic keys.
	normTexts [][]string
	keys      [][]string
}

// Default returns the Book built from the embedded lexicon. It panics on
// error: a broken embedded lexicon is a build defect, not a runtime
// condition.
func Default() *Book {
	b, err := LoadFromReader(strings.NewReader(string(defaultLexicon)))
	if err != nil {
		panic(fmt.Sprintf("spellbook: embedded lexicon is invalid: %v", err))
	}
	return b
}

// Load reads and parses a lexicon YAML file from disk.
func Load(path string) (*Book, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("spellbook: open lexicon %q: %w", path, err)
	}
	defer f.Close()

	b, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("spellbook: parse lexicon %q: %w", path, err)
	}
	return b, nil
}

// LoadFromReader parses and validates lexicon YAML from r.
func LoadFromReader(r io.Reader) (*Book, error) {
	var lf lexiconFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&lf); err != nil {
		return nil, fmt.Errorf("spellbook: decode lexicon yaml: %w", err)
	}
	return newBook(lf)
}

// newBook validates the parsed lexicon and precomputes match data.
func newBook(lf lexiconFile) (*Book, error) {
	if len(lf.Spells) == 0 {
		return nil, errors.New("spellbook: lexicon contains no spells")
	}

	b := &Book{
		entries: lf.Spells,
		byID:    make(map[string]*Entry, len(lf.Spells)),
	}

	var errs []error
	for i := range b.entries {
		e := &b.entries[i]
		prefix := fmt.Sprintf("spells[%d]", i)
		if e.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
			continue
		}
		if _, dup := b.byID[e.ID]; dup {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate", prefix, e.ID))
			continue
		}
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if !e.Kind.IsValid() {
			errs = append(errs, fmt.Errorf("%s.kind %q is invalid; valid values: attack, shield, heal, utility", prefix, e.Kind))
		}
		if e.Difficulty != "" && !e.Difficulty.IsValid() {
			errs = append(errs, fmt.Errorf("%s.difficulty %q is invalid; valid values: easy, medium, hard", prefix, e.Difficulty))
		}
		if e.ManaCost < 0 || e.ManaCost > 100 {
			errs = append(errs, fmt.Errorf("%s.mana_cost %d is out of range [0, 100]", prefix, e.ManaCost))
		}
		if e.CooldownMs < 0 {
			errs = append(errs, fmt.Errorf("%s.cooldown_ms must not be negative", prefix))
		}
		b.byID[e.ID] = e
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("spellbook: invalid lexicon: %w", errors.Join(errs...))
	}

	if lf.Lexicon.Fallback == "" {
		return nil, errors.New("spellbook: lexicon.fallback is required")
	}
	fb, ok := b.byID[lf.Lexicon.Fallback]
	if !ok {
		return nil, fmt.Errorf("spellbook: lexicon.fallback %q does not reference a spell", lf.Lexicon.Fallback)
	}
	b.fallback = fb

	b.precompute()
	b.warnConfusable()
	return b, nil
}

// precompute builds the normalized text and phonetic-key tables used by
// the rescorer.
func (b *Book) precompute() {
	b.normTexts = make([][]string, len(b.entries))
	b.keys = make([][]string, len(b.entries))
	for i := range b.entries {
		e := &b.entries[i]
		texts := make([]string, 0, 1+len(e.Aliases))
		texts = append(texts, Normalize(e.Name))
		for _, a := range e.Aliases {
			if n := Normalize(a); n != "" {
				texts = append(texts, n)
			}
		}
		keys := make([]string, 0, len(texts))
		for _, t := range texts {
			if k := PhoneticKey(t); k != "" {
				keys = append(keys, k)
			}
		}
		b.normTexts[i] = texts
		b.keys[i] = keys
	}
}

// warnConfusable logs a warning for every pair of entries whose canonical
// names share a Double Metaphone code. Confusable incantations make duels
// frustrating; the lexicon author should pick more distinct names.
func (b *Book) warnConfusable() {
	codes := make(map[string]string, len(b.entries)*2) // code → first spell ID
	for i := range b.entries {
		e := &b.entries[i]
		primary, secondary := matchr.DoubleMetaphone(strings.ReplaceAll(Normalize(e.Name), " ", ""))
		for _, code := range []string{primary, secondary} {
			if code == "" {
				continue
			}
			if prev, ok := codes[code]; ok && prev != e.ID {
				slog.Warn("spellbook: phonetically confusable incantations",
					"spell", e.ID,
					"conflicts_with", prev,
					"metaphone", code,
				)
				continue
			}
			codes[code] = e.ID
		}
	}
}

// Get returns the entry with the given ID, or nil when unknown.
func (b *Book) Get(id string) *Entry {
	return b.byID[id]
}

// Fallback returns the designated safe fallback entry.
func (b *Book) Fallback() *Entry {
	return b.fallback
}

// Entries returns the lexicon in declaration order. The returned slice must
// not be mutated.
func (b *Book) Entries() []Entry {
	return b.entries
}

// Len returns the number of spells in the lexicon.
func (b *Book) Len() int {
	return len(b.entries)
}

// Incantations returns every spoken form in the book, canonical names first
// and then aliases, deduplicated case-insensitively. Recognition backends use
// this list for keyword boosting.
func (b *Book) Incantations() []string {
	seen := make(map[string]struct{}, len(b.entries)*2)
	out := make([]string, 0, len(b.entries)*2)
	add := func(s string) {
		n := Normalize(s)
		if n == "" {
			return
		}
		if _, ok := seen[n]; ok {
			return
		}
		seen[n] = struct{}{}
		out = append(out, s)
	}
	for i := range b.entries {
		add(b.entries[i].Name)
	}
	for i := range b.entries {
		for _, a := range b.entries[i].Aliases {
			add(a)
		}
	}
	return out
}
