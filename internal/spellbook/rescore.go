package spellbook

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

// Scoring weights. Text similarity dominates slightly because recognizers
// usually get most letters right; the phonetic key rescues vowel mangling.
const (
	textWeight     = 0.55
	phoneticWeight = 0.45

	// phonemeOverride is the score assigned when one of an entry's stored
	// coarse phoneme strings appears verbatim inside the normalized
	// transcript. Handles multi-word incantations that edit distance
	// punishes too hard.
	phonemeOverride = 0.9
)

// Candidate is one rescored lexicon entry.
type Candidate struct {
	ID    string
	Name  string
	Score float64 // in [0, 1], higher is better
}

// Match is the result of [Book.BestOrFallback]. Entry is never nil.
type Match struct {
	Entry *Entry

	// Score is the rescorer score of Entry against the transcript. For a
	// fallback result it is the (failing) score of the best real candidate.
	Score float64

	// Matched is false when no candidate cleared the threshold and the
	// lexicon fallback was substituted.
	Matched bool
}

// Rescore ranks every lexicon entry against transcript and returns the topN
// candidates, best first. Ties keep lexicon declaration order. topN <= 0
// returns all entries.
func (b *Book) Rescore(transcript string, topN int) []Candidate {
	norm := Normalize(transcript)
	key := PhoneticKey(norm)

	out := make([]Candidate, len(b.entries))
	for i := range b.entries {
		out[i] = Candidate{
			ID:    b.entries[i].ID,
			Name:  b.entries[i].Name,
			Score: b.scoreEntry(i, norm, key),
		}
	}

	// Stable sort preserves declaration order among equal scores.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	if topN > 0 && topN < len(out) {
		out = out[:topN]
	}
	return out
}

// BestOrFallback returns the top candidate when its score reaches minScore,
// and the designated fallback entry with Matched=false otherwise. A
// finalized utterance always resolves to some castable spell; dropping it
// would stall the duel.
func (b *Book) BestOrFallback(transcript string, minScore float64) Match {
	ranked := b.Rescore(transcript, 1)
	best := ranked[0]
	if best.Score >= minScore {
		return Match{Entry: b.byID[best.ID], Score: best.Score, Matched: true}
	}
	return Match{Entry: b.fallback, Score: best.Score, Matched: false}
}

// scoreEntry computes the blended score of entry i against the normalized
// transcript and its phonetic key.
func (b *Book) scoreEntry(i int, norm, key string) float64 {
	e := &b.entries[i]

	// Best text similarity across canonical name and aliases.
	var text float64
	for _, t := range b.normTexts[i] {
		if s := similarity(norm, t); s > text {
			text = s
		}
	}

	// Best phonetic-key similarity.
	var phon float64
	for _, k := range b.keys[i] {
		if s := similarity(key, k); s > phon {
			phon = s
		}
	}

	score := textWeight*text + phoneticWeight*phon

	// Phoneme substring override: a stored coarse rendering heard verbatim
	// is near-certain regardless of edit distance. An exact canonical match
	// already scores higher, so the override only ever raises the score.
	if score < phonemeOverride {
		for _, ph := range e.Phonemes {
			phNorm := Normalize(ph)
			if phNorm != "" && strings.Contains(norm, phNorm) {
				return phonemeOverride
			}
		}
	}
	return score
}

// similarity is 1 − normalized Levenshtein distance. Two empty strings are
// identical; one empty string is maximally distant.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	d := matchr.Levenshtein(a, b)
	return 1 - float64(d)/float64(maxLen)
}
