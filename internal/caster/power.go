package caster

// Power calculation weights. Accuracy dominates so pronunciation matters
// more than shouting, and the fallback penalty keeps assist casts viable
// without zeroing them.
const (
	accuracyWeight  = 0.6
	loudnessWeight  = 0.4
	fallbackPenalty = 0.6
)

// Power maps match accuracy and normalized loudness onto the effect
// magnitude in [0, 1]. matched=false applies the fallback penalty for casts
// that resolved to the lexicon fallback instead of a real match.
func Power(accuracy, normRMS float64, matched bool) float64 {
	p := accuracyWeight*clamp01(accuracy) + loudnessWeight*clamp01(normRMS)
	if !matched {
		p *= fallbackPenalty
	}
	return clamp01(p)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
