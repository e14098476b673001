package textutil

// CosineSimilarity scores how close two post fingerprints are, in [0, 1].
// 1 means identical content tokens. Returns 0 when either fingerprint is
// nil or empty.
func CosineSimilarity(a, b *Fingerprint) float64 {
	if a == nil || b == nil || a.norm == 0 || b.norm == 0 {
		return 0
	}
	var dot float64
	for token, count := range a.tokens {
		if other, ok := b.tokens[token]; ok {
			dot += count * other
		}
	}
	if dot == 0 {
		return 0
	}
	return dot / (a.norm * b.norm)
}
