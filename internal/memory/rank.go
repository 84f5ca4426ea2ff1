package memory

import (
	"encoding/binary"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/ent0n29/secondbrain/internal/thought"
)

// CosineSimilarity returns a value in [-1, 1]. Mismatched or empty vectors
// score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// Float32ToBytes encodes a vector as little-endian float32s.
func Float32ToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func BytesToFloat32(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// TextRank scores how many query terms appear in the thought's claim,
// context and tags, in [0, 1].
func TextRank(query string, t thought.Thought) float64 {
	terms := tokenize(query)
	if len(terms) == 0 {
		return 0
	}
	doc := make(map[string]struct{})
	for _, tok := range tokenize(t.Claim + " " + t.Context + " " + strings.Join(t.Tags, " ")) {
		doc[tok] = struct{}{}
	}
	hits := 0
	for _, term := range terms {
		if _, ok := doc[term]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// RRFScore is the reciprocal rank fusion contribution of a 1-based rank.
// Rank 0 means the item was absent from that ranking.
func RRFScore(rank int) float64 {
	if rank <= 0 {
		return 0
	}
	return 1 / float64(RRFK+rank)
}

// rankByVector is the in-process implementation of SearchThoughts.
func rankByVector(candidates []thought.Thought, q SearchQuery) []thought.Match {
	q = q.withDefaults()
	matches := make([]thought.Match, 0, len(candidates))
	for _, t := range candidates {
		if q.UserID != "" && t.UserID != q.UserID {
			continue
		}
		if len(t.Embedding) == 0 {
			continue
		}
		sim := CosineSimilarity(q.Embedding, t.Embedding)
		if sim < q.Threshold {
			continue
		}
		matches = append(matches, thought.Match{Thought: t, Similarity: sim})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	if len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	return matches
}

// rankHybrid is the in-process implementation of HybridSearchThoughts.
func rankHybrid(candidates []thought.Thought, q HybridQuery) []thought.Match {
	q = q.withDefaults()
	pool := q.candidatePool()

	filtered := make([]thought.Match, 0, len(candidates))
	for _, t := range candidates {
		if q.UserID != "" && t.UserID != q.UserID {
			continue
		}
		if q.Kind != "" && t.Kind != q.Kind {
			continue
		}
		if len(q.Tags) > 0 && !sharesTag(t.Tags, q.Tags) {
			continue
		}
		m := thought.Match{Thought: t, TextRank: TextRank(q.Text, t)}
		if len(t.Embedding) > 0 {
			m.Similarity = CosineSimilarity(q.Embedding, t.Embedding)
		}
		filtered = append(filtered, m)
	}

	scores := make(map[string]float64, len(filtered))
	byVector := make([]int, 0, len(filtered))
	byText := make([]int, 0, len(filtered))
	for i, m := range filtered {
		if len(m.Embedding) > 0 {
			byVector = append(byVector, i)
		}
		if m.TextRank > 0 {
			byText = append(byText, i)
		}
	}
	sort.SliceStable(byVector, func(a, b int) bool { return filtered[byVector[a]].Similarity > filtered[byVector[b]].Similarity })
	sort.SliceStable(byText, func(a, b int) bool { return filtered[byText[a]].TextRank > filtered[byText[b]].TextRank })
	for rank, idx := range byVector {
		if rank >= pool {
			break
		}
		scores[filtered[idx].ID] += RRFScore(rank + 1)
	}
	for rank, idx := range byText {
		if rank >= pool {
			break
		}
		scores[filtered[idx].ID] += RRFScore(rank + 1)
	}

	out := make([]thought.Match, 0, len(scores))
	for _, m := range filtered {
		score, ok := scores[m.ID]
		if !ok {
			continue
		}
		m.HybridScore = score
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].HybridScore > out[j].HybridScore })
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func sharesTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}
