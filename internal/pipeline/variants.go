package pipeline

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"strings"
)

// VariantGenerator produces n query variants for retrieval fan-out. Real
// implementations may call an LLM; the default is deterministic so the
// same (query, domain) pair always produces the same variant set, which
// keeps search results reproducible across retries.
type VariantGenerator interface {
	Generate(query, domain string, n int) []string
}

// deterministicVariantGenerator implements the four variant kinds
// SPEC_FULL.md names without external calls: the original query, a
// keyword-extraction variant, a paraphrase variant, and an
// entity-expansion variant. Additional slots (up to MaxQueryVariants) cycle
// through seeded permutations of the keyword set so higher variant counts
// still add retrieval diversity instead of padding with duplicates.
type deterministicVariantGenerator struct{}

func (deterministicVariantGenerator) Generate(query, domain string, n int) []string {
	if n < 1 {
		n = 1
	}
	variants := make([]string, 0, n)
	variants = append(variants, query)

	keywords := extractKeywords(query)

	if n >= 2 {
		variants = append(variants, strings.Join(keywords, " "))
	}
	if n >= 3 {
		variants = append(variants, paraphrase(query, keywords))
	}
	if n >= 4 {
		variants = append(variants, entityExpand(query, domain))
	}

	for i := len(variants); i < n; i++ {
		variants = append(variants, seededPermutation(query, keywords, i))
	}

	return variants[:n]
}

// stopWords is a small, fixed list; good enough to separate content words
// from function words for a keyword-extraction variant without pulling in
// a full NLP dependency.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "to": true, "and": true,
	"in": true, "on": true, "for": true, "is": true, "are": true, "with": true,
	"that": true, "this": true, "it": true, "as": true, "by": true, "at": true,
}

func extractKeywords(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	keywords := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'")
		if f == "" || stopWords[f] {
			continue
		}
		keywords = append(keywords, f)
	}
	if len(keywords) == 0 {
		return []string{strings.ToLower(query)}
	}
	return keywords
}

// paraphrase produces a deterministic reordering of the query's keywords,
// trailing the original query for context. This is a stand-in for an
// LLM-backed paraphraser: same shape of variant, no external call.
func paraphrase(query string, keywords []string) string {
	reordered := make([]string, len(keywords))
	copy(reordered, keywords)
	sort.Sort(sort.Reverse(sort.StringSlice(reordered)))
	return strings.Join(reordered, " ") + " " + query
}

// entityExpand appends the domain as a qualifying term, approximating an
// entity-expansion variant that scopes the query to a knowledge domain.
func entityExpand(query, domain string) string {
	if domain == "" {
		return query
	}
	return query + " " + domain
}

// seededPermutation derives a stable pseudo-random rotation of keywords
// from a hash of (query, index), for variant slots beyond the four named
// kinds.
func seededPermutation(query string, keywords []string, index int) string {
	if len(keywords) == 0 {
		return query
	}
	h := sha256.Sum256([]byte(query + string(rune(index))))
	seed := binary.BigEndian.Uint32(h[:4])

	rotated := make([]string, len(keywords))
	offset := int(seed) % len(keywords)
	for i := range keywords {
		rotated[i] = keywords[(i+offset)%len(keywords)]
	}
	return strings.Join(rotated, " ")
}
