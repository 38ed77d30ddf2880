package search

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/ms-iwade/opensearch-app/internal/model"
)

// BM25 parameters (Okapi variant, standard values).
const (
	paramK1      = 1.2
	paramB       = 0.75
	paramEpsilon = 0.25
)

// Field weights: a content match counts more than a status match,
// approximating the multi_match over [content, status] that the
// original search resolver issued.
const (
	contentWeight = 3
	statusWeight  = 1
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// itemIndex is a BM25 index over a snapshot of items. Built per
// query; immutable once built.
type itemIndex struct {
	items     []model.Item
	termFreqs []map[string]int
	lengths   []int
	avgLength float64
	idf       map[string]float64
}

func buildIndex(items []model.Item) *itemIndex {
	ix := &itemIndex{
		items:     items,
		termFreqs: make([]map[string]int, len(items)),
		lengths:   make([]int, len(items)),
		idf:       make(map[string]float64),
	}

	docFreq := make(map[string]int)
	var totalLength int

	for i, item := range items {
		tokens := itemTokens(item)
		ix.lengths[i] = len(tokens)
		totalLength += len(tokens)

		freq := make(map[string]int)
		seen := make(map[string]bool)
		for _, token := range tokens {
			freq[token]++
			if !seen[token] {
				seen[token] = true
				docFreq[token]++
			}
		}
		ix.termFreqs[i] = freq
	}

	if len(items) > 0 {
		ix.avgLength = float64(totalLength) / float64(len(items))
	}

	// Terms present in every item get a small positive score rather
	// than zero, so they still order results.
	count := float64(len(items))
	for term, freq := range docFreq {
		idf := math.Log(1 + (count-float64(freq)+0.5)/(float64(freq)+0.5))
		if idf < 0 {
			idf = paramEpsilon
		}
		ix.idf[term] = idf
	}
	return ix
}

// search returns items ranked by relevance to term, best first. Items
// that match nothing are omitted.
func (ix *itemIndex) search(term string) []model.Item {
	queryTokens := tokenize(term)
	if len(queryTokens) == 0 {
		return nil
	}

	type hit struct {
		index int
		score float64
	}
	var hits []hit
	for i := range ix.items {
		if score := ix.score(i, queryTokens); score > 0 {
			hits = append(hits, hit{index: i, score: score})
		}
	}
	sort.Slice(hits, func(a, b int) bool { return hits[a].score > hits[b].score })

	results := make([]model.Item, len(hits))
	for i, h := range hits {
		results[i] = ix.items[h.index]
	}
	return results
}

func (ix *itemIndex) score(i int, queryTokens []string) float64 {
	freqs := ix.termFreqs[i]
	length := float64(ix.lengths[i])

	var score float64
	for _, token := range queryTokens {
		idf, ok := ix.idf[token]
		if !ok {
			continue
		}
		freq := float64(freqs[token])
		if freq == 0 {
			continue
		}
		numerator := freq * (paramK1 + 1)
		denominator := freq + paramK1*(1-paramB+paramB*length/ix.avgLength)
		score += idf * numerator / denominator
	}
	return score
}

// itemTokens builds the weighted token sequence for one item by
// repeating each field's tokens per its weight.
func itemTokens(item model.Item) []string {
	var tokens []string
	contentTokens := tokenize(item.Content)
	for i := 0; i < contentWeight; i++ {
		tokens = append(tokens, contentTokens...)
	}
	statusTokens := tokenize(string(item.Status))
	for i := 0; i < statusWeight; i++ {
		tokens = append(tokens, statusTokens...)
	}
	return tokens
}

// tokenize splits text into lowercase alphanumeric tokens, dropping
// single-character noise.
func tokenize(text string) []string {
	matches := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := matches[:0]
	for _, match := range matches {
		if len(match) >= 2 {
			tokens = append(tokens, match)
		}
	}
	return tokens
}
