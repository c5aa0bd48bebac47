package matching

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"

	"github.com/ArnBdev/OneAgent-sub002/registry"
)

// maxCachedTexts bounds the analysed-capability cache. A full cache is
// dropped and refilled on demand.
const maxCachedTexts = 4096

// Bleve matches on analysed terms rather than raw substrings: the query
// and the capability text both go through bleve's English analyzer, so
// "analyzing" matches "analysis" and stop words never count.
type Bleve struct {
	analyzer analysis.Analyzer

	mu    sync.Mutex
	cache map[string]map[string]bool
}

// NewBleve creates a matcher using the named bleve analyzer.
// An empty name selects the English analyzer.
func NewBleve(analyzerName string) *Bleve {
	if analyzerName == "" {
		analyzerName = en.AnalyzerName
	}
	m := bleve.NewIndexMapping()
	a := m.AnalyzerNamed(analyzerName)
	if a == nil {
		a = m.AnalyzerNamed(standard.Name)
	}
	return &Bleve{analyzer: a, cache: make(map[string]map[string]bool)}
}

// Score implements Matcher.
func (b *Bleve) Score(query string, c registry.Capability) float64 {
	capTerms := b.capabilityTerms(c.Text())
	var score float64
	seen := make(map[string]bool)
	for _, term := range b.queryTerms(query) {
		if seen[term] {
			continue
		}
		seen[term] = true
		if capTerms[term] {
			score++
		}
	}
	return score
}

func (b *Bleve) queryTerms(query string) []string {
	var terms []string
	for _, tok := range b.analyzer.Analyze([]byte(query)) {
		if utf8.RuneCount([]byte(query)[tok.Start:tok.End]) < MinTokenLength {
			continue
		}
		terms = append(terms, string(tok.Term))
	}
	return terms
}

func (b *Bleve) capabilityTerms(text string) map[string]bool {
	key := strings.ToLower(text)

	b.mu.Lock()
	defer b.mu.Unlock()

	if terms, ok := b.cache[key]; ok {
		return terms
	}
	terms := make(map[string]bool)
	for _, tok := range b.analyzer.Analyze([]byte(text)) {
		terms[string(tok.Term)] = true
	}
	if len(b.cache) >= maxCachedTexts {
		b.cache = make(map[string]map[string]bool)
	}
	b.cache[key] = terms
	return terms
}
