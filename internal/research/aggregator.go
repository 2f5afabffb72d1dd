package research

import (
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/blevesearch/bleve"

	"github.com/jandive/jandive/internal/helpers"
	"github.com/jandive/jandive/utils"
)

// CorpusEntry is one usable source with its stable citation index.
type CorpusEntry struct {
	Index  int    `json:"index"`
	Source Source `json:"source"`
}

// Coverage is the heuristic signal the orchestrator's stopping check
// consumes.
type Coverage struct {
	Words   int `json:"words"`
	Hosts   int `json:"hosts"`
	Sources int `json:"sources"`
}

type indexedDoc struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Aggregator merges retrieval results into a deduplicated, append-only
// source set and maintains the corpus view. Citation indices are assigned
// when a source enters the corpus and never reassigned. OK text is also
// indexed into an in-memory bleve index for BM25 relevance ranking.
type Aggregator struct {
	seen    map[string]struct{}
	sources []Source
	corpus  []CorpusEntry
	hosts   map[string]struct{}
	words   int
	index   bleve.Index
	logger  *log.Logger
}

func NewAggregator() (*Aggregator, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("corpus index: %w", err)
	}
	return &Aggregator{
		seen:   make(map[string]struct{}),
		hosts:  make(map[string]struct{}),
		index:  index,
		logger: log.New(log.Writer(), "[AGGREGATOR] ", log.LstdFlags),
	}, nil
}

// Merge folds a batch of sources into the session set. Duplicates (by
// query-insensitive canonical URL) keep the first-seen source; later
// fetches of the same page are discarded. Returns how many sources were
// actually added.
func (a *Aggregator) Merge(batch []Source) int {
	added := 0
	for _, src := range batch {
		key, err := helpers.DedupKey(src.URL)
		if err != nil {
			key = strings.ToLower(strings.TrimSpace(src.URL))
		}
		if _, dup := a.seen[key]; dup {
			continue
		}
		a.seen[key] = struct{}{}

		if src.Status != StatusOK {
			// Invariant: failed sources never carry text.
			src.ExtractedText = ""
			a.sources = append(a.sources, src)
			added++
			continue
		}

		a.sources = append(a.sources, src)
		added++

		entry := CorpusEntry{Index: len(a.corpus) + 1, Source: src}
		a.corpus = append(a.corpus, entry)
		a.words += utils.WordCount(src.ExtractedText)
		if host := hostOf(src.URL); host != "" {
			a.hosts[host] = struct{}{}
		}
		docID := fmt.Sprintf("%d", entry.Index)
		if err := a.index.Index(docID, indexedDoc{Title: src.Title, Text: src.ExtractedText}); err != nil {
			a.logger.Printf("index source %d: %v", entry.Index, err)
		}
	}
	return added
}

// Sources returns all recorded sources, including failed ones.
func (a *Aggregator) Sources() []Source {
	out := make([]Source, len(a.sources))
	copy(out, a.sources)
	return out
}

// Corpus returns the usable entries in retrieval order.
func (a *Aggregator) Corpus() []CorpusEntry {
	out := make([]CorpusEntry, len(a.corpus))
	copy(out, a.corpus)
	return out
}

func (a *Aggregator) Coverage() Coverage {
	return Coverage{Words: a.words, Hosts: len(a.hosts), Sources: len(a.corpus)}
}

// TopRelevant ranks corpus entries against q by BM25 and returns up to k,
// falling back to retrieval order when the index yields nothing.
func (a *Aggregator) TopRelevant(q string, k int) []CorpusEntry {
	if k <= 0 || k > len(a.corpus) {
		k = len(a.corpus)
	}
	if k == 0 {
		return nil
	}

	query := bleve.NewQueryStringQuery(q)
	req := bleve.NewSearchRequestOptions(query, k, 0, false)
	res, err := a.index.Search(req)
	if err != nil || len(res.Hits) == 0 {
		return a.Corpus()[:k]
	}

	byID := make(map[string]CorpusEntry, len(a.corpus))
	for _, e := range a.corpus {
		byID[fmt.Sprintf("%d", e.Index)] = e
	}
	out := make([]CorpusEntry, 0, k)
	picked := make(map[int]struct{}, k)
	for _, hit := range res.Hits {
		if e, ok := byID[hit.ID]; ok {
			out = append(out, e)
			picked[e.Index] = struct{}{}
		}
	}
	// Pad with remaining entries so the synthesizer always sees the most
	// it can fit, relevance-first.
	for _, e := range a.corpus {
		if len(out) >= k {
			break
		}
		if _, ok := picked[e.Index]; !ok {
			out = append(out, e)
		}
	}
	return out
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
