package switchboard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"golang.org/x/sync/errgroup"
)

// maxQueryConcurrency bounds parallel embedding calls during one search.
const maxQueryConcurrency = 4

// Registry holds the immutable server catalog and answers semantic search
// queries against it. Entry vectors are computed once in Initialize and
// never mutated; queries embed on demand, one embedding call per query
// string.
type Registry struct {
	entries    []ServerEntry
	index      map[string]int // handle -> catalog position
	embedder   EmbeddingProvider
	db         *chromem.DB
	collection *chromem.Collection
	threshold  float32
	cutoff     float32
	topK       int
	logger     *slog.Logger
}

// NewRegistry builds a registry over entries. Handles must be unique and
// non-empty; violations surface as *ErrConfig.
func NewRegistry(entries []ServerEntry, embedder EmbeddingProvider, cfg Config, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = nopLogger
	}
	index := make(map[string]int, len(entries))
	for i, e := range entries {
		if e.Handle == "" {
			return nil, &ErrConfig{Field: "servers", Reason: fmt.Sprintf("entry %d has an empty handle", i)}
		}
		if _, dup := index[e.Handle]; dup {
			return nil, &ErrConfig{Field: "servers", Reason: "duplicate handle " + e.Handle}
		}
		index[e.Handle] = i
	}
	return &Registry{
		entries:   append([]ServerEntry(nil), entries...),
		index:     index,
		embedder:  embedder,
		threshold: cfg.SimilarityThreshold,
		cutoff:    cfg.RelativeScoreCutoff,
		topK:      cfg.SearchTopK,
		logger:    logger.With("component", "registry"),
	}, nil
}

// embedText is the canonical text a catalog entry is embedded under.
func embedText(e ServerEntry) string {
	return e.DisplayName + ". " + e.Description + " keywords: " + strings.Join(e.Keywords, " ")
}

// Initialize embeds the whole catalog in one batch call and indexes the
// vectors. An embedding failure is returned as *ErrEmbedding; the caller
// must treat it as fatal, discovery is meaningless without the vectors.
func (r *Registry) Initialize(ctx context.Context) error {
	if len(r.entries) == 0 {
		r.logger.Warn("catalog is empty, discovery will find nothing")
		return nil
	}

	texts := make([]string, len(r.entries))
	for i, e := range r.entries {
		texts[i] = embedText(e)
	}
	vecs, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return &ErrEmbedding{Provider: r.embedder.Name(), Err: err}
	}
	if len(vecs) != len(texts) {
		return &ErrEmbedding{
			Provider: r.embedder.Name(),
			Err:      fmt.Errorf("got %d vectors for %d texts", len(vecs), len(texts)),
		}
	}

	db := chromem.NewDB()
	collection, err := db.GetOrCreateCollection("catalog", nil, r.embedQuery)
	if err != nil {
		return fmt.Errorf("create catalog collection: %w", err)
	}
	for i, e := range r.entries {
		err := collection.AddDocument(ctx, chromem.Document{
			ID:        e.Handle,
			Content:   texts[i],
			Embedding: vecs[i],
			Metadata:  map[string]string{"category": e.Category},
		})
		if err != nil {
			return fmt.Errorf("index %s: %w", e.Handle, err)
		}
	}
	r.db = db
	r.collection = collection
	r.logger.Info("catalog embedded", "entries", len(r.entries), "provider", r.embedder.Name())
	return nil
}

// embedQuery adapts the batch Embed interface to chromem's single-text
// embedding function, used for query vectors.
func (r *Registry) embedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := r.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("got %d vectors for one text", len(vecs))
	}
	return vecs[0], nil
}

// Search scores every non-excluded healthy catalog entry against queries
// and returns the survivors, best first. Per entry the score is the maximum
// cosine similarity across all queries; entries below the absolute
// threshold are dropped, then entries below cutoff x the best surviving
// score. Ties keep catalog order. topK caps the result when positive.
func (r *Registry) Search(ctx context.Context, queries []string, excluded []string, healthy func(string) bool) ([]SearchResult, error) {
	live := queries[:0:0]
	for _, q := range queries {
		if strings.TrimSpace(q) != "" {
			live = append(live, q)
		}
	}
	if len(live) == 0 || len(r.entries) == 0 || r.collection == nil {
		return nil, nil
	}

	skip := make(map[string]bool, len(excluded))
	for _, h := range excluded {
		skip[h] = true
	}
	surviving := 0
	for _, e := range r.entries {
		if !skip[e.Handle] && (healthy == nil || healthy(e.Handle)) {
			surviving++
		}
	}
	if surviving == 0 {
		return nil, nil
	}

	// One collection query per search query; each embeds exactly once.
	n := r.collection.Count()
	hits := make([][]chromem.Result, len(live))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxQueryConcurrency)
	for i, q := range live {
		g.Go(func() error {
			res, err := r.collection.Query(gctx, q, n, nil, nil)
			if err != nil {
				return err
			}
			hits[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &ErrEmbedding{Provider: r.embedder.Name(), Err: err}
	}

	// Max similarity across queries, only for entries that may be offered.
	best := make(map[string]float32, surviving)
	for _, res := range hits {
		for _, hit := range res {
			if skip[hit.ID] || (healthy != nil && !healthy(hit.ID)) {
				continue
			}
			if cur, ok := best[hit.ID]; !ok || hit.Similarity > cur {
				best[hit.ID] = hit.Similarity
			}
		}
	}

	// Absolute threshold, walked in catalog order so equal scores keep it.
	results := make([]SearchResult, 0, len(best))
	var top float32
	for _, e := range r.entries {
		score, ok := best[e.Handle]
		if !ok || score < r.threshold {
			continue
		}
		if score > top {
			top = score
		}
		results = append(results, SearchResult{Handle: e.Handle, Score: score, Description: e.Description})
	}

	// Relative cutoff against the best survivor.
	if len(results) > 0 && r.cutoff > 0 {
		floor := top * r.cutoff
		kept := results[:0]
		for _, res := range results {
			if res.Score >= floor {
				kept = append(kept, res)
			}
		}
		results = kept
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if r.topK > 0 && len(results) > r.topK {
		results = results[:r.topK]
	}
	return results, nil
}

// Entry returns the catalog entry for handle.
func (r *Registry) Entry(handle string) (ServerEntry, bool) {
	i, ok := r.index[handle]
	if !ok {
		return ServerEntry{}, false
	}
	return r.entries[i], true
}

// Entries returns a copy of the catalog in insertion order.
func (r *Registry) Entries() []ServerEntry {
	return append([]ServerEntry(nil), r.entries...)
}

// Handles returns every catalog handle in insertion order.
func (r *Registry) Handles() []string {
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Handle
	}
	return out
}

// Len reports the catalog size.
func (r *Registry) Len() int { return len(r.entries) }
