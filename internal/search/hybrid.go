// Package search runs keyword and semantic sub-searches over one or all
// projects and fuses them into a single ranked list.
package search

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/iammorganparry/clive/apps/projmem/internal/cache"
	"github.com/iammorganparry/clive/apps/projmem/internal/memerr"
	"github.com/iammorganparry/clive/apps/projmem/internal/models"
	"github.com/iammorganparry/clive/apps/projmem/internal/store"
	"github.com/iammorganparry/clive/apps/projmem/internal/vectorsync"
)

const (
	DefaultLimit     = 10
	MaxLimit         = 100
	DefaultThreshold = 0.70
	DefaultBaseline  = 0.5
	// projectParallelism bounds concurrent per-project searches.
	projectParallelism = 4
)

// Projects enumerates and resolves project identities.
type Projects interface {
	Resolve(path string) models.Project
	List() []models.Project
}

// Resources leases per-project handles. Keyword-only searches lease just
// the store so they never evict a vector client.
type Resources interface {
	Store(p models.Project) (*cache.Lease[*store.DB], error)
	Acquire(p models.Project) (*cache.Resource, error)
}

// Config tunes scoring.
type Config struct {
	// Threshold is the minimum semantic similarity kept.
	Threshold float64
	// Baseline is the similarity assigned to keyword hits.
	Baseline float64
	Logger   *slog.Logger
}

// Orchestrator executes search requests.
type Orchestrator struct {
	projects  Projects
	resources Resources
	threshold float64
	baseline  float64
	logger    *slog.Logger
}

func NewOrchestrator(projects Projects, resources Resources, cfg Config) *Orchestrator {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Baseline <= 0 {
		cfg.Baseline = DefaultBaseline
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		projects:  projects,
		resources: resources,
		threshold: cfg.Threshold,
		baseline:  cfg.Baseline,
		logger:    logger.With("component", "search"),
	}
}

// Similarity converts a cosine distance in [0, 2] to a score in [0, 1].
func Similarity(distance float64) float64 {
	return max(0, min(1, 1-distance/2))
}

// projectOutcome is one project's contribution.
type projectOutcome struct {
	keyword  []models.SearchResult
	semantic []models.SearchResult
	// semanticTried is false when the semantic path was not requested.
	semanticTried bool
	semanticErr   error
	err           error
}

// Search validates req, fans out over the requested scope and fuses the
// results. A hybrid search whose semantic path failed for every project is
// answered from keyword results and reports method "keyword". A
// semantic-only search in the same situation fails.
func (o *Orchestrator) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, memerr.Invalid("search", "query is required")
	}
	method := req.Method
	if method == "" {
		method = models.SearchHybrid
	}
	if !method.IsValid() {
		return nil, memerr.Invalid("search", "unknown method %q", method)
	}
	if req.Type != "" && !req.Type.IsValid() {
		return nil, memerr.Invalid("search", "unknown record type %q", req.Type)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)

	var projects []models.Project
	single := req.ProjectPath != ""
	if single {
		projects = []models.Project{o.projects.Resolve(req.ProjectPath)}
	} else {
		projects = o.projects.List()
	}

	outcomes := make([]projectOutcome, len(projects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(projectParallelism)
	for i, p := range projects {
		g.Go(func() error {
			outcomes[i] = o.searchProject(gctx, p, query, limit, req.Type, method)
			return nil
		})
	}
	g.Wait()

	var keyword, semantic []models.SearchResult
	semanticTried, semanticOK := false, false
	var semanticErrs []error
	for i, out := range outcomes {
		if out.err != nil {
			if single {
				return nil, out.err
			}
			o.logger.Warn("project skipped", "project_id", projects[i].ID, "error", out.err)
			continue
		}
		keyword = append(keyword, out.keyword...)
		semantic = append(semantic, out.semantic...)
		if out.semanticTried {
			semanticTried = true
			if out.semanticErr == nil {
				semanticOK = true
			} else {
				semanticErrs = append(semanticErrs, out.semanticErr)
			}
		}
	}

	used := method
	if semanticTried && !semanticOK {
		switch method {
		case models.SearchSemantic:
			return nil, memerr.Unavailable("semantic search", errors.Join(semanticErrs...))
		case models.SearchHybrid:
			used = models.SearchKeyword
		}
	}

	var results []models.SearchResult
	switch method {
	case models.SearchKeyword:
		results = keyword
	case models.SearchSemantic:
		results = dedupe(semantic)
	default:
		results = Fuse(semantic, keyword)
	}

	results = rank(results, req.Type, limit)
	return &models.SearchResponse{
		Results: results,
		Total:   len(results),
		Query:   query,
		Method:  used,
	}, nil
}

func (o *Orchestrator) searchProject(ctx context.Context, p models.Project, query string, limit int, recordType models.RecordType, method models.SearchMethod) projectOutcome {
	if method == models.SearchKeyword {
		sl, err := o.resources.Store(p)
		if err != nil {
			return projectOutcome{err: err}
		}
		defer sl.Release()

		keyword, err := o.keywordSearch(sl.Value, p, query, limit, recordType)
		return projectOutcome{keyword: keyword, err: err}
	}

	res, err := o.resources.Acquire(p)
	if err != nil {
		return projectOutcome{err: err}
	}
	defer res.Release()

	var out projectOutcome
	var g errgroup.Group

	if method != models.SearchSemantic {
		g.Go(func() error {
			var err error
			out.keyword, err = o.keywordSearch(res.Store, p, query, limit, recordType)
			return err
		})
	}

	out.semanticTried = true
	g.Go(func() error {
		out.semantic, out.semanticErr = o.semanticSearch(ctx, res.Vector, p, query, limit, recordType)
		if out.semanticErr != nil {
			o.logger.Warn("semantic search failed", "project_id", p.ID, "error", out.semanticErr)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		out.err = err
	}
	return out
}

// keywordSearch scores every hit at the keyword baseline.
func (o *Orchestrator) keywordSearch(db *store.DB, p models.Project, query string, limit int, recordType models.RecordType) ([]models.SearchResult, error) {
	hits, err := db.KeywordSearch(query, limit, recordType)
	if err != nil {
		return nil, err
	}
	results := make([]models.SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, models.SearchResult{
			Type:        h.Type,
			ID:          h.ID,
			SessionID:   h.SessionID,
			ProjectID:   p.ID,
			ProjectName: p.Name,
			Content:     h.Content,
			Similarity:  o.baseline,
			Source:      models.SourceKeyword,
			Timestamp:   h.Timestamp,
		})
	}
	return results, nil
}

// semanticSearch requests limit*2 candidates so threshold filtering still
// leaves enough results.
func (o *Orchestrator) semanticSearch(ctx context.Context, vc *vectorsync.Client, p models.Project, query string, limit int, recordType models.RecordType) ([]models.SearchResult, error) {
	var where map[string]string
	if recordType != "" {
		where = map[string]string{vectorsync.MetaDocType: string(recordType)}
	}

	matches, err := vc.Search(ctx, query, limit*2, where)
	if err != nil {
		return nil, err
	}

	results := make([]models.SearchResult, 0, len(matches))
	for _, m := range matches {
		sim := Similarity(m.Distance)
		if sim < o.threshold {
			continue
		}
		ref, ok := vectorsync.RefOf(m)
		if !ok {
			o.logger.Debug("skipping unrecognized vector document", "project_id", p.ID, "doc_id", m.ID)
			continue
		}
		results = append(results, models.SearchResult{
			Type:        ref.Type,
			ID:          ref.ID,
			SessionID:   ref.SessionID,
			ProjectID:   p.ID,
			ProjectName: p.Name,
			Content:     m.Text,
			Similarity:  sim,
			Source:      models.SourceSemantic,
			Timestamp:   ref.CreatedAt,
		})
	}
	return results, nil
}

type resultKey struct {
	typ     models.RecordType
	id      string
	project string
}

func keyOf(r models.SearchResult) resultKey {
	return resultKey{typ: r.Type, id: r.ID, project: r.ProjectID}
}

// Fuse merges semantic then keyword results keyed by (type, id, project).
// Repeated semantic keys keep the higher score. A keyword hit on a key the
// semantic pass already holds keeps the semantic score, takes the full
// record content and is relabelled hybrid.
func Fuse(semantic, keyword []models.SearchResult) []models.SearchResult {
	index := make(map[resultKey]int, len(semantic)+len(keyword))
	merged := make([]models.SearchResult, 0, len(semantic)+len(keyword))

	for _, r := range semantic {
		k := keyOf(r)
		if i, ok := index[k]; ok {
			if r.Similarity > merged[i].Similarity {
				merged[i] = r
			}
			continue
		}
		index[k] = len(merged)
		merged = append(merged, r)
	}

	for _, r := range keyword {
		k := keyOf(r)
		if i, ok := index[k]; ok {
			if merged[i].Source == models.SourceSemantic {
				merged[i].Source = models.SourceHybrid
				merged[i].Content = r.Content
				if merged[i].Timestamp.IsZero() {
					merged[i].Timestamp = r.Timestamp
				}
			}
			continue
		}
		index[k] = len(merged)
		merged = append(merged, r)
	}
	return merged
}

// dedupe collapses chunks of the same record, keeping the best score.
func dedupe(results []models.SearchResult) []models.SearchResult {
	return Fuse(results, nil)
}

// rank sorts by similarity descending (stable), filters by type and
// truncates.
func rank(results []models.SearchResult, recordType models.RecordType, limit int) []models.SearchResult {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	out := make([]models.SearchResult, 0, min(len(results), limit))
	for _, r := range results {
		if recordType != "" && r.Type != recordType {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out
}
