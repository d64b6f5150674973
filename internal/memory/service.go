package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/iammorganparry/clive/apps/projmem/internal/cache"
	"github.com/iammorganparry/clive/apps/projmem/internal/memerr"
	"github.com/iammorganparry/clive/apps/projmem/internal/models"
	"github.com/iammorganparry/clive/apps/projmem/internal/search"
	"github.com/iammorganparry/clive/apps/projmem/internal/sessions"
	"github.com/iammorganparry/clive/apps/projmem/internal/store"
	"github.com/iammorganparry/clive/apps/projmem/internal/vectorsync"
)

// sessionRecordLimit caps the records loaded for session detail and
// summarization.
const sessionRecordLimit = 500

// Projects is the subset of the registry the service depends on.
type Projects interface {
	Resolve(path string) models.Project
	Get(id string) (models.Project, bool)
	List() []models.Project
	Len() int
}

// Resources leases per-project handles. *cache.Manager implements it.
type Resources interface {
	Store(p models.Project) (*cache.Lease[*store.DB], error)
	Acquire(p models.Project) (*cache.Resource, error)
	VectorState(projectID string) vectorsync.State
	Sizes() (stores, vectors int)
}

// HealthChecker checks an external dependency.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps wires the service.
type Deps struct {
	Projects   Projects
	Resources  Resources
	Searcher   *search.Orchestrator
	Syncer     *Syncer
	Summarizer *sessions.Summarizer
	// Ollama is optional; a nil checker skips the check.
	Ollama        HealthChecker
	VectorBackend string
	Logger        *slog.Logger
}

// Service is the facade for all memory operations. Writes are durable in
// the project's structured store before the vector sync is queued.
type Service struct {
	projects      Projects
	resources     Resources
	searcher      *search.Orchestrator
	syncer        *Syncer
	summarizer    *sessions.Summarizer
	ollama        HealthChecker
	vectorBackend string
	logger        *slog.Logger

	// sessionIndex maps session ids to project ids seen by this process.
	mu           sync.RWMutex
	sessionIndex map[string]string
}

// NewService creates a new memory service with all dependencies.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	searcher := d.Searcher
	if searcher == nil {
		searcher = search.NewOrchestrator(d.Projects, d.Resources, search.Config{Logger: logger})
	}
	return &Service{
		projects:      d.Projects,
		resources:     d.Resources,
		searcher:      searcher,
		syncer:        d.Syncer,
		summarizer:    d.Summarizer,
		ollama:        d.Ollama,
		vectorBackend: d.VectorBackend,
		logger:        logger.With("component", "memory"),
		sessionIndex:  make(map[string]string),
	}
}

// CreateSession registers a session under its project. Repeating the call
// for the same session id returns the existing row with Created false.
func (s *Service) CreateSession(ctx context.Context, req *models.CreateSessionRequest) (*models.CreateSessionResponse, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, memerr.Invalid("create session", "sessionId is required")
	}
	if strings.TrimSpace(req.ProjectPath) == "" {
		return nil, memerr.Invalid("create session", "projectPath is required")
	}

	p := s.projects.Resolve(req.ProjectPath)
	var resp models.CreateSessionResponse
	err := s.withStore(p, func(db *store.DB) error {
		sess, created, err := db.CreateSession(req.SessionID, p.Path)
		if err != nil {
			return err
		}
		resp = models.CreateSessionResponse{Session: sess, Created: created}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.remember(req.SessionID, p.ID)
	if resp.Created {
		s.logger.Info("session created", "session_id", req.SessionID, "project_id", p.ID)
	}
	return &resp, nil
}

// StopSession marks a session completed.
func (s *Service) StopSession(ctx context.Context, req *models.StopSessionRequest) (*models.Session, error) {
	p, err := s.locate("stop session", req.SessionID, req.ProjectPath, false)
	if err != nil {
		return nil, err
	}
	var sess *models.Session
	err = s.withStore(p, func(db *store.DB) error {
		sess, err = db.StopSession(req.SessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// InsertPrompt stores a prompt and queues it for vector indexing.
func (s *Service) InsertPrompt(ctx context.Context, req *models.PromptRequest) (*models.Prompt, error) {
	p, err := s.locate("insert prompt", req.SessionID, req.ProjectPath, true)
	if err != nil {
		return nil, err
	}
	var rec *models.Prompt
	err = s.withStore(p, func(db *store.DB) error {
		rec, err = db.InsertPrompt(req.SessionID, req.Content, req.Metadata)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.sync(p, entryOf(models.RecordPrompt, rec.RecordBase, ""))
	return rec, nil
}

// InsertResponse stores a response and queues it for vector indexing.
func (s *Service) InsertResponse(ctx context.Context, req *models.ResponseRequest) (*models.Response, error) {
	p, err := s.locate("insert response", req.SessionID, req.ProjectPath, true)
	if err != nil {
		return nil, err
	}
	var rec *models.Response
	err = s.withStore(p, func(db *store.DB) error {
		rec, err = db.InsertResponse(req.SessionID, req.PromptID, req.Content, req.Metadata)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.sync(p, entryOf(models.RecordResponse, rec.RecordBase, ""))
	return rec, nil
}

// InsertObservation stores a tool use and queues it for vector indexing.
func (s *Service) InsertObservation(ctx context.Context, req *models.ObservationRequest) (*models.Observation, error) {
	p, err := s.locate("insert observation", req.SessionID, req.ProjectPath, true)
	if err != nil {
		return nil, err
	}
	var rec *models.Observation
	err = s.withStore(p, func(db *store.DB) error {
		rec, err = db.InsertObservation(req.SessionID, req.ToolName, req.ToolInput, req.ToolOutput, req.Metadata)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.sync(p, entryOf(models.RecordObservation, rec.RecordBase, rec.ToolName))
	return rec, nil
}

// UpsertSummary replaces the session's summary.
func (s *Service) UpsertSummary(ctx context.Context, req *models.SummaryRequest) (*models.Summary, error) {
	p, err := s.locate("upsert summary", req.SessionID, req.ProjectPath, true)
	if err != nil {
		return nil, err
	}
	return s.upsertSummary(p, req.SessionID, req.StatsSummary, req.AISummary, req.Metadata)
}

func (s *Service) upsertSummary(p models.Project, sessionID, stats, ai, metadata string) (*models.Summary, error) {
	var sum *models.Summary
	err := s.withStore(p, func(db *store.DB) error {
		var err error
		sum, err = db.UpsertSummary(sessionID, stats, ai, metadata)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.sync(p, entryOf(models.RecordSummary, sum.RecordBase, ""))
	return sum, nil
}

// GetSession returns a session with its records and summary.
func (s *Service) GetSession(ctx context.Context, sessionID, projectPath string) (*models.SessionDetail, error) {
	p, err := s.locate("get session", sessionID, projectPath, false)
	if err != nil {
		return nil, err
	}

	detail := &models.SessionDetail{Project: p}
	err = s.withStore(p, func(db *store.DB) error {
		sess, err := db.GetSession(sessionID)
		if err != nil {
			return err
		}
		if sess == nil {
			return memerr.NotFound("get session", "session %s not found", sessionID)
		}
		detail.Session = sess
		if detail.Records, err = db.FindBySession(sessionID, sessionRecordLimit); err != nil {
			return err
		}
		detail.Summary, err = db.GetSummary(sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// ListSessions returns a project's sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, projectPath string, limit int) ([]*models.Session, error) {
	if strings.TrimSpace(projectPath) == "" {
		return nil, memerr.Invalid("list sessions", "projectPath is required")
	}
	var out []*models.Session
	err := s.withStore(s.projects.Resolve(projectPath), func(db *store.DB) error {
		var err error
		out, err = db.ListSessions(limit)
		return err
	})
	return out, err
}

// SummarizeSession writes a statistics summary for the session and, when
// the summarizer is enabled and succeeds, the AI summary alongside it.
func (s *Service) SummarizeSession(ctx context.Context, sessionID, projectPath string) (*models.Summary, error) {
	p, err := s.locate("summarize session", sessionID, projectPath, false)
	if err != nil {
		return nil, err
	}

	var entries []models.Entry
	err = s.withStore(p, func(db *store.DB) error {
		entries, err = db.FindBySession(sessionID, sessionRecordLimit)
		return err
	})
	if err != nil {
		return nil, err
	}

	stats := sessions.Stats(entries)
	var ai string
	if s.summarizer.IsEnabled() {
		ai, err = s.summarizer.Summarize(ctx, sessions.Transcript(entries))
		if err != nil {
			s.logger.Warn("ai summary failed, keeping stats only", "session_id", sessionID, "error", err)
			ai = ""
		}
	}
	return s.upsertSummary(p, sessionID, stats, ai, "")
}

// Search runs a hybrid, keyword or semantic search.
func (s *Service) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	return s.searcher.Search(ctx, req)
}

// Recent returns the newest records of one project, or of every project
// when projectPath is empty.
func (s *Service) Recent(ctx context.Context, projectPath string, limit int) ([]models.Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	projects := s.projects.List()
	if projectPath != "" {
		projects = []models.Project{s.projects.Resolve(projectPath)}
	}

	var all []models.Entry
	for _, p := range projects {
		var entries []models.Entry
		err := s.withStore(p, func(db *store.DB) error {
			var err error
			entries, err = db.FindAll(limit)
			return err
		})
		if err != nil {
			if projectPath != "" {
				return nil, err
			}
			s.logger.Warn("project skipped", "project_id", p.ID, "error", err)
			continue
		}
		all = append(all, entries...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// ListProjects returns known projects, most recently used first.
func (s *Service) ListProjects() []models.Project {
	return s.projects.List()
}

// ProjectStats returns record counts for the project with the given id.
func (s *Service) ProjectStats(ctx context.Context, projectID string) (*models.ProjectStats, error) {
	p, ok := s.projects.Get(projectID)
	if !ok {
		return nil, memerr.NotFound("project stats", "project %s not found", projectID)
	}
	return s.stats(p)
}

// Status reports stats for every known project.
func (s *Service) Status(ctx context.Context) ([]models.ProjectStats, error) {
	projects := s.projects.List()
	out := make([]models.ProjectStats, 0, len(projects))
	for _, p := range projects {
		st, err := s.stats(p)
		if err != nil {
			s.logger.Warn("project stats failed", "project_id", p.ID, "error", err)
			st = &models.ProjectStats{Project: p, VectorState: s.resources.VectorState(p.ID).String()}
		}
		out = append(out, *st)
	}
	return out, nil
}

func (s *Service) stats(p models.Project) (*models.ProjectStats, error) {
	st := &models.ProjectStats{Project: p}
	err := s.withStore(p, func(db *store.DB) error {
		var err error
		if st.ByType, err = db.CountByType(); err != nil {
			return err
		}
		if st.Sessions, err = db.SessionCount(); err != nil {
			return err
		}
		st.KeywordIndexDirty, err = db.KeywordIndexDirty()
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, n := range st.ByType {
		st.Total += n
	}
	st.VectorState = s.resources.VectorState(p.ID).String()
	return st, nil
}

// Health reports process-level state.
func (s *Service) Health(ctx context.Context) *models.HealthResponse {
	stores, vectors := s.resources.Sizes()
	resp := &models.HealthResponse{
		Status:        "ok",
		Projects:      s.projects.Len(),
		CachedStores:  stores,
		CachedVectors: vectors,
		VectorBackend: s.vectorBackend,
		Ollama:        models.ServiceCheck{Status: "skipped"},
	}
	if s.syncer != nil {
		resp.PendingSyncs = s.syncer.Pending()
		resp.DroppedSyncs = s.syncer.Dropped()
	}
	if s.ollama != nil {
		if err := s.ollama.HealthCheck(ctx); err != nil {
			resp.Ollama = models.ServiceCheck{Status: "error", Message: err.Error()}
			resp.Status = "degraded"
		} else {
			resp.Ollama = models.ServiceCheck{Status: "ok"}
		}
	}
	return resp
}

// locate finds the project owning sessionID. With a project path the
// session is looked up there and, when create is set, created on demand.
// Without one, the in-process index is consulted before scanning every
// known project.
func (s *Service) locate(op, sessionID, projectPath string, create bool) (models.Project, error) {
	if strings.TrimSpace(sessionID) == "" {
		return models.Project{}, memerr.Invalid(op, "sessionId is required")
	}

	if projectPath != "" {
		p := s.projects.Resolve(projectPath)
		if create {
			err := s.withStore(p, func(db *store.DB) error {
				sess, err := db.GetSession(sessionID)
				if err != nil || sess != nil {
					return err
				}
				_, _, err = db.CreateSession(sessionID, p.Path)
				return err
			})
			if err != nil {
				return models.Project{}, fmt.Errorf("%s: ensure session: %w", op, err)
			}
		}
		s.remember(sessionID, p.ID)
		return p, nil
	}

	s.mu.RLock()
	id, ok := s.sessionIndex[sessionID]
	s.mu.RUnlock()
	if ok {
		if p, found := s.projects.Get(id); found {
			return p, nil
		}
	}

	for _, p := range s.projects.List() {
		var found bool
		err := s.withStore(p, func(db *store.DB) error {
			sess, err := db.GetSession(sessionID)
			found = sess != nil
			return err
		})
		if err != nil {
			s.logger.Warn("session lookup skipped project", "project_id", p.ID, "error", err)
			continue
		}
		if found {
			s.remember(sessionID, p.ID)
			return p, nil
		}
	}
	return models.Project{}, memerr.NotFound(op, "session %s not found", sessionID)
}

func (s *Service) remember(sessionID, projectID string) {
	s.mu.Lock()
	s.sessionIndex[sessionID] = projectID
	s.mu.Unlock()
}

func (s *Service) withStore(p models.Project, fn func(db *store.DB) error) error {
	lease, err := s.resources.Store(p)
	if err != nil {
		if memerr.KindOf(err) != memerr.KindUnknown {
			return err
		}
		return memerr.New(memerr.KindTransientIO, "open store", err)
	}
	defer lease.Release()
	return fn(lease.Value)
}

// sync queues the record for indexing. It never fails the write.
func (s *Service) sync(p models.Project, e models.Entry) {
	if s.syncer == nil {
		return
	}
	s.syncer.Enqueue(p, vectorsync.FromEntry(p.ID, e))
}

func entryOf(t models.RecordType, b models.RecordBase, toolName string) models.Entry {
	return models.Entry{
		Type:      t,
		ID:        b.ID,
		SessionID: b.SessionID,
		Content:   b.Content,
		Timestamp: b.Timestamp,
		Metadata:  b.Metadata,
		ToolName:  toolName,
	}
}
