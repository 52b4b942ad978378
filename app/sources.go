package app

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"feedpipe/domain"
)

const (
	msgFetchInProgress = "Feed update has already been triggered. Try again later. Check status at %s"
	msgFetchTriggered  = "Feed update has been triggered. Check status at %s"
)

// StatusPath is where the fetch status of a source can be read.
func StatusPath(sourceID string) string {
	return "/sources/" + sourceID + "/status"
}

// FetchTrigger is the answer to a manual fetch request.
type FetchTrigger struct {
	Message    string `json:"message"`
	StatusURL  string `json:"status_url"`
	InProgress bool   `json:"in_progress"`
}

// SourcePatch lists the user-editable fields of a source. Nil fields are
// left unchanged.
type SourcePatch struct {
	Name          *string
	URL           *string
	FetchInterval *time.Duration
}

// SourceService is the single entry point for source mutations. It keeps the
// recurring task registry in step with the stored sources.
type SourceService struct {
	sources    domain.SourceRepository
	feeds      domain.FeedRepository
	normalizer *Normalizer
	reconciler *Reconciler
	scheduler  *Scheduler
	queue      Enqueuer
	leaseTTL   time.Duration
	now        func() time.Time
}

func NewSourceService(store domain.Store, normalizer *Normalizer, reconciler *Reconciler, scheduler *Scheduler, queue Enqueuer, leaseTTL time.Duration) *SourceService {
	return &SourceService{
		sources:    store,
		feeds:      store,
		normalizer: normalizer,
		reconciler: reconciler,
		scheduler:  scheduler,
		queue:      queue,
		leaseTTL:   leaseTTL,
		now:        time.Now,
	}
}

// Resolve finds a source by id or, failing that, by name.
func (s *SourceService) Resolve(ctx context.Context, ref string) (domain.Source, error) {
	if _, err := uuid.Parse(ref); err == nil {
		src, err := s.sources.GetSource(ctx, ref)
		if !errors.Is(err, domain.ErrNotFound) {
			return src, err
		}
	}
	return s.sources.GetSourceByName(ctx, ref)
}

// List returns the newest sources first. A limit of zero lists all.
func (s *SourceService) List(ctx context.Context, limit int) ([]domain.Source, error) {
	return s.sources.ListSources(ctx, limit)
}

// Create stores a source after one synchronous fetch cycle. Nothing is kept
// when that cycle fails.
func (s *SourceService) Create(ctx context.Context, src domain.Source) (domain.Source, error) {
	if err := validateSource(src); err != nil {
		return domain.Source{}, err
	}

	agg, err := s.normalizer.Aggregate(ctx, src.URL, nil)
	if err != nil {
		return domain.Source{}, err
	}

	src.FetchStatus = domain.FetchDone
	if err := s.sources.CreateSource(ctx, &src); err != nil {
		return domain.Source{}, err
	}
	if err := s.reconciler.Reconcile(ctx, src, agg); err != nil {
		s.discard(ctx, src)
		return domain.Source{}, err
	}
	if err := s.scheduler.Register(ctx, src); err != nil {
		s.discard(ctx, src)
		return domain.Source{}, err
	}

	log.WithFields(log.Fields{"source_id": src.ID, "name": src.Name, "url": src.URL}).Info("Source created")
	return src, nil
}

func (s *SourceService) discard(ctx context.Context, src domain.Source) {
	if _, err := s.sources.DeleteSource(ctx, src.ID); err != nil {
		log.WithFields(log.Fields{"source_id": src.ID, "error": err.Error()}).Error("Could not discard source")
	}
}

// Update applies a user edit, re-syncs the recurring task and refetches.
func (s *SourceService) Update(ctx context.Context, id string, patch SourcePatch) (domain.Source, error) {
	current, err := s.sources.GetSource(ctx, id)
	if err != nil {
		return domain.Source{}, err
	}

	updated := current
	if patch.Name != nil {
		updated.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.URL != nil {
		updated.URL = strings.TrimSpace(*patch.URL)
	}
	if patch.FetchInterval != nil {
		updated.FetchInterval = *patch.FetchInterval
	}
	if err := validateSource(updated); err != nil {
		return domain.Source{}, err
	}
	if err := s.sources.UpdateSource(ctx, &updated); err != nil {
		return domain.Source{}, err
	}

	// A rename moves the task whatever the status, so the source keeps
	// exactly one.
	renamed := TaskName(current) != TaskName(updated)
	if renamed {
		if err := s.scheduler.Unregister(ctx, current); err != nil {
			return updated, err
		}
	}
	if renamed || schedulable(updated.FetchStatus) {
		if err := s.scheduler.Register(ctx, updated); err != nil {
			return updated, err
		}
	}

	agg, err := s.normalizer.Aggregate(ctx, updated.URL, nil)
	if err != nil {
		return updated, err
	}
	if err := s.reconciler.Reconcile(ctx, updated, agg); err != nil {
		return updated, err
	}
	return updated, nil
}

// Delete removes a source with its feed and entries, then its task.
func (s *SourceService) Delete(ctx context.Context, id string) error {
	src, err := s.sources.GetSource(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.sources.DeleteSource(ctx, id); err != nil {
		return err
	}
	if err := s.scheduler.Unregister(ctx, src); err != nil {
		return err
	}
	log.WithFields(log.Fields{"source_id": id, "name": src.Name}).Info("Source deleted")
	return nil
}

// Fetch queues a fetch for the source unless one is already in flight.
func (s *SourceService) Fetch(ctx context.Context, id string) (FetchTrigger, error) {
	src, err := s.sources.GetSource(ctx, id)
	if err != nil {
		return FetchTrigger{}, err
	}
	statusURL := StatusPath(src.ID)

	claimed, err := s.sources.ClaimFetch(ctx, src.ID, s.now().Add(-s.leaseTTL))
	if err != nil {
		return FetchTrigger{}, err
	}
	if !claimed {
		return FetchTrigger{
			Message:    fmt.Sprintf(msgFetchInProgress, statusURL),
			StatusURL:  statusURL,
			InProgress: true,
		}, nil
	}

	if err := s.queue.Enqueue(Job{SourceID: src.ID, Claimed: true}); err != nil {
		if rerr := s.sources.SetFetchStatus(ctx, src.ID, src.FetchStatus); rerr != nil {
			log.WithFields(log.Fields{"source_id": src.ID, "error": rerr.Error()}).Error("Could not release fetch claim")
		}
		return FetchTrigger{}, err
	}
	return FetchTrigger{Message: fmt.Sprintf(msgFetchTriggered, statusURL), StatusURL: statusURL}, nil
}

func (s *SourceService) Status(ctx context.Context, id string) (domain.StatusReport, error) {
	src, err := s.sources.GetSource(ctx, id)
	if err != nil {
		return domain.StatusReport{}, err
	}
	return StatusOf(src), nil
}

// StatusOf reports the fetch status stored on src.
func StatusOf(src domain.Source) domain.StatusReport {
	return domain.StatusReport{
		Code:          int(src.FetchStatus),
		Label:         src.FetchStatus.String(),
		LastUpdatedAt: src.UpdatedAt,
	}
}

// SetEntryRead flags an entry read or unread. It reports false when the entry
// already had that flag.
func (s *SourceService) SetEntryRead(ctx context.Context, entryID string, read bool) (bool, error) {
	return s.feeds.SetEntryRead(ctx, entryID, read)
}

// Resync registers a task for every stored source. The daemon runs it on boot.
func (s *SourceService) Resync(ctx context.Context) (int, error) {
	sources, err := s.sources.ListSources(ctx, 0)
	if err != nil {
		return 0, errors.Wrap(err, "list sources")
	}
	n := 0
	for _, src := range sources {
		if err := s.scheduler.Register(ctx, src); err != nil {
			log.WithFields(log.Fields{"source_id": src.ID, "error": err.Error()}).Warn("Could not register fetch task")
			continue
		}
		n++
	}
	return n, nil
}

func schedulable(status domain.FetchStatus) bool {
	return status != domain.FetchPending && status != domain.FetchFailed
}

func validateSource(src domain.Source) error {
	if strings.TrimSpace(src.Name) == "" {
		return &domain.ConfigurationError{Msg: "source name is required"}
	}
	u, err := url.Parse(src.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &domain.ConfigurationError{Msg: fmt.Sprintf("invalid source url %q", src.URL)}
	}
	if src.FetchInterval <= 0 {
		return &domain.ConfigurationError{Msg: "fetch interval must be positive"}
	}
	return nil
}
