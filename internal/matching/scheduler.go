package matching

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/david/recovery-match/internal/metrics"
	"github.com/david/recovery-match/internal/models"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var ErrScanInProgress = errors.New("matching scan already in progress")

const (
	DefaultScanInterval    = 30 * time.Minute
	DefaultScanConcurrency = 4

	TriggerSchedule = "schedule"
	TriggerStartup  = "startup"
	TriggerManual   = "manual"
)

type SchedulerConfig struct {
	Interval    time.Duration
	Concurrency int
	RunOnStart  bool
}

// Scheduler periodically scans active opportunities against every survivor and
// keeps match records in place. At most one scan runs at a time; a scan that
// finds another in flight is skipped, not queued.
type Scheduler struct {
	store   Store
	cfg     SchedulerConfig
	metrics *metrics.Metrics
	logger  *log.Logger
	now     func() time.Time

	running atomic.Bool
}

func NewScheduler(store Store, cfg SchedulerConfig, m *metrics.Metrics, logger *log.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultScanInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultScanConcurrency
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		store:   store,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Running reports whether a scan is currently in flight.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Start blocks, scanning on every tick until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Printf("[matching] scheduler started, interval=%s concurrency=%d", s.cfg.Interval, s.cfg.Concurrency)
	if s.cfg.RunOnStart {
		s.tick(ctx, TriggerStartup)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Printf("[matching] scheduler stopped: %v", ctx.Err())
			return
		case <-ticker.C:
			s.tick(ctx, TriggerSchedule)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, trigger string) {
	// RunOnce already logs failures; errors never stop the loop.
	_, _ = s.RunOnce(ctx, trigger)
}

type scanStats struct {
	opportunities int
	skipped       int
	survivors     int
	checked       atomic.Int64
	created       atomic.Int64
	updated       atomic.Int64
}

// RunOnce performs a single scan and returns the number of matches it created.
// It returns ErrScanInProgress without side effects when another scan holds the
// run flag. Writes made before a failure are kept; rescans are idempotent.
func (s *Scheduler) RunOnce(ctx context.Context, trigger string) (created int, err error) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Printf("[matching] %s scan skipped: previous run still in progress", trigger)
		s.metrics.ObserveScan("skipped", 0, 0)
		return 0, ErrScanInProgress
	}
	defer s.running.Store(false)

	start := s.now()
	runID, startErr := s.store.StartMatchRun(ctx, trigger, start)
	if startErr != nil {
		s.logger.Printf("[Warn] failed to record match run: %v", startErr)
	}
	tag := shortID(runID)

	stats := &scanStats{}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("matching scan panicked: %v", r)
		}
		created = int(stats.created.Load())
		s.finish(ctx, runID, tag, trigger, start, stats, err)
	}()

	s.logger.Printf("[matching-run %s] starting %s scan", tag, trigger)
	err = s.scan(ctx, stats)
	return int(stats.created.Load()), err
}

func (s *Scheduler) finish(ctx context.Context, runID uuid.UUID, tag, trigger string, start time.Time, stats *scanStats, runErr error) {
	end := s.now()
	run := models.MatchRun{
		ID:                   runID,
		Status:               models.RunCompleted,
		Trigger:              trigger,
		Opportunities:        stats.opportunities,
		OpportunitiesSkipped: stats.skipped,
		Survivors:            stats.survivors,
		PairsChecked:         int(stats.checked.Load()),
		MatchesCreated:       int(stats.created.Load()),
		MatchesUpdated:       int(stats.updated.Load()),
		StartedAt:            start,
		CompletedAt:          &end,
	}
	outcome := "completed"
	if runErr != nil {
		run.Status = models.RunFailed
		run.Error = runErr.Error()
		outcome = "failed"
		s.logger.Printf("[matching-run %s] failed after %s: %v", tag, end.Sub(start).Round(time.Millisecond), runErr)
	} else {
		s.logger.Printf("[matching-run %s] completed: opportunities=%d skipped=%d survivors=%d checked=%d created=%d refreshed=%d",
			tag, run.Opportunities, run.OpportunitiesSkipped, run.Survivors, run.PairsChecked, run.MatchesCreated, run.MatchesUpdated)
	}
	s.metrics.ObserveScan(outcome, end.Sub(start), run.MatchesCreated)

	if runID == uuid.Nil {
		return
	}
	if err := s.store.FinishMatchRun(context.WithoutCancel(ctx), run); err != nil {
		s.logger.Printf("Failed to update match run %s: %v", runID, err)
	}
}

func (s *Scheduler) scan(ctx context.Context, stats *scanStats) error {
	all, err := s.store.ListActiveOpportunities(ctx)
	if err != nil {
		return fmt.Errorf("load active opportunities: %w", err)
	}
	opps := make([]models.Opportunity, 0, len(all))
	for _, o := range all {
		if o.CriteriaErr != nil {
			s.logger.Printf("[matching] skipping opportunity %s: %v", o.ID, o.CriteriaErr)
			stats.skipped++
			continue
		}
		opps = append(opps, o)
	}
	stats.opportunities = len(opps)
	if len(opps) == 0 {
		return nil
	}

	survivors, err := s.store.ListSurvivors(ctx)
	if err != nil {
		return fmt.Errorf("load survivors: %w", err)
	}
	stats.survivors = len(survivors)
	if len(survivors) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i := range survivors {
		survivor := &survivors[i]
		g.Go(func() (err error) {
			// errgroup does not carry worker panics back to Wait.
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("scan survivor %s panicked: %v", survivor.ID, r)
				}
			}()
			return s.scanSurvivor(gctx, opps, survivor, stats)
		})
	}
	return g.Wait()
}

// scanSurvivor handles every opportunity for one survivor. The profile is built
// at most once per survivor per run.
func (s *Scheduler) scanSurvivor(ctx context.Context, opps []models.Opportunity, survivor *models.User, stats *scanStats) error {
	matches, err := s.store.ListMatchesBySurvivor(ctx, survivor.ID)
	if err != nil {
		return fmt.Errorf("load matches for survivor %s: %w", survivor.ID, err)
	}
	existing := make(map[uuid.UUID]models.Match, len(matches))
	for _, m := range matches {
		existing[m.OpportunityID] = m
	}

	var profile *models.SurvivorProfile
	loadProfile := func() (models.SurvivorProfile, error) {
		if profile == nil {
			p, err := BuildProfile(ctx, s.store, *survivor, s.logger)
			if err != nil {
				return models.SurvivorProfile{}, err
			}
			profile = &p
		}
		return *profile, nil
	}

	for i := range opps {
		if err := ctx.Err(); err != nil {
			return err
		}
		opp := &opps[i]
		checkedAt := s.now()
		stats.checked.Add(1)

		if m, ok := existing[opp.ID]; ok {
			if err := s.refresh(ctx, opp, m, checkedAt, loadProfile, stats); err != nil {
				return err
			}
			continue
		}

		p, err := loadProfile()
		if err != nil {
			return err
		}
		res := ScoreProfile(opp, p)
		if !res.Eligible {
			continue
		}

		written, err := s.store.CreateMatch(ctx, &models.Match{
			OpportunityID: opp.ID,
			SurvivorID:    survivor.ID,
			MatchScore:    res.Score,
			MatchCriteria: res.Detail,
			Status:        models.MatchPending,
			LastCheckedAt: checkedAt,
			CreatedAt:     checkedAt,
			UpdatedAt:     checkedAt,
		})
		if err != nil {
			return fmt.Errorf("create match %s/%s: %w", opp.ID, survivor.ID, err)
		}
		if written {
			stats.created.Add(1)
		}
	}
	return nil
}

// refresh never changes status or workflow fields; only pending matches get a
// new score.
func (s *Scheduler) refresh(ctx context.Context, opp *models.Opportunity, m models.Match, checkedAt time.Time,
	loadProfile func() (models.SurvivorProfile, error), stats *scanStats) error {
	if m.Status == models.MatchPending {
		p, err := loadProfile()
		if err != nil {
			return err
		}
		res := ScoreProfile(opp, p)
		updated, err := s.store.RefreshPendingMatch(ctx, models.MatchRefresh{
			OpportunityID: m.OpportunityID,
			SurvivorID:    m.SurvivorID,
			Score:         res.Score,
			Detail:        res.Detail,
			CheckedAt:     checkedAt,
		})
		if err != nil {
			return fmt.Errorf("refresh match %s/%s: %w", m.OpportunityID, m.SurvivorID, err)
		}
		if updated {
			stats.updated.Add(1)
			return nil
		}
		// The match left pending since it was loaded; fall through to a touch.
	}

	if err := s.store.TouchMatch(ctx, m.OpportunityID, m.SurvivorID, checkedAt); err != nil {
		return fmt.Errorf("touch match %s/%s: %w", m.OpportunityID, m.SurvivorID, err)
	}
	return nil
}

func shortID(id uuid.UUID) string {
	if id == uuid.Nil {
		return "-"
	}
	return id.String()[:8]
}
