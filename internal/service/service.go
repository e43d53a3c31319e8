package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"card-price-sync/internal/alerting"
	"card-price-sync/internal/config"
	"card-price-sync/internal/fetcher"
	"card-price-sync/internal/logging"
	"card-price-sync/internal/metrics"
	"card-price-sync/internal/scheduler"
	"card-price-sync/internal/storage"
	"card-price-sync/internal/upstream"
)

// ChangeDetector derives alerts from freshly written observations.
type ChangeDetector interface {
	Detect(ctx context.Context) ([]storage.PriceAlert, error)
}

// Options tune the batch run.
type Options struct {
	BatchSize     int
	BatchDelay    time.Duration
	ProgressEvery int
	// Location defines the calendar day used by the same-day filter.
	Location      *time.Location
	LockKey       int64
	AlertsEnabled bool

	Now      func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error
	NewRunID func() string
}

// OptionsFromConfig maps runtime configuration onto Options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	loc, err := cfg.Sync.Location()
	if err != nil {
		return Options{}, err
	}
	return Options{
		BatchSize:     cfg.Sync.BatchSize,
		BatchDelay:    cfg.Sync.BatchDelay,
		ProgressEvery: cfg.Sync.ProgressEvery,
		Location:      loc,
		LockKey:       cfg.Sync.AdvisoryLockKey,
		AlertsEnabled: cfg.Alerts.Enabled,
	}, nil
}

// Dependencies are the collaborators a Service drives.
type Dependencies struct {
	Scheduler    *scheduler.Scheduler
	Prices       fetcher.PriceFetcher
	WorkingSet   storage.WorkingSet
	Observations storage.ObservationStore
	Detector     ChangeDetector
	Notifier     alerting.Notifier
	Locker       storage.AdvisoryLocker
}

// Service orchestrates price fetching, persistence, and alert detection.
type Service struct {
	deps   Dependencies
	opts   Options
	logger zerolog.Logger
}

// New constructs the sync service.
func New(opts Options, deps Dependencies, logger zerolog.Logger) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 100
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Sleep == nil {
		opts.Sleep = upstream.SleepContext
	}
	if opts.NewRunID == nil {
		opts.NewRunID = func() string { return uuid.NewString() }
	}
	return &Service{
		deps:   deps,
		opts:   opts,
		logger: logging.Component(logger, "service"),
	}
}

// Outcome is the typed result of one card within a batch run.
type Outcome int

const (
	// OutcomeUpdated means an observation was written.
	OutcomeUpdated Outcome = iota
	// OutcomeNotFound means the pricing source has no such card.
	OutcomeNotFound
	// OutcomeFailed is a per-card failure; the run continues.
	OutcomeFailed
	// OutcomeFatal is a systemic failure; the run aborts.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUpdated:
		return "updated"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeFailed:
		return "failed"
	case OutcomeFatal:
		return "fatal"
	}
	return "unknown"
}

// ItemResult reports what happened to one card.
type ItemResult struct {
	CardID  string
	Outcome Outcome
	Err     error
}

// Summary describes a finished or aborted batch run.
type Summary struct {
	RunID       string
	WorkingSet  int
	AlreadyDone int
	Pending     int
	Updated     int
	NotFound    int
	Failed      int
	Alerts      int
	Elapsed     time.Duration
	Aborted     bool
	LockSkipped bool
}

// Processed is the number of cards attempted in the run.
func (s Summary) Processed() int {
	return s.Updated + s.NotFound + s.Failed
}

// Run begins the scheduled sync loop.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.deps.Scheduler.Run(ctx, func(ctx context.Context, bucket time.Time) error {
		_, err := s.SyncAll(ctx)
		return err
	})
}

// IsRetryable reports whether a failed run is worth re-running later:
// throttling and exhausted network failures are.
func IsRetryable(err error) bool {
	kind, ok := upstream.KindOf(err)
	return ok && (kind == upstream.KindRateLimit || kind == upstream.KindNetwork)
}

// SyncCard fetches one card and persists an observation even when every
// price is absent. It returns nil, nil when the card is unknown upstream.
// Fetch errors are returned unchanged.
func (s *Service) SyncCard(ctx context.Context, cardID string) (*storage.PriceObservation, error) {
	snap, err := s.fetchFresh(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		s.logger.Info().Str("card_id", cardID).Msg("card not found upstream; nothing persisted")
		return nil, nil
	}

	obs, err := s.persist(ctx, cardID, snap)
	if err != nil {
		return nil, err
	}
	return &obs, nil
}

// SyncAll refreshes every card in the working set that has no observation
// on the current day. A rate-limit or exhausted network failure aborts the
// run and is returned; completed cards stay persisted and are skipped on
// the next run of the same day.
func (s *Service) SyncAll(ctx context.Context) (Summary, error) {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return Summary{}, err
	}
	if !proceed {
		s.logger.Info().Msg("skip sync because advisory lock held elsewhere")
		return Summary{LockSkipped: true}, nil
	}
	if unlock != nil {
		defer unlock()
	}

	summary := Summary{RunID: s.opts.NewRunID()}
	logger := s.logger.With().Str("run_id", summary.RunID).Logger()
	start := s.opts.Now()

	err = s.runBatches(ctx, logger, start, &summary)
	summary.Elapsed = s.opts.Now().Sub(start)
	metrics.ObserveSync(summary.Elapsed, err == nil)
	if err != nil {
		return summary, err
	}
	if summary.Pending == 0 {
		return summary, nil
	}

	logger.Info().
		Int("processed", summary.Processed()).
		Int("updated", summary.Updated).
		Int("not_found", summary.NotFound).
		Int("failed", summary.Failed).
		Int("already_done", summary.AlreadyDone).
		Dur("elapsed", summary.Elapsed).
		Msg("price sync complete")

	s.detectAlerts(ctx, logger, &summary)
	return summary, nil
}

func (s *Service) runBatches(ctx context.Context, logger zerolog.Logger, start time.Time, summary *Summary) error {
	ids, err := s.deps.WorkingSet.DistinctCardIDs(ctx)
	if err != nil {
		return fmt.Errorf("resolve working set: %w", err)
	}
	ids = dedupe(ids)
	summary.WorkingSet = len(ids)
	if len(ids) == 0 {
		logger.Info().Msg("working set is empty; nothing to sync")
		return nil
	}

	dayStart, dayEnd := storage.DayBounds(start.In(s.opts.Location))
	done, err := s.deps.Observations.CardIDsObservedBetween(ctx, dayStart, dayEnd)
	if err != nil {
		return fmt.Errorf("list cards observed today: %w", err)
	}
	pending := without(ids, done)
	summary.AlreadyDone = len(ids) - len(pending)
	summary.Pending = len(pending)
	if len(pending) == 0 {
		logger.Info().Int("working_set", len(ids)).Msg("every card already refreshed today; nothing to sync")
		return nil
	}

	batches := chunk(pending, s.opts.BatchSize)
	logger.Info().
		Int("working_set", len(ids)).
		Int("already_done", summary.AlreadyDone).
		Int("pending", len(pending)).
		Int("batches", len(batches)).
		Msg("starting price sync")

	for i, batch := range batches {
		if i > 0 && s.opts.BatchDelay > 0 {
			if err := s.opts.Sleep(ctx, s.opts.BatchDelay); err != nil {
				summary.Aborted = true
				return err
			}
		}
		for _, cardID := range batch {
			res := s.syncItem(ctx, cardID)
			metrics.SyncCards.WithLabelValues(res.Outcome.String()).Inc()

			switch res.Outcome {
			case OutcomeUpdated:
				summary.Updated++
			case OutcomeNotFound:
				summary.NotFound++
				logger.Debug().Str("card_id", cardID).Msg("card not found upstream")
			case OutcomeFailed:
				summary.Failed++
				logger.Warn().Err(res.Err).Str("card_id", cardID).Str("error_kind", errorKind(res.Err)).Msg("card sync failed; continuing")
			case OutcomeFatal:
				summary.Aborted = true
				logger.Error().Err(res.Err).
					Str("card_id", cardID).
					Str("error_kind", errorKind(res.Err)).
					Int("processed", summary.Processed()).
					Int("remaining", len(pending)-summary.Processed()).
					Msg("price sync aborted")
				return fmt.Errorf("sync aborted at card %s: %w", cardID, res.Err)
			}

			if n := summary.Processed(); n%s.opts.ProgressEvery == 0 {
				logger.Info().Int("processed", n).Int("pending", len(pending)).Msg("price sync progress")
			}
		}
	}
	return nil
}

// fetchFresh reads past any snapshot cache so each run records the
// upstream's current price.
func (s *Service) fetchFresh(ctx context.Context, cardID string) (*fetcher.Snapshot, error) {
	if f, ok := s.deps.Prices.(fetcher.FreshFetcher); ok {
		return f.FetchFresh(ctx, cardID)
	}
	return s.deps.Prices.Fetch(ctx, cardID)
}

// syncItem fetches and persists one card, classifying the result.
func (s *Service) syncItem(ctx context.Context, cardID string) ItemResult {
	snap, err := s.fetchFresh(ctx, cardID)
	if err != nil {
		return ItemResult{CardID: cardID, Outcome: classify(ctx, err), Err: err}
	}
	if snap == nil {
		return ItemResult{CardID: cardID, Outcome: OutcomeNotFound}
	}
	if _, err := s.persist(ctx, cardID, snap); err != nil {
		// storage outages affect every card
		return ItemResult{CardID: cardID, Outcome: OutcomeFatal, Err: err}
	}
	return ItemResult{CardID: cardID, Outcome: OutcomeUpdated}
}

func classify(ctx context.Context, err error) Outcome {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return OutcomeFatal
	}
	if IsRetryable(err) {
		return OutcomeFatal
	}
	return OutcomeFailed
}

func errorKind(err error) string {
	if kind, ok := upstream.KindOf(err); ok {
		return string(kind)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "unexpected"
}

func (s *Service) persist(ctx context.Context, cardID string, snap *fetcher.Snapshot) (storage.PriceObservation, error) {
	obs, err := s.deps.Observations.CreatePriceObservation(ctx, storage.PriceObservation{
		CardID:      cardID,
		BaseMinor:   snap.BaseMinor,
		FoilMinor:   snap.FoilMinor,
		EtchedMinor: snap.EtchedMinor,
		ObservedAt:  s.opts.Now(),
	})
	if err != nil {
		return storage.PriceObservation{}, fmt.Errorf("persist observation for %s: %w", cardID, err)
	}
	return obs, nil
}

func (s *Service) detectAlerts(ctx context.Context, logger zerolog.Logger, summary *Summary) {
	if !s.opts.AlertsEnabled || s.deps.Detector == nil {
		return
	}

	alerts, err := s.deps.Detector.Detect(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("alert detection failed; sync result unaffected")
	}
	summary.Alerts = len(alerts)
	if len(alerts) == 0 || s.deps.Notifier == nil {
		return
	}

	note := alerting.Notification{RunID: summary.RunID, Alerts: alerts}
	if err := s.deps.Notifier.Notify(ctx, note); err != nil {
		logger.Error().Err(err).Int("alerts", len(alerts)).Msg("failed to dispatch alerts")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func without(ids, exclude []string) []string {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := skip[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func chunk(ids []string, size int) [][]string {
	batches := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		batches = append(batches, ids[start:end])
	}
	return batches
}
