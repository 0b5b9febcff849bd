package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lucaszub/background-remover/internal/domain/enums"
	"github.com/lucaszub/background-remover/internal/domain/rules"
	pgrepo "github.com/lucaszub/background-remover/internal/repo/postgres"
	redrepo "github.com/lucaszub/background-remover/internal/repo/redis"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// QuotaStore holds the durable per-user counters.
type QuotaStore interface {
	Get(ctx context.Context, userID int64) (pgrepo.QuotaRecord, error)
	Create(ctx context.Context, rec pgrepo.QuotaRecord) (pgrepo.QuotaRecord, error)
	ResetWindows(ctx context.Context, userID int64, dayStart, monthStart time.Time) (pgrepo.QuotaRecord, error)
	ConsumeWithLimit(ctx context.Context, userID int64, ev pgrepo.UsageEventRecord) (pgrepo.QuotaRecord, error)
}

// AnonStore holds per-IP daily counters for callers without an account.
type AnonStore interface {
	Usage(ctx context.Context, dayKey, ip string) (int, error)
	Consume(ctx context.Context, dayKey, ip string, limit int, expireAt time.Time) (int, error)
}

// UsageStore appends usage events and aggregates them for the stats view.
type UsageStore interface {
	Insert(ctx context.Context, ev pgrepo.UsageEventRecord) error
	Stats(ctx context.Context, userID int64, since time.Time) (pgrepo.UsageStats, error)
}

type Limits struct {
	AnonymousDaily int
	FreeDaily      int
	PremiumDaily   int
	PremiumMonthly int
}

func (l Limits) withDefaults() Limits {
	if l.AnonymousDaily <= 0 {
		l.AnonymousDaily = rules.AnonymousDailyLimit
	}
	if l.FreeDaily <= 0 {
		l.FreeDaily = rules.FreeDailyLimit
	}
	if l.PremiumDaily <= 0 {
		l.PremiumDaily = rules.PremiumDailyLimit
	}
	if l.PremiumMonthly <= 0 {
		l.PremiumMonthly = rules.PremiumMonthlyLimit
	}
	return l
}

// UsageMeta describes the request being charged against the quota.
type UsageMeta struct {
	IP           string
	UserAgent    string
	FileSize     int64
	FileType     string
	ProcessingMS int64
}

type Status string

const (
	StatusSafe     Status = "safe"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Snapshot is the quota state as exposed to callers: the daily window
// plus the monthly window for plans that carry one.
type Snapshot struct {
	Kind         Kind
	Plan         enums.Plan
	Usage        int
	Limit        int
	Remaining    int
	CanUse       bool
	ResetAt      time.Time
	MonthlyUsage *int
	MonthlyLimit *int
	Percentage   int
	Status       Status
	Message      string
}

type Service struct {
	quotas QuotaStore
	anon   AnonStore
	usage  UsageStore
	limits Limits
	loc    *time.Location
	logger *zap.Logger
	now    func() time.Time
}

func NewService(quotas QuotaStore, anon AnonStore, usage UsageStore, limits Limits, loc *time.Location, logger *zap.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		quotas: quotas,
		anon:   anon,
		usage:  usage,
		limits: limits.withDefaults(),
		loc:    loc,
		logger: logger,
		now:    time.Now,
	}
}

// Check reports the current quota state without charging anything. Store
// errors propagate so callers deny the request rather than admit it on a
// broken ledger.
func (s *Service) Check(ctx context.Context, id Identity) (Snapshot, error) {
	switch id.Kind {
	case KindAnonymous:
		return s.checkAnonymous(ctx, id)
	case KindUser:
		return s.checkUser(ctx, id)
	default:
		return Snapshot{}, ErrInvalidInput
	}
}

// Consume charges one processing against the quota and appends the usage
// event. It returns ErrQuotaExceeded together with the denial snapshot
// when the window is already full.
func (s *Service) Consume(ctx context.Context, id Identity, meta UsageMeta) (Snapshot, error) {
	switch id.Kind {
	case KindAnonymous:
		return s.consumeAnonymous(ctx, id, meta)
	case KindUser:
		return s.consumeUser(ctx, id, meta)
	default:
		return Snapshot{}, ErrInvalidInput
	}
}

// Stats aggregates the usage events of one user over the trailing window.
func (s *Service) Stats(ctx context.Context, userID int64, days int) (pgrepo.UsageStats, error) {
	if userID <= 0 {
		return pgrepo.UsageStats{}, ErrInvalidInput
	}
	if s.usage == nil {
		return pgrepo.UsageStats{}, fmt.Errorf("usage store is not configured")
	}
	if days <= 0 {
		days = 30
	}

	since := s.now().UTC().AddDate(0, 0, -days)
	stats, err := s.usage.Stats(ctx, userID, since)
	if err != nil {
		return pgrepo.UsageStats{}, fmt.Errorf("aggregate usage stats: %w", err)
	}
	return stats, nil
}

func (s *Service) checkAnonymous(ctx context.Context, id Identity) (Snapshot, error) {
	if s.anon == nil {
		return Snapshot{}, fmt.Errorf("anonymous quota store is not configured")
	}

	now := s.now()
	used, err := s.anon.Usage(ctx, rules.DayKey(now, s.loc), id.IP)
	if err != nil {
		return Snapshot{}, fmt.Errorf("check anonymous quota: %w", err)
	}

	return s.anonymousSnapshot(used, now), nil
}

func (s *Service) consumeAnonymous(ctx context.Context, id Identity, meta UsageMeta) (Snapshot, error) {
	if s.anon == nil {
		return Snapshot{}, fmt.Errorf("anonymous quota store is not configured")
	}

	now := s.now()
	used, err := s.anon.Consume(ctx, rules.DayKey(now, s.loc), id.IP, s.limits.AnonymousDaily, rules.NextDailyReset(now, s.loc))
	if err != nil {
		if errors.Is(err, redrepo.ErrAnonQuotaExceeded) {
			return s.anonymousSnapshot(s.limits.AnonymousDaily, now), ErrQuotaExceeded
		}
		return Snapshot{}, fmt.Errorf("consume anonymous quota: %w", err)
	}

	s.recordUsage(ctx, nil, meta, now)
	return s.anonymousSnapshot(used, now), nil
}

func (s *Service) checkUser(ctx context.Context, id Identity) (Snapshot, error) {
	rec, err := s.currentRecord(ctx, id.UserID)
	if err != nil {
		return Snapshot{}, err
	}
	return s.userSnapshot(rec), nil
}

func (s *Service) consumeUser(ctx context.Context, id Identity, meta UsageMeta) (Snapshot, error) {
	rec, err := s.currentRecord(ctx, id.UserID)
	if err != nil {
		return Snapshot{}, err
	}
	if !rec.IsActive {
		return s.userSnapshot(rec), ErrQuotaExceeded
	}

	now := s.now()
	rec, err = s.quotas.ConsumeWithLimit(ctx, id.UserID, pgrepo.UsageEventRecord{
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
		FileSize:     meta.FileSize,
		FileType:     meta.FileType,
		ProcessingMS: meta.ProcessingMS,
		UsedAt:       now.UTC(),
	})
	if err != nil {
		if errors.Is(err, pgrepo.ErrQuotaLimitReached) {
			denied, loadErr := s.currentRecord(ctx, id.UserID)
			if loadErr != nil {
				return Snapshot{}, loadErr
			}
			return s.userSnapshot(denied), ErrQuotaExceeded
		}
		return Snapshot{}, fmt.Errorf("consume user quota: %w", err)
	}

	return s.userSnapshot(rec), nil
}

// currentRecord loads the quota row, lazily creating it with free-plan
// defaults and rolling stale windows forward.
func (s *Service) currentRecord(ctx context.Context, userID int64) (pgrepo.QuotaRecord, error) {
	if userID <= 0 {
		return pgrepo.QuotaRecord{}, ErrInvalidInput
	}
	if s.quotas == nil {
		return pgrepo.QuotaRecord{}, fmt.Errorf("quota store is not configured")
	}

	now := s.now()
	rec, err := s.quotas.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, pgrepo.ErrQuotaNotFound) {
			return pgrepo.QuotaRecord{}, fmt.Errorf("load quota record: %w", err)
		}
		rec, err = s.quotas.Create(ctx, pgrepo.QuotaRecord{
			UserID:         userID,
			DailyLimit:     s.limits.FreeDaily,
			DailyResetAt:   rules.DayStart(now, s.loc).UTC(),
			MonthlyResetAt: rules.MonthStart(now, s.loc).UTC(),
			Plan:           string(enums.PlanFree),
		})
		if err != nil {
			return pgrepo.QuotaRecord{}, fmt.Errorf("create quota record: %w", err)
		}
	}

	dayStart := rules.DayStart(now, s.loc).UTC()
	monthStart := rules.MonthStart(now, s.loc).UTC()
	if rec.DailyResetAt.Before(dayStart) || rec.MonthlyResetAt.Before(monthStart) {
		rec, err = s.quotas.ResetWindows(ctx, userID, dayStart, monthStart)
		if err != nil {
			return pgrepo.QuotaRecord{}, fmt.Errorf("reset quota windows: %w", err)
		}
	}

	return rec, nil
}

func (s *Service) recordUsage(ctx context.Context, userID *int64, meta UsageMeta, now time.Time) {
	if s.usage == nil {
		return
	}

	err := s.usage.Insert(ctx, pgrepo.UsageEventRecord{
		UserID:       userID,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
		FileSize:     meta.FileSize,
		FileType:     meta.FileType,
		ProcessingMS: meta.ProcessingMS,
		UsedAt:       now.UTC(),
	})
	if err != nil {
		s.logger.Warn("record usage event", zap.Error(err))
	}
}

func (s *Service) anonymousSnapshot(used int, now time.Time) Snapshot {
	snap := Snapshot{
		Kind:    KindAnonymous,
		Usage:   used,
		Limit:   s.limits.AnonymousDaily,
		ResetAt: rules.NextDailyReset(now, s.loc),
	}
	finishSnapshot(&snap)
	return snap
}

func (s *Service) userSnapshot(rec pgrepo.QuotaRecord) Snapshot {
	snap := Snapshot{
		Kind:    KindUser,
		Plan:    enums.Plan(rec.Plan),
		Usage:   rec.DailyUsed,
		Limit:   rec.DailyLimit,
		ResetAt: rules.NextDailyReset(s.now(), s.loc),
	}
	if rec.MonthlyLimit != nil {
		monthlyUsage := rec.MonthlyUsed
		snap.MonthlyUsage = &monthlyUsage
		snap.MonthlyLimit = rec.MonthlyLimit
	}
	if !rec.IsActive {
		finishSnapshot(&snap)
		snap.CanUse = false
		snap.Remaining = 0
		snap.Status = StatusCritical
		snap.Message = "Your account is suspended."
		return snap
	}
	finishSnapshot(&snap)
	return snap
}

func finishSnapshot(snap *Snapshot) {
	remaining := snap.Limit - snap.Usage
	if remaining < 0 {
		remaining = 0
	}
	snap.Remaining = remaining
	snap.CanUse = remaining > 0
	monthlyExhausted := snap.MonthlyLimit != nil && snap.MonthlyUsage != nil && *snap.MonthlyUsage >= *snap.MonthlyLimit
	if monthlyExhausted {
		snap.Remaining = 0
		snap.CanUse = false
	}

	if snap.Limit > 0 {
		snap.Percentage = snap.Usage * 100 / snap.Limit
	}
	switch {
	case snap.Percentage >= 90:
		snap.Status = StatusCritical
	case snap.Percentage >= 70:
		snap.Status = StatusWarning
	default:
		snap.Status = StatusSafe
	}

	switch {
	case monthlyExhausted:
		snap.Message = "Monthly limit reached. Try again next month."
	case !snap.CanUse:
		snap.Message = "Daily limit reached. Try again after the reset."
	case snap.Remaining == 1:
		snap.Message = "1 image remaining today."
	default:
		snap.Message = fmt.Sprintf("%d images remaining today.", snap.Remaining)
	}
}
