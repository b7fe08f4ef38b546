package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "escrow/internal/errors"
	"escrow/internal/models"
	"escrow/internal/repositories"
	"escrow/internal/services/dispute"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "escrow/internal/services/escrow"

// Service defines the escrow engine
type Service interface {
	// Lifecycle
	CreateEscrow(ctx context.Context, params CreateParams) (*Result, error)
	Fund(ctx context.Context, escrowID uint, actor Actor) (*Result, error)
	Ship(ctx context.Context, escrowID uint, actor Actor) (*Result, error)
	Deliver(ctx context.Context, escrowID uint, actor Actor) (*Result, error)
	Release(ctx context.Context, escrowID uint, actor Actor) (*Result, error)
	AutoRelease(ctx context.Context, escrowID uint, now time.Time) (*Result, error)

	// Disputes
	RaiseDispute(ctx context.Context, escrowID uint, actor Actor, reason string) (*Result, error)
	SubmitEvidence(ctx context.Context, escrowID uint, actor Actor, in EvidenceInput) (*Result, error)
	ResolveDispute(ctx context.Context, escrowID uint, actor Actor, outcome dispute.Outcome) (*Result, error)

	// Queries
	GetDetail(ctx context.Context, escrowID uint, actor Actor) (*Detail, error)
	History(ctx context.Context, escrowID uint, actor Actor) (*History, error)
	List(ctx context.Context, actor Actor, limit, offset int) ([]models.Escrow, error)
	DueForAutoRelease(ctx context.Context, now time.Time, afterID uint, limit int) ([]uint, error)
}

// Option customises a service.
type Option func(*service)

// WithArbiterVerifier checks arbiter claims against an external directory.
func WithArbiterVerifier(v ArbiterVerifier) Option {
	return func(s *service) { s.arbiters = v }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.clock = now }
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *service) { s.tracer = t }
}

type service struct {
	repo     repositories.EscrowRepository
	cache    Cache
	config   Config
	metrics  MetricsCollector
	log      *zap.SugaredLogger
	arbiters ArbiterVerifier
	clock    func() time.Time
	tracer   trace.Tracer
}

// NewService creates a new escrow service. cache, metrics and log may be nil.
func NewService(
	repo repositories.EscrowRepository,
	cache Cache,
	config Config,
	metrics MetricsCollector,
	log *zap.SugaredLogger,
	opts ...Option,
) Service {
	if repo == nil {
		panic("repo is required")
	}

	if config.DefaultConfirmationWindowHours <= 0 {
		config.DefaultConfirmationWindowHours = DefaultConfirmationWindowHours
	}
	if config.DisputeReasonMinLength <= 0 {
		config.DisputeReasonMinLength = dispute.DefaultReasonMinLength
	}
	if config.DetailCacheTTL <= 0 {
		config.DetailCacheTTL = DefaultDetailCacheTTL
	}

	// Metrics is optional, create no-op collector if nil
	if metrics == nil {
		metrics = &NoopMetricsCollector{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	s := &service{
		repo:    repo,
		cache:   cache,
		config:  config,
		metrics: metrics,
		log:     log,
		clock:   time.Now,
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// now is truncated to microseconds so values survive a database round trip
// unchanged.
func (s *service) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

// command describes one status-changing operation. Every command runs
// through transition, which performs membership, policy, status write and
// audit records in a single database transaction.
type command struct {
	op      string
	role    models.Role
	to      models.EscrowStatus
	reason  string
	txnType models.TransactionType

	// check runs after membership and before the policy lookup.
	check func(ctx context.Context, tx repositories.EscrowRepository, e *models.Escrow) error
	// guard runs after the policy lookup and before any write.
	guard func(ctx context.Context, tx repositories.EscrowRepository, e *models.Escrow, now time.Time) error
	// apply writes the command's own records after the status change.
	apply func(ctx context.Context, tx repositories.EscrowRepository, e *models.Escrow, now time.Time, res *Result) error
}

func (s *service) transition(ctx context.Context, escrowID uint, actor Actor, cmd command) (res *Result, err error) {
	ctx, span := s.tracer.Start(ctx, "escrow."+cmd.op, trace.WithAttributes(
		attribute.Int64("escrow.id", int64(escrowID)),
		attribute.String("escrow.actor_role", string(actor.Role)),
		attribute.String("escrow.target_status", string(cmd.to)),
	))
	start := time.Now()
	defer func() { s.finish(span, cmd.op, escrowID, start, err) }()

	var from models.EscrowStatus
	err = s.repo.ExecuteInTransaction(ctx, func(tx repositories.EscrowRepository) error {
		e, err := tx.GetByIDForUpdate(ctx, escrowID)
		if err != nil {
			return mapRepoError(err)
		}

		if err := s.authorize(ctx, tx, e.ID, actor, cmd.role); err != nil {
			return err
		}
		if cmd.check != nil {
			if err := cmd.check(ctx, tx, e); err != nil {
				return err
			}
		}

		from = e.Status
		if !CanTransitionByRole(from, cmd.to, actor.Role) {
			return apperrors.ErrTransitionNotAllowed.With(
				fmt.Sprintf("cannot move escrow from %s to %s as %s", from, cmd.to, actor.Role))
		}

		now := s.now()
		if cmd.guard != nil {
			if err := cmd.guard(ctx, tx, e, now); err != nil {
				return err
			}
		}

		if cmd.to == models.StatusDelivered {
			deadline := now.Add(e.ConfirmationWindow())
			e.DeliveredAt = &now
			e.ConfirmDeadline = &deadline
		}
		e.Status = cmd.to
		e.UpdatedAt = now
		if err := tx.UpdateStatus(ctx, e, from); err != nil {
			return mapRepoError(err)
		}

		result := &Result{Escrow: e}
		if cmd.apply != nil {
			if err := cmd.apply(ctx, tx, e, now, result); err != nil {
				return err
			}
		}

		entry := &models.StatusLog{
			EscrowID:   e.ID,
			FromStatus: from,
			ToStatus:   cmd.to,
			ChangedBy:  actor.userRef(),
			CreatedAt:  now,
		}
		if cmd.reason != "" {
			reason := cmd.reason
			entry.Reason = &reason
		}
		if err := tx.AppendStatusLog(ctx, entry); err != nil {
			return err
		}
		result.StatusLog = entry

		if cmd.txnType != "" {
			txn := &models.EscrowTransaction{
				EscrowID:   e.ID,
				Type:       cmd.txnType,
				Amount:     e.Amount,
				ExecutedBy: actor.userRef(),
				ExecutedAt: now,
				CreatedAt:  now,
			}
			if err := tx.AppendTransaction(ctx, txn); err != nil {
				return err
			}
			result.Transaction = txn
		}

		res = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, escrowID)
	s.metrics.RecordTransition(from, cmd.to, actor.Role)
	if res.Transaction != nil {
		s.metrics.RecordTransaction(res.Transaction.Type, res.Transaction.Amount)
	}
	s.log.Infow("escrow transition",
		"op", cmd.op,
		"escrow_id", escrowID,
		"from", from,
		"to", cmd.to,
		"role", actor.Role,
		"user_id", actor.UserID,
	)
	return res, nil
}

// authorize checks that actor holds role on the escrow. Buyer and seller
// are verified against participant rows, arbiters through the verifier.
func (s *service) authorize(ctx context.Context, tx repositories.EscrowRepository, escrowID uint, actor Actor, role models.Role) error {
	switch {
	case role == models.RoleArbiter:
		return s.verifyArbiter(ctx, actor)
	case actor.Role != role:
		return apperrors.ErrNotParticipant.With(fmt.Sprintf("%s role required", role))
	case role == models.RoleSystem:
		return nil
	}

	ok, err := tx.HasParticipant(ctx, escrowID, actor.UserID, role)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.ErrNotParticipant.With(fmt.Sprintf("caller is not the %s of this escrow", role))
	}
	return nil
}

func (s *service) verifyArbiter(ctx context.Context, actor Actor) error {
	if actor.Role != models.RoleArbiter || actor.UserID == 0 {
		return apperrors.ErrNotArbiter
	}
	if s.arbiters == nil {
		return nil
	}
	ok, err := s.arbiters.IsArbiter(ctx, actor.UserID)
	if err != nil {
		return fmt.Errorf("failed to verify arbiter: %w", err)
	}
	if !ok {
		return apperrors.ErrNotArbiter
	}
	return nil
}

// mapRepoError turns storage sentinels into domain errors. Anything else is
// a storage fault and passes through.
func mapRepoError(err error) error {
	switch {
	case errors.Is(err, repositories.ErrEscrowNotFound):
		return apperrors.Wrap(apperrors.KindNotFound, apperrors.ErrEscrowNotFound.Code, apperrors.ErrEscrowNotFound.Message, err)
	case errors.Is(err, repositories.ErrDisputeNotFound):
		return apperrors.Wrap(apperrors.KindNotFound, apperrors.ErrDisputeNotFound.Code, apperrors.ErrDisputeNotFound.Message, err)
	case errors.Is(err, repositories.ErrStatusConflict):
		return apperrors.Wrap(apperrors.KindInvalidTransition, apperrors.ErrTransitionNotAllowed.Code, "escrow status changed concurrently", err)
	case errors.Is(err, repositories.ErrDisputeConflict):
		return apperrors.Wrap(apperrors.KindAlreadyResolved, apperrors.ErrDisputeNotOpen.Code, apperrors.ErrDisputeNotOpen.Message, err)
	case errors.Is(err, repositories.ErrDuplicateDispute):
		return apperrors.Wrap(apperrors.KindInvalidTransition, apperrors.ErrTransitionNotAllowed.Code, "escrow already has a dispute", err)
	}
	return err
}

func (s *service) invalidate(ctx context.Context, escrowID uint) {
	if s.cache == nil {
		return
	}
	ttl := detailGenTTL
	if 2*s.config.DetailCacheTTL > ttl {
		ttl = 2 * s.config.DetailCacheTTL
	}
	gen, err := s.cache.Incr(ctx, detailGenKey(escrowID), ttl)
	if err != nil {
		s.log.Warnw("failed to invalidate escrow cache", "escrow_id", escrowID, "error", err)
		return
	}
	if err := s.cache.Delete(ctx, detailKey(escrowID, gen-1)); err != nil {
		s.log.Warnw("failed to drop stale escrow detail", "escrow_id", escrowID, "error", err)
	}
}

func (s *service) finish(span trace.Span, op string, escrowID uint, start time.Time, err error) {
	s.metrics.RecordOperationDuration(op, time.Since(start))
	if err == nil {
		s.metrics.RecordOperationResult(op, "success")
		span.SetStatus(codes.Ok, "")
		span.End()
		return
	}

	kind, domain := apperrors.KindOf(err)
	if domain {
		s.metrics.RecordOperationResult(op, "rejected")
		s.metrics.RecordError(op, string(kind))
		s.log.Debugw("escrow command rejected", "op", op, "escrow_id", escrowID, "kind", kind, "error", err)
	} else {
		s.metrics.RecordOperationResult(op, "error")
		s.metrics.RecordError(op, "storage")
		s.log.Errorw("escrow command failed", "op", op, "escrow_id", escrowID, "error", err)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()
}
