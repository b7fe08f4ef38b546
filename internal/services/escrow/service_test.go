package escrow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "escrow/internal/errors"
	"escrow/internal/models"
	"escrow/internal/repositories"
	"escrow/internal/repositories/cache"
	"escrow/internal/repositories/repotest"
	"escrow/internal/services/dispute"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	buyerID   uint = 1
	sellerID  uint = 2
	arbiterID uint = 9
	otherID   uint = 5
)

var (
	buyer   = Actor{UserID: buyerID, Role: models.RoleBuyer}
	seller  = Actor{UserID: sellerID, Role: models.RoleSeller}
	arbiter = Actor{UserID: arbiterID, Role: models.RoleArbiter}
	t0      = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	svc   Service
	repo  repositories.EscrowRepository
	clock *fakeClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	repo := repositories.NewEscrowRepository(repotest.NewSQLite(t))
	return newFixtureWithRepo(t, repo, repo, nil, nil, opts...)
}

// newFixtureWithRepo builds a service over svcRepo while assertions read
// through repo.
func newFixtureWithRepo(t *testing.T, repo, svcRepo repositories.EscrowRepository, c Cache, metrics MetricsCollector, opts ...Option) *fixture {
	t.Helper()
	clock := &fakeClock{now: t0}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return &fixture{
		svc:   NewService(svcRepo, c, Config{}, metrics, nil, opts...),
		repo:  repo,
		clock: clock,
	}
}

func (f *fixture) create(t *testing.T) *models.Escrow {
	t.Helper()
	res, err := f.svc.CreateEscrow(context.Background(), CreateParams{
		Title:    "Vintage camera",
		Amount:   150000,
		BuyerID:  buyerID,
		SellerID: sellerID,
	})
	require.NoError(t, err)
	return res.Escrow
}

// advance drives a fresh escrow to status along the happy path.
func (f *fixture) advance(t *testing.T, status models.EscrowStatus) *models.Escrow {
	t.Helper()
	ctx := context.Background()
	e := f.create(t)

	steps := []struct {
		to  models.EscrowStatus
		run func() (*Result, error)
	}{
		{models.StatusFunded, func() (*Result, error) { return f.svc.Fund(ctx, e.ID, buyer) }},
		{models.StatusShipping, func() (*Result, error) { return f.svc.Ship(ctx, e.ID, seller) }},
		{models.StatusDelivered, func() (*Result, error) { return f.svc.Deliver(ctx, e.ID, seller) }},
		{models.StatusDisputed, func() (*Result, error) {
			return f.svc.RaiseDispute(ctx, e.ID, buyer, "item arrived with a cracked lens")
		}},
	}
	if status == models.StatusCreated {
		return e
	}
	for _, step := range steps {
		res, err := step.run()
		require.NoError(t, err)
		e = res.Escrow
		if step.to == status {
			return e
		}
	}
	t.Fatalf("cannot advance to %s", status)
	return nil
}

func (f *fixture) logs(t *testing.T, id uint) []models.StatusLog {
	t.Helper()
	logs, err := f.repo.GetStatusLogs(context.Background(), id)
	require.NoError(t, err)
	return logs
}

func (f *fixture) txns(t *testing.T, id uint) []models.EscrowTransaction {
	t.Helper()
	txns, err := f.repo.GetTransactions(context.Background(), id)
	require.NoError(t, err)
	return txns
}

func (f *fixture) status(t *testing.T, id uint) models.EscrowStatus {
	t.Helper()
	e, err := f.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return e.Status
}

func TestService_CreateEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.create(t)
	assert.Equal(t, models.StatusCreated, e.Status)
	assert.Equal(t, DefaultConfirmationWindowHours, e.ConfirmationWindowHours)
	assert.Equal(t, buyerID, e.CreatedBy)
	assert.Len(t, e.Reference, 36)
	assert.Empty(t, f.logs(t, e.ID))

	participants, err := f.repo.GetParticipants(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, participants, 2)

	tests := []struct {
		name   string
		params CreateParams
		want   error
	}{
		{"missing title", CreateParams{Amount: 1, BuyerID: 1, SellerID: 2}, apperrors.ErrInvalidRequest},
		{"zero amount", CreateParams{Title: "x", BuyerID: 1, SellerID: 2}, apperrors.ErrInvalidAmount},
		{"negative amount", CreateParams{Title: "x", Amount: -5, BuyerID: 1, SellerID: 2}, apperrors.ErrInvalidAmount},
		{"same buyer and seller", CreateParams{Title: "x", Amount: 1, BuyerID: 1, SellerID: 1}, apperrors.ErrInvalidParticipants},
		{"missing seller", CreateParams{Title: "x", Amount: 1, BuyerID: 1}, apperrors.ErrInvalidParticipants},
		{"negative window", CreateParams{Title: "x", Amount: 1, BuyerID: 1, SellerID: 2, ConfirmationWindowHours: -1}, apperrors.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateEscrow(ctx, tt.params)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, apperrors.ErrValidationFailed)
		})
	}
}

func TestService_HappyPathAuditTrail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t)

	tests := []struct {
		name    string
		run     func() (*Result, error)
		from    models.EscrowStatus
		to      models.EscrowStatus
		actor   uint
		txnType models.TransactionType
		reason  string
	}{
		{"fund", func() (*Result, error) { return f.svc.Fund(ctx, e.ID, buyer) },
			models.StatusCreated, models.StatusFunded, buyerID, models.TransactionTypeFunding, ""},
		{"ship", func() (*Result, error) { return f.svc.Ship(ctx, e.ID, seller) },
			models.StatusFunded, models.StatusShipping, sellerID, "", ""},
		{"deliver", func() (*Result, error) { return f.svc.Deliver(ctx, e.ID, seller) },
			models.StatusShipping, models.StatusDelivered, sellerID, "", ""},
		{"release", func() (*Result, error) { return f.svc.Release(ctx, e.ID, buyer) },
			models.StatusDelivered, models.StatusReleased, buyerID, models.TransactionTypeRelease, ReasonBuyerConfirmed},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txnsBefore := len(f.txns(t, e.ID))

			res, err := tt.run()
			require.NoError(t, err)
			assert.Equal(t, tt.to, res.Escrow.Status)

			logs := f.logs(t, e.ID)
			require.Len(t, logs, i+1)
			last := logs[i]
			assert.Equal(t, tt.from, last.FromStatus)
			assert.Equal(t, tt.to, last.ToStatus)
			require.NotNil(t, last.ChangedBy)
			assert.Equal(t, tt.actor, *last.ChangedBy)
			if tt.reason == "" {
				assert.Nil(t, last.Reason)
			} else {
				require.NotNil(t, last.Reason)
				assert.Equal(t, tt.reason, *last.Reason)
			}

			txns := f.txns(t, e.ID)
			if tt.txnType == "" {
				assert.Len(t, txns, txnsBefore)
				assert.Nil(t, res.Transaction)
				return
			}
			require.Len(t, txns, txnsBefore+1)
			assert.Equal(t, tt.txnType, txns[len(txns)-1].Type)
			assert.Equal(t, int64(150000), txns[len(txns)-1].Amount)
			require.NotNil(t, txns[len(txns)-1].ExecutedBy)
			assert.Equal(t, tt.actor, *txns[len(txns)-1].ExecutedBy)
		})
	}
}

func TestService_DeliverSetsDeadline(t *testing.T) {
	f := newFixture(t)
	e := f.advance(t, models.StatusDelivered)

	stored, err := f.repo.GetByID(context.Background(), e.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.DeliveredAt)
	require.NotNil(t, stored.ConfirmDeadline)
	assert.True(t, t0.Equal(*stored.DeliveredAt))
	assert.True(t, t0.Add(48*time.Hour).Equal(*stored.ConfirmDeadline))
}

func TestService_WrongRoleOrState(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		status models.EscrowStatus
		run    func(f *fixture, id uint) (*Result, error)
		want   error
	}{
		{"seller cannot fund", models.StatusCreated,
			func(f *fixture, id uint) (*Result, error) { return f.svc.Fund(ctx, id, seller) }, apperrors.ErrForbidden},
		{"stranger cannot fund", models.StatusCreated,
			func(f *fixture, id uint) (*Result, error) {
				return f.svc.Fund(ctx, id, Actor{UserID: otherID, Role: models.RoleBuyer})
			}, apperrors.ErrNotParticipant},
		{"seller claiming buyer role", models.StatusCreated,
			func(f *fixture, id uint) (*Result, error) {
				return f.svc.Fund(ctx, id, Actor{UserID: sellerID, Role: models.RoleBuyer})
			}, apperrors.ErrForbidden},
		{"cannot fund twice", models.StatusFunded,
			func(f *fixture, id uint) (*Result, error) { return f.svc.Fund(ctx, id, buyer) }, apperrors.ErrInvalidTransition},
		{"cannot deliver before shipping", models.StatusFunded,
			func(f *fixture, id uint) (*Result, error) { return f.svc.Deliver(ctx, id, seller) }, apperrors.ErrInvalidTransition},
		{"buyer cannot ship", models.StatusFunded,
			func(f *fixture, id uint) (*Result, error) { return f.svc.Ship(ctx, id, buyer) }, apperrors.ErrForbidden},
		{"cannot release before delivery", models.StatusShipping,
			func(f *fixture, id uint) (*Result, error) { return f.svc.Release(ctx, id, buyer) }, apperrors.ErrInvalidTransition},
		{"buyer cannot release a disputed escrow", models.StatusDisputed,
			func(f *fixture, id uint) (*Result, error) { return f.svc.Release(ctx, id, buyer) }, apperrors.ErrInvalidTransition},
		{"missing escrow", models.StatusCreated,
			func(f *fixture, id uint) (*Result, error) { return f.svc.Fund(ctx, id+1000, buyer) }, apperrors.ErrEscrowNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			e := f.advance(t, tt.status)
			logsBefore := len(f.logs(t, e.ID))
			txnsBefore := len(f.txns(t, e.ID))

			res, err := tt.run(f, e.ID)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.want)

			assert.Equal(t, tt.status, f.status(t, e.ID))
			assert.Len(t, f.logs(t, e.ID), logsBefore)
			assert.Len(t, f.txns(t, e.ID), txnsBefore)
		})
	}
}

func TestService_RaiseDispute(t *testing.T) {
	ctx := context.Background()
	reason := "item arrived with a cracked lens"

	t.Run("buyer from delivered", func(t *testing.T) {
		f := newFixture(t)
		e := f.advance(t, models.StatusDelivered)

		res, err := f.svc.RaiseDispute(ctx, e.ID, buyer, "  "+reason+"  ")
		require.NoError(t, err)
		assert.Equal(t, models.StatusDisputed, res.Escrow.Status)
		require.NotNil(t, res.Dispute)
		assert.Equal(t, models.DisputeStatusOpen, res.Dispute.Status)
		assert.Equal(t, reason, res.Dispute.Reason)
		assert.Equal(t, buyerID, res.Dispute.OpenedBy)
		assert.Nil(t, res.Transaction)

		logs := f.logs(t, e.ID)
		last := logs[len(logs)-1]
		require.NotNil(t, last.Reason)
		assert.Equal(t, reason, *last.Reason)

		d, err := f.repo.GetDisputeByEscrowID(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, res.Dispute.ID, d.ID)
	})

	failures := []struct {
		name   string
		status models.EscrowStatus
		actor  Actor
		reason string
		want   error
	}{
		{"buyer from funded", models.StatusFunded, buyer, reason, apperrors.ErrInvalidTransition},
		{"buyer from shipping", models.StatusShipping, buyer, reason, apperrors.ErrInvalidTransition},
		{"seller from delivered", models.StatusDelivered, seller, reason, apperrors.ErrForbidden},
		{"seller claiming buyer", models.StatusDelivered, Actor{UserID: sellerID, Role: models.RoleBuyer}, reason, apperrors.ErrForbidden},
		{"short reason", models.StatusDelivered, buyer, "broken", apperrors.ErrValidationFailed},
		{"overlong reason", models.StatusDelivered, buyer, strings.Repeat("x", dispute.ReasonMaxLength+1), apperrors.ErrValidationFailed},
		{"second dispute", models.StatusDisputed, buyer, reason, apperrors.ErrInvalidTransition},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			e := f.advance(t, tt.status)
			logsBefore := len(f.logs(t, e.ID))
			_, existing := f.repo.GetDisputeByEscrowID(ctx, e.ID)

			_, err := f.svc.RaiseDispute(ctx, e.ID, tt.actor, tt.reason)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.status, f.status(t, e.ID))
			assert.Len(t, f.logs(t, e.ID), logsBefore)

			_, after := f.repo.GetDisputeByEscrowID(ctx, e.ID)
			assert.Equal(t, existing == nil, after == nil)
			if tt.status != models.StatusDisputed {
				assert.ErrorIs(t, after, repositories.ErrDisputeNotFound)
			}
		})
	}
}

func TestService_AutoReleaseDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.advance(t, models.StatusDelivered)

	// 47h after delivery: nothing happens
	_, err := f.svc.AutoRelease(ctx, e.ID, t0.Add(47*time.Hour))
	assert.ErrorIs(t, err, apperrors.ErrDeadlineNotPassed)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	assert.Equal(t, models.StatusDelivered, f.status(t, e.ID))

	// exactly at the deadline is not strictly past it
	_, err = f.svc.AutoRelease(ctx, e.ID, t0.Add(48*time.Hour))
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	f.clock.Set(t0.Add(49 * time.Hour))
	res, err := f.svc.AutoRelease(ctx, e.ID, t0.Add(49*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.StatusReleased, res.Escrow.Status)

	logs := f.logs(t, e.ID)
	last := logs[len(logs)-1]
	assert.Equal(t, models.StatusDelivered, last.FromStatus)
	assert.Equal(t, models.StatusReleased, last.ToStatus)
	assert.Nil(t, last.ChangedBy)
	require.NotNil(t, last.Reason)
	assert.Equal(t, ReasonAutoRelease, *last.Reason)

	txns := f.txns(t, e.ID)
	release := txns[len(txns)-1]
	assert.Equal(t, models.TransactionTypeRelease, release.Type)
	assert.Nil(t, release.ExecutedBy)

	// running it again changes nothing
	_, err = f.svc.AutoRelease(ctx, e.ID, t0.Add(50*time.Hour))
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	assert.Len(t, f.logs(t, e.ID), len(logs))
	assert.Len(t, f.txns(t, e.ID), len(txns))
}

func TestService_AutoReleaseSkipsDisputed(t *testing.T) {
	f := newFixture(t)
	e := f.advance(t, models.StatusDisputed)

	_, err := f.svc.AutoRelease(context.Background(), e.ID, t0.Add(72*time.Hour))
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	assert.Equal(t, models.StatusDisputed, f.status(t, e.ID))
}

func TestService_ReleaseRacesAutoRelease(t *testing.T) {
	for i := 0; i < 5; i++ {
		f := newFixture(t)
		ctx := context.Background()
		e := f.advance(t, models.StatusDelivered)
		after := t0.Add(49 * time.Hour)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, errs[0] = f.svc.Release(ctx, e.ID, buyer)
		}()
		go func() {
			defer wg.Done()
			<-start
			_, errs[1] = f.svc.AutoRelease(ctx, e.ID, after)
		}()
		close(start)
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
		}
		assert.Equal(t, 1, succeeded)
		assert.Equal(t, models.StatusReleased, f.status(t, e.ID))

		releaseLogs := 0
		for _, l := range f.logs(t, e.ID) {
			if l.ToStatus == models.StatusReleased {
				releaseLogs++
			}
		}
		assert.Equal(t, 1, releaseLogs)

		releases := 0
		for _, txn := range f.txns(t, e.ID) {
			if txn.Type == models.TransactionTypeRelease {
				releases++
			}
		}
		assert.Equal(t, 1, releases)
	}
}

func TestService_DisputeRacesAutoRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.advance(t, models.StatusDelivered)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = f.svc.RaiseDispute(ctx, e.ID, buyer, "the seller shipped the wrong model")
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = f.svc.AutoRelease(ctx, e.ID, t0.Add(49*time.Hour))
	}()
	wg.Wait()

	if errs[0] == nil {
		assert.ErrorIs(t, errs[1], apperrors.ErrInvalidTransition)
		assert.Equal(t, models.StatusDisputed, f.status(t, e.ID))
	} else {
		assert.ErrorIs(t, errs[0], apperrors.ErrInvalidTransition)
		assert.NoError(t, errs[1])
		assert.Equal(t, models.StatusReleased, f.status(t, e.ID))
	}
	assert.Len(t, f.logs(t, e.ID), 4)
}

func TestService_ResolveDispute(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		outcome dispute.Outcome
		status  models.EscrowStatus
		txnType models.TransactionType
	}{
		{dispute.OutcomeRefund, models.StatusRefunded, models.TransactionTypeRefund},
		{dispute.OutcomeRelease, models.StatusReleased, models.TransactionTypeRelease},
	}
	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			f := newFixture(t)
			e := f.advance(t, models.StatusDisputed)

			res, err := f.svc.ResolveDispute(ctx, e.ID, arbiter, tt.outcome)
			require.NoError(t, err)
			assert.Equal(t, tt.status, res.Escrow.Status)
			assert.Equal(t, tt.status, f.status(t, e.ID))

			d, err := f.repo.GetDisputeByEscrowID(ctx, e.ID)
			require.NoError(t, err)
			assert.Equal(t, models.DisputeStatusResolved, d.Status)
			require.NotNil(t, d.Resolution)
			assert.Equal(t, tt.outcome.Resolution(), *d.Resolution)
			require.NotNil(t, d.ResolvedBy)
			assert.Equal(t, arbiterID, *d.ResolvedBy)
			require.NotNil(t, d.ResolvedAt)

			txns := f.txns(t, e.ID)
			last := txns[len(txns)-1]
			assert.Equal(t, tt.txnType, last.Type)
			require.NotNil(t, last.ExecutedBy)
			assert.Equal(t, arbiterID, *last.ExecutedBy)

			logs := f.logs(t, e.ID)
			require.NotNil(t, logs[len(logs)-1].Reason)
			assert.Equal(t, "Dispute resolved by arbiter: "+string(tt.outcome), *logs[len(logs)-1].Reason)

			// a second resolution is rejected and changes nothing
			_, err = f.svc.ResolveDispute(ctx, e.ID, arbiter, dispute.OutcomeRelease)
			assert.ErrorIs(t, err, apperrors.ErrAlreadyResolved)
			assert.Equal(t, tt.status, f.status(t, e.ID))
			assert.Len(t, f.txns(t, e.ID), len(txns))
		})
	}
}

func TestService_ResolveDisputeRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("buyer cannot resolve", func(t *testing.T) {
		f := newFixture(t)
		e := f.advance(t, models.StatusDisputed)
		_, err := f.svc.ResolveDispute(ctx, e.ID, buyer, dispute.OutcomeRefund)
		assert.ErrorIs(t, err, apperrors.ErrNotArbiter)
		assert.Equal(t, models.StatusDisputed, f.status(t, e.ID))
	})

	t.Run("unsupported outcome", func(t *testing.T) {
		f := newFixture(t)
		e := f.advance(t, models.StatusDisputed)
		_, err := f.svc.ResolveDispute(ctx, e.ID, arbiter, dispute.Outcome("split"))
		assert.ErrorIs(t, err, apperrors.ErrValidationFailed)
		assert.Equal(t, models.StatusDisputed, f.status(t, e.ID))
	})

	t.Run("not disputed", func(t *testing.T) {
		f := newFixture(t)
		e := f.advance(t, models.StatusDelivered)
		_, err := f.svc.ResolveDispute(ctx, e.ID, arbiter, dispute.OutcomeRefund)
		assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	})

	t.Run("verifier rejects", func(t *testing.T) {
		f := newFixture(t, WithArbiterVerifier(staticVerifier{}))
		e := f.advance(t, models.StatusDisputed)
		_, err := f.svc.ResolveDispute(ctx, e.ID, arbiter, dispute.OutcomeRefund)
		assert.ErrorIs(t, err, apperrors.ErrNotArbiter)
	})

	t.Run("verifier accepts", func(t *testing.T) {
		f := newFixture(t, WithArbiterVerifier(staticVerifier{arbiterID: true}))
		e := f.advance(t, models.StatusDisputed)
		_, err := f.svc.ResolveDispute(ctx, e.ID, arbiter, dispute.OutcomeRefund)
		assert.NoError(t, err)
	})
}

type staticVerifier map[uint]bool

func (v staticVerifier) IsArbiter(_ context.Context, userID uint) (bool, error) {
	return v[userID], nil
}

var errStorage = errors.New("storage unavailable")

// faultyRepo fails the named write on transaction-bound repositories.
type faultyRepo struct {
	repositories.EscrowRepository
	failOn string
}

func (r *faultyRepo) ExecuteInTransaction(ctx context.Context, fn func(repositories.EscrowRepository) error) error {
	return r.EscrowRepository.ExecuteInTransaction(ctx, func(tx repositories.EscrowRepository) error {
		return fn(&faultyRepo{EscrowRepository: tx, failOn: r.failOn})
	})
}

func (r *faultyRepo) AppendTransaction(ctx context.Context, txn *models.EscrowTransaction) error {
	if r.failOn == "AppendTransaction" {
		return errStorage
	}
	return r.EscrowRepository.AppendTransaction(ctx, txn)
}

func (r *faultyRepo) AppendStatusLog(ctx context.Context, entry *models.StatusLog) error {
	if r.failOn == "AppendStatusLog" {
		return errStorage
	}
	return r.EscrowRepository.AppendStatusLog(ctx, entry)
}

func TestService_ResolveDisputeStorageFailureRollsBack(t *testing.T) {
	ctx := context.Background()

	for _, failOn := range []string{"AppendStatusLog", "AppendTransaction"} {
		t.Run(failOn, func(t *testing.T) {
			repo := repositories.NewEscrowRepository(repotest.NewSQLite(t))
			setup := newFixtureWithRepo(t, repo, repo, nil, nil)
			e := setup.advance(t, models.StatusDisputed)
			logsBefore := len(setup.logs(t, e.ID))
			txnsBefore := len(setup.txns(t, e.ID))

			f := newFixtureWithRepo(t, repo, &faultyRepo{EscrowRepository: repo, failOn: failOn}, nil, nil)
			_, err := f.svc.ResolveDispute(ctx, e.ID, arbiter, dispute.OutcomeRefund)
			require.ErrorIs(t, err, errStorage)
			_, domain := apperrors.KindOf(err)
			assert.False(t, domain)

			assert.Equal(t, models.StatusDisputed, f.status(t, e.ID))
			d, err := repo.GetDisputeByEscrowID(ctx, e.ID)
			require.NoError(t, err)
			assert.Equal(t, models.DisputeStatusOpen, d.Status)
			assert.Nil(t, d.Resolution)
			assert.Nil(t, d.ResolvedBy)
			assert.Len(t, f.logs(t, e.ID), logsBefore)
			assert.Len(t, f.txns(t, e.ID), txnsBefore)

			// the untouched dispute can still be resolved afterwards
			_, err = setup.svc.ResolveDispute(ctx, e.ID, arbiter, dispute.OutcomeRefund)
			require.NoError(t, err)
			assert.Equal(t, models.StatusRefunded, setup.status(t, e.ID))
		})
	}
}

func TestService_SubmitEvidence(t *testing.T) {
	ctx := context.Background()
	valid := EvidenceInput{ArtifactRef: "disputes/receipt.pdf", ContentType: "application/pdf", SizeBytes: 4096, Description: "shipping receipt"}

	t.Run("buyer on open dispute", func(t *testing.T) {
		f := newFixture(t)
		e := f.advance(t, models.StatusDisputed)

		res, err := f.svc.SubmitEvidence(ctx, e.ID, buyer, valid)
		require.NoError(t, err)
		require.NotNil(t, res.Evidence)
		assert.Equal(t, "application/pdf", res.Evidence.ContentType)
		assert.Equal(t, buyerID, res.Evidence.UploadedBy)

		evidence, err := f.repo.GetEvidence(ctx, res.Dispute.ID)
		require.NoError(t, err)
		assert.Len(t, evidence, 1)
	})

	t.Run("seller cannot upload", func(t *testing.T) {
		f := newFixture(t)
		e := f.advance(t, models.StatusDisputed)
		_, err := f.svc.SubmitEvidence(ctx, e.ID, seller, valid)
		assert.ErrorIs(t, err, apperrors.ErrForbidden)
	})

	t.Run("invalid file", func(t *testing.T) {
		f := newFixture(t)
		e := f.advance(t, models.StatusDisputed)
		in := valid
		in.ContentType = "image/gif"
		_, err := f.svc.SubmitEvidence(ctx, e.ID, buyer, in)
		assert.ErrorIs(t, err, apperrors.ErrValidationFailed)
	})

	t.Run("no dispute", func(t *testing.T) {
		f := newFixture(t)
		e := f.advance(t, models.StatusDelivered)
		_, err := f.svc.SubmitEvidence(ctx, e.ID, buyer, valid)
		assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	})

	t.Run("after resolution", func(t *testing.T) {
		f := newFixture(t)
		e := f.advance(t, models.StatusDisputed)
		res, err := f.svc.ResolveDispute(ctx, e.ID, arbiter, dispute.OutcomeRelease)
		require.NoError(t, err)

		_, err = f.svc.SubmitEvidence(ctx, e.ID, buyer, valid)
		assert.ErrorIs(t, err, apperrors.ErrAlreadyResolved)

		evidence, err := f.repo.GetEvidence(ctx, res.Dispute.ID)
		require.NoError(t, err)
		assert.Empty(t, evidence)
	})

	t.Run("resolved dispute on a still disputed escrow", func(t *testing.T) {
		f := newFixture(t)
		e := f.advance(t, models.StatusDisputed)

		// resolve the dispute row only, as if the escrow update had not landed
		d, err := f.repo.GetDisputeByEscrowID(ctx, e.ID)
		require.NoError(t, err)
		require.NoError(t, dispute.Resolve(d, arbiterID, dispute.OutcomeRefund, t0))
		require.NoError(t, f.repo.ResolveDispute(ctx, d))

		_, err = f.svc.SubmitEvidence(ctx, e.ID, buyer, valid)
		assert.ErrorIs(t, err, apperrors.ErrAlreadyResolved)
	})
}

func TestService_GetDetail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.advance(t, models.StatusDelivered)

	detail, err := f.svc.GetDetail(ctx, e.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, e.ID, detail.Escrow.ID)
	assert.Len(t, detail.Participants, 2)
	assert.Nil(t, detail.Dispute)
	assert.Len(t, detail.History.StatusLogs, 3)
	assert.Len(t, detail.History.Transactions, 1)
	assert.Equal(t, []models.EscrowStatus{models.StatusReleased, models.StatusDisputed}, detail.NextStatuses)

	detail, err = f.svc.GetDetail(ctx, e.ID, seller)
	require.NoError(t, err)
	assert.Empty(t, detail.NextStatuses)

	detail, err = f.svc.GetDetail(ctx, e.ID, arbiter)
	require.NoError(t, err)
	assert.Empty(t, detail.NextStatuses)

	_, err = f.svc.GetDetail(ctx, e.ID, Actor{UserID: otherID, Role: models.RoleBuyer})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = f.svc.GetDetail(ctx, e.ID+100, buyer)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	history, err := f.svc.History(ctx, e.ID, seller)
	require.NoError(t, err)
	assert.Len(t, history.StatusLogs, 3)
}

func TestService_List(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.create(t)
	second := f.create(t)

	escrows, err := f.svc.List(ctx, seller, 0, 0)
	require.NoError(t, err)
	require.Len(t, escrows, 2)
	assert.Equal(t, second.ID, escrows[0].ID)
	assert.Equal(t, first.ID, escrows[1].ID)

	escrows, err = f.svc.List(ctx, Actor{UserID: otherID}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, escrows)
}

func newRedisCache(t *testing.T) (*miniredis.Miniredis, *cache.CacheService) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, cache.NewCacheService(client, time.Minute)
}

func TestService_DetailCacheInvalidatedOnTransition(t *testing.T) {
	ctx := context.Background()
	mr, detailCache := newRedisCache(t)

	repo := repositories.NewEscrowRepository(repotest.NewSQLite(t))
	f := newFixtureWithRepo(t, repo, repo, detailCache, nil)
	e := f.create(t)

	detail, err := f.svc.GetDetail(ctx, e.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, detail.Escrow.Status)
	assert.True(t, mr.Exists(detailKey(e.ID, 0)))

	_, err = f.svc.Fund(ctx, e.ID, buyer)
	require.NoError(t, err)
	assert.False(t, mr.Exists(detailKey(e.ID, 0)))
	gen, err := mr.Get(detailGenKey(e.ID))
	require.NoError(t, err)
	assert.Equal(t, "1", gen)

	detail, err = f.svc.GetDetail(ctx, e.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFunded, detail.Escrow.Status)
	assert.Len(t, detail.History.StatusLogs, 1)
	assert.True(t, mr.Exists(detailKey(e.ID, 1)))
}

// interleavedCache runs a command between a reader's snapshot and its
// cache fill.
type interleavedCache struct {
	*cache.CacheService
	once   sync.Once
	before func()
}

func (c *interleavedCache) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.once.Do(c.before)
	return c.CacheService.SetWithTTL(ctx, key, value, ttl)
}

func TestService_DetailCacheIgnoresFillRacingTransition(t *testing.T) {
	ctx := context.Background()
	_, detailCache := newRedisCache(t)
	ic := &interleavedCache{CacheService: detailCache}

	repo := repositories.NewEscrowRepository(repotest.NewSQLite(t))
	f := newFixtureWithRepo(t, repo, repo, ic, nil)
	e := f.create(t)

	var fundErr error
	ic.before = func() { _, fundErr = f.svc.Fund(ctx, e.ID, buyer) }

	detail, err := f.svc.GetDetail(ctx, e.ID, buyer)
	require.NoError(t, err)
	require.NoError(t, fundErr)
	assert.Equal(t, models.StatusCreated, detail.Escrow.Status)

	detail, err = f.svc.GetDetail(ctx, e.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFunded, detail.Escrow.Status)
	assert.Len(t, detail.History.StatusLogs, 1)
}

type MockMetrics struct {
	mock.Mock
}

func (m *MockMetrics) RecordOperationDuration(op string, d time.Duration) {
	m.Called(op, d)
}

func (m *MockMetrics) RecordOperationResult(op, result string) {
	m.Called(op, result)
}

func (m *MockMetrics) RecordTransition(from, to models.EscrowStatus, role models.Role) {
	m.Called(from, to, role)
}

func (m *MockMetrics) RecordTransaction(txType models.TransactionType, amount int64) {
	m.Called(txType, amount)
}

func (m *MockMetrics) RecordCacheHit(key string) {
	m.Called(key)
}

func (m *MockMetrics) RecordCacheMiss(key string) {
	m.Called(key)
}

func (m *MockMetrics) RecordError(op, errType string) {
	m.Called(op, errType)
}

func TestService_Metrics(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewEscrowRepository(repotest.NewSQLite(t))
	setup := newFixtureWithRepo(t, repo, repo, nil, nil)
	e := setup.advance(t, models.StatusDelivered)

	metrics := new(MockMetrics)
	metrics.On("RecordOperationDuration", mock.Anything, mock.Anything).Return()
	metrics.On("RecordOperationResult", OpAutoRelease, "rejected").Return().Once()
	metrics.On("RecordError", OpAutoRelease, string(apperrors.KindInvalidTransition)).Return().Once()
	metrics.On("RecordOperationResult", OpAutoRelease, "success").Return().Once()
	metrics.On("RecordTransition", models.StatusDelivered, models.StatusReleased, models.RoleSystem).Return().Once()
	metrics.On("RecordTransaction", models.TransactionTypeRelease, int64(150000)).Return().Once()

	f := newFixtureWithRepo(t, repo, repo, nil, metrics)
	_, err := f.svc.AutoRelease(ctx, e.ID, t0.Add(time.Hour))
	require.Error(t, err)
	_, err = f.svc.AutoRelease(ctx, e.ID, t0.Add(49*time.Hour))
	require.NoError(t, err)

	metrics.AssertExpectations(t)
}

func TestService_ResolveDisputeBadOutcomeMetrics(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewEscrowRepository(repotest.NewSQLite(t))
	setup := newFixtureWithRepo(t, repo, repo, nil, nil)
	e := setup.advance(t, models.StatusDisputed)

	metrics := new(MockMetrics)
	metrics.On("RecordOperationDuration", OpResolveDispute, mock.Anything).Return().Once()
	metrics.On("RecordOperationResult", OpResolveDispute, "rejected").Return().Once()
	metrics.On("RecordError", OpResolveDispute, string(apperrors.KindValidationFailed)).Return().Once()

	f := newFixtureWithRepo(t, repo, repo, nil, metrics)
	_, err := f.svc.ResolveDispute(ctx, e.ID, arbiter, dispute.Outcome("split"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidOutcome))

	metrics.AssertExpectations(t)
	assert.Equal(t, models.StatusDisputed, f.status(t, e.ID))
}
