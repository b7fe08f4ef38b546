//go:build integration

package escrow

import (
	"context"
	"sync"
	"testing"
	"time"

	apperrors "escrow/internal/errors"
	"escrow/internal/models"
	"escrow/internal/repositories"
	"escrow/internal/repositories/repotest"
	"escrow/internal/services/dispute"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests run the engine against postgres, where concurrent commands
// really do overlap and only the row lock keeps them apart.

func newPostgresFixture(t *testing.T) *fixture {
	t.Helper()
	repo := repositories.NewEscrowRepository(repotest.NewPostgres(t))
	return newFixtureWithRepo(t, repo, repo, nil, nil)
}

func TestPostgres_ReleaseRacesAutoRelease(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()
	after := t0.Add(49 * time.Hour)

	for i := 0; i < 20; i++ {
		e := f.advance(t, models.StatusDelivered)

		var wg sync.WaitGroup
		start := make(chan struct{})
		errs := make([]error, 4)
		for j := range errs {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				<-start
				if j%2 == 0 {
					_, errs[j] = f.svc.Release(ctx, e.ID, buyer)
				} else {
					_, errs[j] = f.svc.AutoRelease(ctx, e.ID, after)
				}
			}(j)
		}
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

		releases := 0
		for _, txn := range f.txns(t, e.ID) {
			if txn.Type == models.TransactionTypeRelease {
				releases++
			}
		}
		assert.Equal(t, 1, releases)
		assert.Len(t, f.logs(t, e.ID), 4)
	}
}

func TestPostgres_ConcurrentResolutions(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()
	e := f.advance(t, models.StatusDisputed)

	outcomes := []dispute.Outcome{dispute.OutcomeRelease, dispute.OutcomeRefund, dispute.OutcomeRelease, dispute.OutcomeRefund}
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, len(outcomes))
	for i, outcome := range outcomes {
		wg.Add(1)
		go func(i int, outcome dispute.Outcome) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.ResolveDispute(ctx, e.ID, arbiter, outcome)
		}(i, outcome)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, apperrors.ErrAlreadyResolved)
	}
	require.Equal(t, 1, succeeded)
	assert.True(t, f.status(t, e.ID).Terminal())
	assert.Len(t, f.txns(t, e.ID), 2)
}

func TestPostgres_SweepBoundary(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()
	e := f.advance(t, models.StatusDelivered)
	deadline := t0.Add(48 * time.Hour)

	ids, err := f.svc.DueForAutoRelease(ctx, deadline, 0, 100)
	require.NoError(t, err)
	assert.NotContains(t, ids, e.ID)

	ids, err = f.svc.DueForAutoRelease(ctx, deadline.Add(time.Microsecond), 0, 100)
	require.NoError(t, err)
	assert.Contains(t, ids, e.ID)
}
