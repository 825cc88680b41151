package registration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gdg-garage/confreg/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createPending(t *testing.T, f *fixture) *models.Registration {
	t.Helper()
	reg := &models.Registration{
		ID:               uuid.NewString(),
		ConferenceID:     confID,
		Participant:      participant(models.MembershipMember),
		RegistrationType: models.TypeRegular,
		FeeAmount:        7500,
		Currency:         "USD",
	}
	_, err := f.store.CreatePending(context.Background(), reg)
	require.NoError(t, err)
	return reg
}

func TestApplyPaid(t *testing.T) {
	f := newFixture(t, testConference(5))
	ctx := context.Background()
	reg := createPending(t, f)

	updated, err := f.store.Apply(ctx, reg.ID, Transition{
		From:                  models.PaymentPending,
		To:                    models.PaymentPaid,
		Source:                SourceWebhook,
		ExternalTransactionID: "PAY1",
		ReceiptURL:            "https://receipt.example/PAY1",
		ConfirmationPending:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, updated.PaymentStatus)
	assert.Equal(t, "PAY1", updated.PaymentReference.ExternalTransactionID)
	assert.Equal(t, "https://receipt.example/PAY1", updated.PaymentReference.ReceiptURL)
	assert.True(t, updated.ConfirmationPending)
	assert.Equal(t, 1, f.reserved(t))

	history, err := f.store.History(ctx, reg.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.PaymentPending, history[0].ToStatus)
	assert.Equal(t, models.PaymentPending, history[1].FromStatus)
	assert.Equal(t, models.PaymentPaid, history[1].ToStatus)
	assert.Equal(t, SourceWebhook, history[1].Source)
}

func TestApplyFailedReleasesSeat(t *testing.T) {
	f := newFixture(t, testConference(1))
	ctx := context.Background()
	reg := createPending(t, f)
	assert.Equal(t, 1, f.reserved(t))

	_, err := f.store.Apply(ctx, reg.ID, Transition{
		From: models.PaymentPending, To: models.PaymentFailed, Source: SourceWebhook, Reason: "FAILED",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, f.reserved(t))

	// the freed seat can be taken again
	createPending(t, f)
	assert.Equal(t, 1, f.reserved(t))
}

func TestApplyTerminalStatesAreFinal(t *testing.T) {
	f := newFixture(t, testConference(5))
	ctx := context.Background()
	reg := createPending(t, f)

	_, err := f.store.Apply(ctx, reg.ID, Transition{From: models.PaymentPending, To: models.PaymentPaid})
	require.NoError(t, err)

	_, err = f.store.Apply(ctx, reg.ID, Transition{From: models.PaymentPending, To: models.PaymentFailed})
	assert.ErrorIs(t, err, ErrStaleTransition)

	_, err = f.store.Apply(ctx, reg.ID, Transition{From: models.PaymentPaid, To: models.PaymentFailed})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	stored, err := f.store.Get(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, stored.PaymentStatus)
	assert.Equal(t, 1, f.reserved(t))
}

func TestApplyUnknownRegistration(t *testing.T) {
	f := newFixture(t, testConference(5))
	_, err := f.store.Apply(context.Background(), uuid.NewString(), Transition{
		From: models.PaymentPending, To: models.PaymentPaid,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyConcurrentOnlyOneWins(t *testing.T) {
	f := newFixture(t, testConference(5))
	reg := createPending(t, f)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		stales int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			to := models.PaymentPaid
			if i%2 == 0 {
				to = models.PaymentFailed
			}
			_, err := f.store.Apply(context.Background(), reg.ID, Transition{From: models.PaymentPending, To: to})
			mu.Lock()
			defer mu.Unlock()
			switch err {
			case nil:
				wins++
			case ErrStaleTransition:
				stales++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 9, stales)

	history, err := f.store.History(context.Background(), reg.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestListStalePending(t *testing.T) {
	f := newFixture(t, testConference(5))
	ctx := context.Background()

	old := &models.Registration{
		ID:               uuid.NewString(),
		ConferenceID:     confID,
		Participant:      participant(models.MembershipMember),
		RegistrationType: models.TypeRegular,
		FeeAmount:        7500,
		Currency:         "USD",
		CreatedAt:        time.Now().UTC().Add(-48 * time.Hour),
	}
	_, err := f.store.CreatePending(ctx, old)
	require.NoError(t, err)
	createPending(t, f)

	stale, err := f.store.ListStalePending(ctx, time.Now().UTC().Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}

func TestClaimSideEffectOnce(t *testing.T) {
	f := newFixture(t, testConference(5))
	ctx := context.Background()

	ok, err := f.store.ClaimSideEffect(ctx, "confirmation:abc", "abc", "confirmation")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.store.ClaimSideEffect(ctx, "confirmation:abc", "abc", "confirmation")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.store.ReleaseSideEffect(ctx, "confirmation:abc"))

	ok, err = f.store.ClaimSideEffect(ctx, "confirmation:abc", "abc", "confirmation")
	require.NoError(t, err)
	assert.True(t, ok)
}
