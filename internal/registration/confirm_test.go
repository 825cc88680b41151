package registration

import (
	"context"
	"testing"

	"github.com/gdg-garage/confreg/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func markPaid(t *testing.T, f *fixture, id string) *models.Registration {
	t.Helper()
	reg, err := f.store.Apply(context.Background(), id, Transition{
		From: models.PaymentPending, To: models.PaymentPaid, Source: SourceWebhook, ConfirmationPending: true,
	})
	require.NoError(t, err)
	return reg
}

func TestDispatchOnce(t *testing.T) {
	f := newFixture(t, testConference(5))
	ctx := context.Background()
	reg := markPaid(t, f, createPending(t, f).ID)

	sent, err := f.confirmer.Dispatch(ctx, reg)
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = f.confirmer.Dispatch(ctx, reg)
	require.NoError(t, err)
	assert.False(t, sent)

	assert.Equal(t, []string{reg.ID}, f.notifier.confirmed())

	stored, err := f.store.Get(ctx, reg.ID)
	require.NoError(t, err)
	assert.False(t, stored.ConfirmationPending)
}

func TestDispatchSkipsUnpaid(t *testing.T) {
	f := newFixture(t, testConference(5))
	reg := createPending(t, f)

	sent, err := f.confirmer.Dispatch(context.Background(), reg)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Empty(t, f.notifier.confirmed())
}

func TestDispatchFailureCanBeRetried(t *testing.T) {
	f := newFixture(t, testConference(5))
	ctx := context.Background()
	reg := markPaid(t, f, createPending(t, f).ID)

	f.notifier.failConfirm = true
	sent, err := f.confirmer.Dispatch(ctx, reg)
	assert.Error(t, err)
	assert.False(t, sent)

	pending, err := f.store.ListConfirmationPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	f.notifier.failConfirm = false
	sent, err = f.confirmer.Dispatch(ctx, &pending[0])
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, []string{reg.ID}, f.notifier.confirmed())
}
