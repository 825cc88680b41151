package registration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gdg-garage/confreg/internal/capacity"
	"github.com/gdg-garage/confreg/internal/conference"
	"github.com/gdg-garage/confreg/internal/database"
	"github.com/gdg-garage/confreg/internal/gateway"
	"github.com/gdg-garage/confreg/internal/models"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const confID = "annual"

var (
	earlyBirdDeadline = time.Date(2027, 3, 1, 23, 59, 59, 0, time.UTC)
	beforeDeadline    = time.Date(2027, 2, 1, 12, 0, 0, 0, time.UTC)
	afterDeadline     = time.Date(2027, 4, 1, 12, 0, 0, 0, time.UTC)
)

type fakeGateway struct {
	mu    sync.Mutex
	calls []gateway.LinkRequest
	err   error
}

func (g *fakeGateway) CreatePaymentLink(_ context.Context, req gateway.LinkRequest) (*gateway.PaymentLink, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if g.err != nil {
		return nil, g.err
	}
	return &gateway.PaymentLink{
		URL:            "https://pay.example/" + req.RegistrationID,
		ExternalLinkID: "PL-" + req.RegistrationID,
		OrderID:        "ORD-" + req.RegistrationID,
	}, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type recordingNotifier struct {
	mu            sync.Mutex
	confirmations []string
	alerts        []string
	failConfirm   bool
}

func (n *recordingNotifier) NotifyConfirmation(reg models.Registration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failConfirm {
		return errors.New("discord unavailable")
	}
	n.confirmations = append(n.confirmations, reg.ID)
	return nil
}

func (n *recordingNotifier) NotifyNeedsAttention(reg models.Registration, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, reg.ID)
	return nil
}

func (n *recordingNotifier) confirmed() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.confirmations...)
}

type fixture struct {
	store     *Store
	service   *Service
	confirmer *Confirmer
	gateway   *fakeGateway
	notifier  *recordingNotifier
	now       time.Time
}

func testConference(capacity int) conference.Conference {
	return conference.Conference{
		ID:       confID,
		Name:     "Annual Meeting",
		Capacity: capacity,
		Currency: "USD",
		Fees: conference.FeeSchedule{
			Member:    7500,
			NonMember: 10000,
			Student:   2500,
			Speaker:   0,
			EarlyBird: &conference.EarlyBird{Amount: 6000, Deadline: earlyBirdDeadline},
		},
		SpeakerCodes: []string{"KEYNOTE"},
	}
}

func newFixture(t *testing.T, conf conference.Conference) *fixture {
	t.Helper()
	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}

	catalog, err := conference.NewCatalog(conf)
	require.NoError(t, err)

	ledger := capacity.NewLedger(db)
	require.NoError(t, ledger.Sync(context.Background(), conf.ID, conf.Capacity))

	f := &fixture{
		store:    NewStore(db, ledger),
		gateway:  &fakeGateway{},
		notifier: &recordingNotifier{},
		now:      beforeDeadline,
	}
	f.confirmer = NewConfirmer(f.store, f.notifier, zap.NewNop())
	f.service = NewService(f.store, catalog, f.gateway, f.confirmer, zap.NewNop(),
		WithClock(func() time.Time { return f.now }))
	return f
}

func participant(membership models.MembershipStatus) models.Participant {
	return models.Participant{
		Name:        "Ada Lovelace",
		Email:       "Ada@Example.org",
		Institution: "Analytical Society",
		Membership:  membership,
	}
}

func (f *fixture) reserved(t *testing.T) int {
	t.Helper()
	snap, err := f.store.Ledger().Snapshot(context.Background(), confID)
	require.NoError(t, err)
	return snap.Reserved
}
