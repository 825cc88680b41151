package features

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/gdg-garage/confreg/internal/capacity"
	"github.com/gdg-garage/confreg/internal/conference"
	"github.com/gdg-garage/confreg/internal/database"
	"github.com/gdg-garage/confreg/internal/gateway"
	"github.com/gdg-garage/confreg/internal/models"
	"github.com/gdg-garage/confreg/internal/reconcile"
	"github.com/gdg-garage/confreg/internal/registration"
	"go.uber.org/zap"
)

type stubGateway struct{}

func (stubGateway) CreatePaymentLink(_ context.Context, req gateway.LinkRequest) (*gateway.PaymentLink, error) {
	return &gateway.PaymentLink{URL: "https://pay.example/" + req.RegistrationID, ExternalLinkID: "PL-" + req.RegistrationID}, nil
}

type countingNotifier struct {
	mu   sync.Mutex
	sent map[string]int
}

func (n *countingNotifier) NotifyConfirmation(reg models.Registration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent[reg.ID]++
	return nil
}

func (n *countingNotifier) NotifyNeedsAttention(models.Registration, string) error {
	return nil
}

type lifecycleContext struct {
	conferenceID  string
	store         *registration.Store
	service       *registration.Service
	reconciler    *reconcile.Reconciler
	verifier      *reconcile.Verifier
	confirmer     *registration.Confirmer
	notifier      *countingNotifier
	now           time.Time
	registrations map[string]*models.Registration
	lastErr       error
	lastDelivery  []byte
	eventSeq      int
}

func (c *lifecycleContext) reset() {
	c.registrations = map[string]*models.Registration{}
	c.notifier = &countingNotifier{sent: map[string]int{}}
	c.lastErr = nil
	c.lastDelivery = nil
	c.eventSeq = 0
}

func (c *lifecycleContext) aConference(id string, seats int, member, nonMember, student, earlyBird int64, deadline string) error {
	until, err := time.Parse(time.RFC3339, deadline)
	if err != nil {
		return err
	}

	db, err := database.OpenMemory()
	if err != nil {
		return err
	}

	catalog, err := conference.NewCatalog(conference.Conference{
		ID:       id,
		Capacity: seats,
		Currency: "USD",
		Fees: conference.FeeSchedule{
			Member:    member,
			NonMember: nonMember,
			Student:   student,
			EarlyBird: &conference.EarlyBird{Amount: earlyBird, Deadline: until},
		},
	})
	if err != nil {
		return err
	}

	ledger := capacity.NewLedger(db)
	if err := ledger.Sync(context.Background(), id, seats); err != nil {
		return err
	}

	logger := zap.NewNop()
	c.conferenceID = id
	c.store = registration.NewStore(db, ledger)
	c.confirmer = registration.NewConfirmer(c.store, c.notifier, logger)
	c.service = registration.NewService(c.store, catalog, stubGateway{}, c.confirmer, logger,
		registration.WithClock(func() time.Time { return c.now }))

	c.verifier, err = reconcile.NewVerifier("feature-key", "https://confreg.example/webhooks/payments")
	if err != nil {
		return err
	}
	c.reconciler = reconcile.New(c.verifier, c.store, c.confirmer, reconcile.NewEventLog(db), logger)
	return nil
}

func (c *lifecycleContext) theTimeIs(value string) error {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return err
	}
	c.now = t
	return nil
}

func (c *lifecycleContext) registersAsA(name, membership string) error {
	res, err := c.service.Register(context.Background(), registration.Request{
		ConferenceID: c.conferenceID,
		Participant: models.Participant{
			Name:       name,
			Email:      fmt.Sprintf("%s@example.org", name),
			Membership: models.MembershipStatus(membership),
		},
		AgreedToTerms: true,
	})
	c.lastErr = err
	if err == nil {
		c.registrations[name] = res.Registration
	}
	return nil
}

func (c *lifecycleContext) registration(name string) (*models.Registration, error) {
	reg, ok := c.registrations[name]
	if !ok {
		return nil, fmt.Errorf("%s has not registered (last error: %v)", name, c.lastErr)
	}
	return c.store.Get(context.Background(), reg.ID)
}

func (c *lifecycleContext) isWithFeeAndStatus(name, regType string, amount int64, status string) error {
	reg, err := c.registration(name)
	if err != nil {
		return err
	}
	if string(reg.RegistrationType) != regType {
		return fmt.Errorf("expected type %s, got %s", regType, reg.RegistrationType)
	}
	if reg.FeeAmount != amount {
		return fmt.Errorf("expected fee %d, got %d", amount, reg.FeeAmount)
	}
	if string(reg.PaymentStatus) != status {
		return fmt.Errorf("expected status %s, got %s", status, reg.PaymentStatus)
	}
	return nil
}

func (c *lifecycleContext) seatsAreAvailable(expected int) error {
	available, err := c.store.Ledger().Available(context.Background(), c.conferenceID)
	if err != nil {
		return err
	}
	if available != expected {
		return fmt.Errorf("expected %d seats available, got %d", expected, available)
	}
	return nil
}

func (c *lifecycleContext) rejectedBecauseFull() error {
	if !errors.Is(c.lastErr, registration.ErrCapacityExceeded) {
		return fmt.Errorf("expected capacity exceeded, got %v", c.lastErr)
	}
	return nil
}

func (c *lifecycleContext) gatewayReportsPayment(status string, amount int64, name string) error {
	reg, ok := c.registrations[name]
	if !ok {
		return fmt.Errorf("%s has not registered", name)
	}

	c.eventSeq++
	event := reconcile.Event{
		Type:    reconcile.EventPaymentUpdated,
		EventID: fmt.Sprintf("evt-%d", c.eventSeq),
	}
	event.Data.Type = "payment"
	event.Data.Object.Payment = &reconcile.Payment{
		ID:          fmt.Sprintf("PAY-%d", c.eventSeq),
		Status:      status,
		AmountMoney: &reconcile.Money{Amount: amount, Currency: "USD"},
		Note:        gateway.PaymentNote(reg.ID),
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	c.lastDelivery = body
	return c.deliver(body)
}

func (c *lifecycleContext) deliver(body []byte) error {
	_, err := c.reconciler.Handle(context.Background(), reconcile.Delivery{
		Signature: c.verifier.Sign(body),
		Body:      body,
	})
	return err
}

func (c *lifecycleContext) theSameWebhookIsDeliveredAgain() error {
	if c.lastDelivery == nil {
		return errors.New("no webhook delivered yet")
	}
	return c.deliver(c.lastDelivery)
}

func (c *lifecycleContext) hasStatus(name, status string) error {
	reg, err := c.registration(name)
	if err != nil {
		return err
	}
	if string(reg.PaymentStatus) != status {
		return fmt.Errorf("expected status %s, got %s (%s)", status, reg.PaymentStatus, reg.StatusReason)
	}
	return nil
}

func (c *lifecycleContext) confirmationsSent(count int, name string) error {
	reg, ok := c.registrations[name]
	if !ok {
		return fmt.Errorf("%s has not registered", name)
	}
	c.notifier.mu.Lock()
	defer c.notifier.mu.Unlock()
	if got := c.notifier.sent[reg.ID]; got != count {
		return fmt.Errorf("expected %d confirmations, got %d", count, got)
	}
	return nil
}

func (c *lifecycleContext) hoursPassAndTheSweepRuns(hours int) error {
	later := c.now.Add(time.Duration(hours) * time.Hour)
	sweeper := reconcile.NewSweeper(c.store, c.confirmer, 24*time.Hour, zap.NewNop()).
		WithClock(func() time.Time { return later })
	c.now = later
	_, err := sweeper.Sweep(context.Background())
	return err
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &lifecycleContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	ctx.Step(`^a conference "([^"]*)" with capacity (\d+) and fees member (\d+), non member (\d+), student (\d+) and early bird (\d+) until "([^"]*)"$`, tc.aConference)
	ctx.Step(`^the time is "([^"]*)"$`, tc.theTimeIs)
	ctx.Step(`^"([^"]*)" registers as a "([^"]*)"$`, tc.registersAsA)
	ctx.Step(`^"([^"]*)" is "([^"]*)" with fee (\d+) and status "([^"]*)"$`, tc.isWithFeeAndStatus)
	ctx.Step(`^(\d+) seats are available$`, tc.seatsAreAvailable)
	ctx.Step(`^the registration is rejected because the conference is full$`, tc.rejectedBecauseFull)
	ctx.Step(`^the gateway reports payment "([^"]*)" of (\d+) for "([^"]*)"$`, tc.gatewayReportsPayment)
	ctx.Step(`^the same webhook is delivered again$`, tc.theSameWebhookIsDeliveredAgain)
	ctx.Step(`^"([^"]*)" has status "([^"]*)"$`, tc.hasStatus)
	ctx.Step(`^(\d+) confirmations? (?:has|have) been sent to "([^"]*)"$`, tc.confirmationsSent)
	ctx.Step(`^(\d+) hours pass and the sweep runs$`, tc.hoursPassAndTheSweepRuns)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"lifecycle.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
