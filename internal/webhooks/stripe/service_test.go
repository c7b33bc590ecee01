package stripewebhook

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/amaldonado/streamlane-backend/internal/billing"
	"github.com/amaldonado/streamlane-backend/internal/subscriptions"
	"github.com/amaldonado/streamlane-backend/pkg/db/models"
	"github.com/amaldonado/streamlane-backend/pkg/debuglog"
	"github.com/amaldonado/streamlane-backend/pkg/enums"
	"github.com/amaldonado/streamlane-backend/pkg/logger"
)

type stubBillingRepo struct {
	billing.Repository
	existing *models.Subscription
	plans    map[string]*models.Plan
	freePlan *models.Plan
	created  []*models.Subscription
	updated  []*models.Subscription
}

func (s *stubBillingRepo) WithTx(tx *gorm.DB) billing.Repository { return s }

func (s *stubBillingRepo) CreateSubscription(ctx context.Context, subscription *models.Subscription) error {
	s.created = append(s.created, subscription)
	return nil
}

func (s *stubBillingRepo) UpdateSubscription(ctx context.Context, subscription *models.Subscription) error {
	s.updated = append(s.updated, subscription)
	return nil
}

func (s *stubBillingRepo) FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	if s.existing != nil && s.existing.StripeSubscriptionID == stripeSubscriptionID {
		return s.existing, nil
	}
	return nil, nil
}

func (s *stubBillingRepo) FindPlanByStripePriceID(ctx context.Context, stripePriceID string) (*models.Plan, error) {
	return s.plans[stripePriceID], nil
}

func (s *stubBillingRepo) FindFreePlan(ctx context.Context) (*models.Plan, error) {
	return s.freePlan, nil
}

type stubTxRunner struct{}

func (s *stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubStripeClient struct {
	subscriptions.StripeSubscriptionClient
	getResp *stripe.Subscription
	getErr  error
	gets    []string
}

func (s *stubStripeClient) Get(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	s.gets = append(s.gets, id)
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.getResp, nil
}

func newTestWebhookService(t *testing.T, repo *stubBillingRepo, client *stubStripeClient) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		BillingRepo:       repo,
		StripeClient:      client,
		TransactionRunner: &stubTxRunner{},
		Logger:            logger.New(logger.Options{ServiceName: "test"}),
		DebugLog:          debuglog.NewBuffer(16),
	})
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}
	return svc
}

func subscriptionEvent(t *testing.T, eventType stripe.EventType, sub *stripe.Subscription) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(sub)
	if err != nil {
		t.Fatalf("marshal subscription: %v", err)
	}
	return &stripe.Event{
		ID:   "evt_" + uuid.NewString(),
		Type: eventType,
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestHandleSubscriptionCreatedEventCreatesRow(t *testing.T) {
	userID := uuid.New()
	repo := &stubBillingRepo{
		plans: map[string]*models.Plan{"price_pro": {ID: "pro-monthly", StripePriceID: "price_pro"}},
	}
	svc := newTestWebhookService(t, repo, &stubStripeClient{})

	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionCreated, &stripe.Subscription{
		ID:       "sub_new",
		Status:   stripe.SubscriptionStatusActive,
		Metadata: map[string]string{"user_id": userID.String()},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{
				CurrentPeriodStart: 1700000000,
				CurrentPeriodEnd:   1702592000,
				Price:              &stripe.Price{ID: "price_pro"},
			}},
		},
	})

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected subscription created, got %d", len(repo.created))
	}
	created := repo.created[0]
	if created.UserID != userID || created.PlanID != "pro-monthly" {
		t.Fatalf("unexpected row %+v", created)
	}
	if !created.IsActive {
		t.Fatal("expected active row")
	}
}

func TestHandleSubscriptionUpdatedResetsUsageOnNewPeriod(t *testing.T) {
	oldStart := time.Unix(1700000000, 0)
	existing := &models.Subscription{
		ID:                    uuid.New(),
		UserID:                uuid.New(),
		StripeSubscriptionID:  "sub_renewed",
		PlanID:                "pro-monthly",
		Status:                enums.SubscriptionStatusActive,
		IsActive:              true,
		CurrentPeriodStart:    &oldStart,
		TotalSecondsProcessed: 4200,
	}
	repo := &stubBillingRepo{
		existing: existing,
		plans:    map[string]*models.Plan{"price_pro": {ID: "pro-monthly", StripePriceID: "price_pro"}},
	}
	svc := newTestWebhookService(t, repo, &stubStripeClient{})

	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionUpdated, &stripe.Subscription{
		ID:     "sub_renewed",
		Status: stripe.SubscriptionStatusActive,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{
				CurrentPeriodStart: 1702592000,
				CurrentPeriodEnd:   1705184000,
				Price:              &stripe.Price{ID: "price_pro"},
			}},
		},
	})

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(repo.updated) != 1 {
		t.Fatalf("expected one update, got %d", len(repo.updated))
	}
	if got := repo.updated[0].TotalSecondsProcessed; got != 0 {
		t.Fatalf("usage must reset on period advance, got %d", got)
	}
}

func TestHandleSubscriptionUpdatedKeepsUsageWithinPeriod(t *testing.T) {
	start := time.Unix(1700000000, 0)
	existing := &models.Subscription{
		ID:                    uuid.New(),
		UserID:                uuid.New(),
		StripeSubscriptionID:  "sub_same",
		PlanID:                "pro-monthly",
		Status:                enums.SubscriptionStatusActive,
		IsActive:              true,
		CurrentPeriodStart:    &start,
		TotalSecondsProcessed: 4200,
	}
	repo := &stubBillingRepo{
		existing: existing,
		plans:    map[string]*models.Plan{"price_pro": {ID: "pro-monthly", StripePriceID: "price_pro"}},
	}
	svc := newTestWebhookService(t, repo, &stubStripeClient{})

	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionUpdated, &stripe.Subscription{
		ID:     "sub_same",
		Status: stripe.SubscriptionStatusActive,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{
				CurrentPeriodStart: 1700000000,
				CurrentPeriodEnd:   1702592000,
				Price:              &stripe.Price{ID: "price_pro"},
			}},
		},
	})

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if got := repo.updated[0].TotalSecondsProcessed; got != 4200 {
		t.Fatalf("usage must survive within the same period, got %d", got)
	}
}

func TestHandleSubscriptionUpdatedLandsPendingDowngrade(t *testing.T) {
	start := time.Unix(1700000000, 0)
	metadata, err := subscriptions.SetPendingPlanID(nil, "basic-monthly")
	if err != nil {
		t.Fatalf("set pending plan: %v", err)
	}
	existing := &models.Subscription{
		ID:                   uuid.New(),
		UserID:               uuid.New(),
		StripeSubscriptionID: "sub_downgrade",
		PlanID:               "pro-monthly",
		Status:               enums.SubscriptionStatusActive,
		IsActive:             true,
		CurrentPeriodStart:   &start,
		Metadata:             metadata,
	}
	repo := &stubBillingRepo{
		existing: existing,
		plans:    map[string]*models.Plan{"price_basic": {ID: "basic-monthly", StripePriceID: "price_basic"}},
	}
	svc := newTestWebhookService(t, repo, &stubStripeClient{})

	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionUpdated, &stripe.Subscription{
		ID:     "sub_downgrade",
		Status: stripe.SubscriptionStatusActive,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{
				CurrentPeriodStart: 1702592000,
				CurrentPeriodEnd:   1705184000,
				Price:              &stripe.Price{ID: "price_basic"},
			}},
		},
	})

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	updated := repo.updated[0]
	if updated.PlanID != "basic-monthly" {
		t.Fatalf("expected downgrade to land on basic-monthly, got %s", updated.PlanID)
	}
	if pending := subscriptions.PendingPlanID(updated.Metadata); pending != "" {
		t.Fatalf("pending marker must clear once landed, got %q", pending)
	}
}

func TestHandleSubscriptionUpdatedKeepsPendingDowngrade(t *testing.T) {
	start := time.Unix(1700000000, 0)
	metadata, err := subscriptions.SetPendingPlanID(nil, "basic-monthly")
	if err != nil {
		t.Fatalf("set pending plan: %v", err)
	}
	existing := &models.Subscription{
		ID:                   uuid.New(),
		UserID:               uuid.New(),
		StripeSubscriptionID: "sub_waiting",
		PlanID:               "pro-monthly",
		Status:               enums.SubscriptionStatusActive,
		IsActive:             true,
		CurrentPeriodStart:   &start,
		Metadata:             metadata,
	}
	repo := &stubBillingRepo{
		existing: existing,
		plans: map[string]*models.Plan{
			"price_pro":   {ID: "pro-monthly", StripePriceID: "price_pro"},
			"price_basic": {ID: "basic-monthly", StripePriceID: "price_basic"},
		},
	}
	svc := newTestWebhookService(t, repo, &stubStripeClient{})

	// mid-period event, still on the current price
	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionUpdated, &stripe.Subscription{
		ID:     "sub_waiting",
		Status: stripe.SubscriptionStatusActive,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{
				CurrentPeriodStart: 1700000000,
				CurrentPeriodEnd:   1702592000,
				Price:              &stripe.Price{ID: "price_pro"},
			}},
		},
	})

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	updated := repo.updated[0]
	if updated.PlanID != "pro-monthly" {
		t.Fatalf("plan must not move before the boundary, got %s", updated.PlanID)
	}
	if pending := subscriptions.PendingPlanID(updated.Metadata); pending != "basic-monthly" {
		t.Fatalf("pending marker must survive a mid-period sync, got %q", pending)
	}
}

func TestHandleSubscriptionDeletedMovesToFreeTier(t *testing.T) {
	start := time.Unix(1700000000, 0)
	existing := &models.Subscription{
		ID:                    uuid.New(),
		UserID:                uuid.New(),
		StripeSubscriptionID:  "sub_gone",
		PlanID:                "pro-monthly",
		Status:                enums.SubscriptionStatusActive,
		IsActive:              true,
		CancelAtPeriodEnd:     true,
		CurrentPeriodStart:    &start,
		TotalSecondsProcessed: 999,
	}
	repo := &stubBillingRepo{
		existing: existing,
		freePlan: &models.Plan{ID: "free", Name: models.FreePlanName},
	}
	svc := newTestWebhookService(t, repo, &stubStripeClient{})

	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionDeleted, &stripe.Subscription{
		ID:     "sub_gone",
		Status: stripe.SubscriptionStatusCanceled,
	})

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	updated := repo.updated[0]
	if updated.PlanID != "free" {
		t.Fatalf("expected free tier landing, got %s", updated.PlanID)
	}
	if !strings.HasPrefix(updated.StripeSubscriptionID, models.FreeSubscriptionPrefix) {
		t.Fatalf("expected synthetic id, got %s", updated.StripeSubscriptionID)
	}
	if !updated.IsActive || updated.CancelAtPeriodEnd {
		t.Fatalf("placeholder must be active without a cancel flag: %+v", updated)
	}
	if updated.TotalSecondsProcessed != 0 {
		t.Fatalf("usage must reset on the free landing, got %d", updated.TotalSecondsProcessed)
	}
}

func TestHandleInvoiceEventFetchesSubscription(t *testing.T) {
	start := time.Unix(1700000000, 0)
	existing := &models.Subscription{
		ID:                   uuid.New(),
		UserID:               uuid.New(),
		StripeSubscriptionID: "sub_invoice",
		PlanID:               "pro-monthly",
		Status:               enums.SubscriptionStatusActive,
		IsActive:             true,
		CurrentPeriodStart:   &start,
	}
	repo := &stubBillingRepo{
		existing: existing,
		plans:    map[string]*models.Plan{"price_pro": {ID: "pro-monthly", StripePriceID: "price_pro"}},
	}
	client := &stubStripeClient{
		getResp: &stripe.Subscription{
			ID:     "sub_invoice",
			Status: stripe.SubscriptionStatusPastDue,
			Items: &stripe.SubscriptionItemList{
				Data: []*stripe.SubscriptionItem{{
					CurrentPeriodStart: 1700000000,
					CurrentPeriodEnd:   1702592000,
					Price:              &stripe.Price{ID: "price_pro"},
				}},
			},
		},
	}
	svc := newTestWebhookService(t, repo, client)

	event := &stripe.Event{
		ID:   "evt_invoice",
		Type: stripe.EventTypeInvoicePaymentFailed,
		Data: &stripe.EventData{
			Object: map[string]interface{}{"subscription": "sub_invoice"},
		},
	}
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(client.gets) != 1 || client.gets[0] != "sub_invoice" {
		t.Fatalf("expected one provider fetch, got %v", client.gets)
	}
	if repo.updated[0].Status != enums.SubscriptionStatusPastDue {
		t.Fatalf("expected past_due status, got %s", repo.updated[0].Status)
	}
}

func TestHandleUnknownEventIgnored(t *testing.T) {
	repo := &stubBillingRepo{}
	svc := newTestWebhookService(t, repo, &stubStripeClient{})

	event := &stripe.Event{
		ID:   "evt_other",
		Type: stripe.EventType("charge.succeeded"),
		Data: &stripe.EventData{},
	}
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unknown events must be acknowledged, got %v", err)
	}
	if len(repo.created)+len(repo.updated) != 0 {
		t.Fatal("unknown events must not touch storage")
	}
}

func TestIdempotencyGuardDedupes(t *testing.T) {
	store := &stubIdempotencyStore{values: map[string]string{}}
	guard, err := NewIdempotencyGuard(store, time.Hour, "stripe_webhook")
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}

	seen, err := guard.CheckAndMark(context.Background(), "evt_1")
	if err != nil || seen {
		t.Fatalf("first delivery must pass, seen=%t err=%v", seen, err)
	}
	seen, err = guard.CheckAndMark(context.Background(), "evt_1")
	if err != nil || !seen {
		t.Fatalf("replay must be flagged, seen=%t err=%v", seen, err)
	}

	if err := guard.Delete(context.Background(), "evt_1"); err != nil {
		t.Fatalf("delete marker: %v", err)
	}
	seen, err = guard.CheckAndMark(context.Background(), "evt_1")
	if err != nil || seen {
		t.Fatalf("deleted marker must allow retry, seen=%t err=%v", seen, err)
	}
}

type stubIdempotencyStore struct {
	values map[string]string
}

func (s *stubIdempotencyStore) Get(ctx context.Context, key string) (string, error) {
	return s.values[key], nil
}

func (s *stubIdempotencyStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = "1"
	return true, nil
}

func (s *stubIdempotencyStore) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(s.values, key)
	}
	return nil
}

func (s *stubIdempotencyStore) IdempotencyKey(scope, id string) string {
	return "sl:idem:" + scope + ":" + id
}
