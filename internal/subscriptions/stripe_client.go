package subscriptions

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/subscription"
	"github.com/stripe/stripe-go/v84/subscriptionschedule"

	pkgstripe "github.com/amaldonado/streamlane-backend/pkg/stripe"
)

const (
	defaultProviderTimeout = 15 * time.Second
	retryBaseDelay         = 200 * time.Millisecond
	retryMaxAttempts       = 2
)

// StripeSubscriptionClient exposes the subset of Stripe operations required by
// the billing services.
type StripeSubscriptionClient interface {
	Get(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	Update(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	Cancel(ctx context.Context, id string, params *stripe.SubscriptionCancelParams) (*stripe.Subscription, error)
	CreateScheduleFromSubscription(ctx context.Context, subscriptionID string) (*stripe.SubscriptionSchedule, error)
	UpdateSchedule(ctx context.Context, id string, params *stripe.SubscriptionScheduleParams) (*stripe.SubscriptionSchedule, error)
	ReleaseSchedule(ctx context.Context, id string) (*stripe.SubscriptionSchedule, error)
}

type stripeClientWrapper struct {
	timeout time.Duration
}

// NewStripeClient wraps the provided Stripe client so the billing services can be tested.
// Every call is bounded by the configured timeout and retried on transient failures.
func NewStripeClient(api *pkgstripe.Client, timeout time.Duration) StripeSubscriptionClient {
	if api == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	return &stripeClientWrapper{timeout: timeout}
}

func (w *stripeClientWrapper) Get(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	if params == nil {
		params = &stripe.SubscriptionParams{}
	}
	return callStripe(ctx, w.timeout, func(ctx context.Context) (*stripe.Subscription, error) {
		params.Context = ctx
		return subscription.Get(id, params)
	})
}

func (w *stripeClientWrapper) Update(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	if params == nil {
		params = &stripe.SubscriptionParams{}
	}
	return callStripe(ctx, w.timeout, func(ctx context.Context) (*stripe.Subscription, error) {
		params.Context = ctx
		return subscription.Update(id, params)
	})
}

func (w *stripeClientWrapper) Cancel(ctx context.Context, id string, params *stripe.SubscriptionCancelParams) (*stripe.Subscription, error) {
	if params == nil {
		params = &stripe.SubscriptionCancelParams{}
	}
	return callStripe(ctx, w.timeout, func(ctx context.Context) (*stripe.Subscription, error) {
		params.Context = ctx
		return subscription.Cancel(id, params)
	})
}

func (w *stripeClientWrapper) CreateScheduleFromSubscription(ctx context.Context, subscriptionID string) (*stripe.SubscriptionSchedule, error) {
	params := &stripe.SubscriptionScheduleParams{
		FromSubscription: stripe.String(subscriptionID),
	}
	return callStripe(ctx, w.timeout, func(ctx context.Context) (*stripe.SubscriptionSchedule, error) {
		params.Context = ctx
		return subscriptionschedule.New(params)
	})
}

func (w *stripeClientWrapper) UpdateSchedule(ctx context.Context, id string, params *stripe.SubscriptionScheduleParams) (*stripe.SubscriptionSchedule, error) {
	if params == nil {
		params = &stripe.SubscriptionScheduleParams{}
	}
	return callStripe(ctx, w.timeout, func(ctx context.Context) (*stripe.SubscriptionSchedule, error) {
		params.Context = ctx
		return subscriptionschedule.Update(id, params)
	})
}

func (w *stripeClientWrapper) ReleaseSchedule(ctx context.Context, id string) (*stripe.SubscriptionSchedule, error) {
	params := &stripe.SubscriptionScheduleReleaseParams{}
	return callStripe(ctx, w.timeout, func(ctx context.Context) (*stripe.SubscriptionSchedule, error) {
		params.Context = ctx
		return subscriptionschedule.Release(id, params)
	})
}

func callStripe[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (*T, error)) (*T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var result *T
	backoff := retry.WithMaxRetries(retryMaxAttempts, retry.NewExponential(retryBaseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		out, err := fn(ctx)
		if err != nil {
			if isRetryableStripeErr(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		result = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func isRetryableStripeErr(err error) bool {
	if err == nil {
		return false
	}
	if stripeErr, ok := err.(*stripe.Error); ok {
		switch stripeErr.HTTPStatusCode {
		case 409, 429, 500, 502, 503, 504:
			return true
		default:
			return false
		}
	}
	// Non-API errors (network, timeouts before a response) are worth one more try.
	return true
}
