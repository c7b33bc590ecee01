package checkout

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"

	pkgstripe "github.com/amaldonado/streamlane-backend/pkg/stripe"
)

const (
	defaultProviderTimeout = 15 * time.Second
	retryBaseDelay         = 200 * time.Millisecond
	retryMaxAttempts       = 2
)

// StripeCheckoutClient exposes the checkout session operations used by the service.
type StripeCheckoutClient interface {
	CreateSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeCheckoutWrapper struct {
	timeout time.Duration
}

// NewStripeCheckoutClient wraps the configured Stripe client for checkout sessions.
func NewStripeCheckoutClient(api *pkgstripe.Client, timeout time.Duration) StripeCheckoutClient {
	if api == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	return &stripeCheckoutWrapper{timeout: timeout}
}

func (w *stripeCheckoutWrapper) CreateSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if params == nil {
		params = &stripe.CheckoutSessionParams{}
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	var result *stripe.CheckoutSession
	backoff := retry.WithMaxRetries(retryMaxAttempts, retry.NewExponential(retryBaseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		params.Context = ctx
		out, err := session.New(params)
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
	return true
}
