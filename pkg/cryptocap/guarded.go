package cryptocap

import (
	"context"

	"github.com/juergengeck/esp32/pkg/helper/log"
	"github.com/juergengeck/esp32/pkg/identity"
	"github.com/juergengeck/esp32/pkg/resilience"
)

// guardedProvider wraps a Provider with the retry and circuit breaker
// primitives of pkg/resilience: Sign/Verify/GenerateKeypair/Random are the
// calls that, on a real device, cross into a hardware security element or
// TPM that can legitimately misbehave transiently or fail outright. Hash
// stays unguarded — it is a pure local computation with nothing to retry.
type guardedProvider struct {
	inner   Provider
	retry   *resilience.RetryPolicy
	breaker *resilience.CircuitBreaker
	logger  log.Logger
}

// NewGuardedProvider wraps inner with a retry policy for transient failures
// and a circuit breaker that trips after a sustained failure run, so a
// wedged crypto chip degrades into fast CryptoUnavailable errors instead of
// hanging every caller behind the rate limiter.
func NewGuardedProvider(inner Provider, logger log.Logger) Provider {
	return &guardedProvider{
		inner:   inner,
		retry:   resilience.DefaultRetryPolicy(),
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerSettings("cryptocap"), logger),
		logger:  logger,
	}
}

func (g *guardedProvider) Hash(data []byte) identity.Hash32 {
	return g.inner.Hash(data)
}

func (g *guardedProvider) Sign(ctx context.Context, keyID identity.KeyID, payload []byte) ([]byte, error) {
	var sig []byte
	err := g.breaker.Execute(func() error {
		return g.retry.Retry(ctx, g.logger, func() error {
			s, err := g.inner.Sign(ctx, keyID, payload)
			if err != nil {
				return err
			}
			sig = s
			return nil
		})
	})
	return sig, err
}

func (g *guardedProvider) Verify(ctx context.Context, keyID identity.KeyID, payload, sig []byte) (bool, error) {
	var ok bool
	err := g.breaker.Execute(func() error {
		return g.retry.Retry(ctx, g.logger, func() error {
			v, err := g.inner.Verify(ctx, keyID, payload, sig)
			if err != nil {
				return err
			}
			ok = v
			return nil
		})
	})
	return ok, err
}

func (g *guardedProvider) GenerateKeypair(ctx context.Context) (identity.KeyID, error) {
	var keyID identity.KeyID
	err := g.breaker.Execute(func() error {
		return g.retry.Retry(ctx, g.logger, func() error {
			k, err := g.inner.GenerateKeypair(ctx)
			if err != nil {
				return err
			}
			keyID = k
			return nil
		})
	})
	return keyID, err
}

func (g *guardedProvider) Random(n int) ([]byte, error) {
	var buf []byte
	err := g.breaker.Execute(func() error {
		return g.retry.Retry(context.Background(), g.logger, func() error {
			b, err := g.inner.Random(n)
			if err != nil {
				return err
			}
			buf = b
			return nil
		})
	})
	return buf, err
}
