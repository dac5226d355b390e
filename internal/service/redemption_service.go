package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"onsei/voicegate/internal/model"
	"onsei/voicegate/internal/repository"
	"onsei/voicegate/pkg/twilio"
)

// OutboundDialer places the fulfillment callback call. The code being
// redeemed is correlated through callbackURL, so no state survives in this
// process between the verification call and the fulfillment call.
type OutboundDialer interface {
	Dial(ctx context.Context, to, callbackURL string) (string, error)
}

// RedemptionService drives one redemption attempt: verify the dialed code,
// dispatch the callback, then consume quota when the callback connects.
// Each method corresponds to one provider webhook; a caller redialing
// simply starts over, and TryConsume's atomicity is what keeps concurrent
// attempts from over-consuming.
type RedemptionService interface {
	// VerifyAndDispatch validates the dialed digits against the store (a
	// non-authoritative quota pre-check for fast caller feedback) and asks
	// the provider to place the fulfillment call. No quota is consumed
	// here; on any error the caller's quota is untouched.
	VerifyAndDispatch(ctx context.Context, digits, caller, fulfillmentURL string) error

	// BeginFulfillment re-reads the code when the fulfillment call
	// connects. The row may have changed since verification.
	BeginFulfillment(ctx context.Context, code string) (*model.SerialCode, error)

	// Consume durably records one use. This is the only place usage_count
	// is incremented, and it happens at most once per provider call leg: a
	// replayed webhook carrying an already-seen callSID returns (0, nil)
	// without touching the store.
	Consume(ctx context.Context, code, callSID string) (int, error)
}

type redemptionService struct {
	codes    repository.CodeRepository
	calls    repository.CallStateStore
	dialer   OutboundDialer
	dedupTTL time.Duration
}

func NewRedemptionService(
	codes repository.CodeRepository,
	calls repository.CallStateStore,
	dialer OutboundDialer,
	dedupTTL time.Duration,
) RedemptionService {
	if dedupTTL <= 0 {
		dedupTTL = 24 * time.Hour
	}
	return &redemptionService{
		codes:    codes,
		calls:    calls,
		dialer:   dialer,
		dedupTTL: dedupTTL,
	}
}

func (s *redemptionService) VerifyAndDispatch(ctx context.Context, digits, caller, fulfillmentURL string) error {
	sc, err := s.codes.GetByCode(ctx, digits)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrCodeNotFound
		}
		return fmt.Errorf("lookup code: %w", err)
	}
	if sc.Exhausted() {
		return ErrQuotaExhausted
	}

	if _, err := s.dialer.Dial(ctx, caller, fulfillmentURL); err != nil {
		if errors.Is(err, twilio.ErrMissingCredentials) {
			return ErrProviderMisconfigured
		}
		return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	return nil
}

func (s *redemptionService) BeginFulfillment(ctx context.Context, code string) (*model.SerialCode, error) {
	sc, err := s.codes.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("lookup code: %w", err)
	}
	if sc.AudioURL == "" {
		return nil, ErrResourceResolutionFailed
	}
	return sc, nil
}

func (s *redemptionService) Consume(ctx context.Context, code, callSID string) (int, error) {
	// Providers retry webhooks; the same call leg must not consume twice.
	// An empty callSID (manual invocation) skips dedup.
	if callSID != "" {
		first, err := s.calls.MarkConsumed(ctx, callSID, s.dedupTTL)
		if err != nil {
			return 0, fmt.Errorf("mark call consumed: %w", err)
		}
		if !first {
			return 0, nil
		}
	}

	count, err := s.codes.TryConsume(ctx, code)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return count, ErrCodeNotFound
	case errors.Is(err, repository.ErrExhausted):
		return count, ErrQuotaExhausted
	case err != nil:
		return count, fmt.Errorf("consume code: %w", err)
	}
	return count, nil
}
