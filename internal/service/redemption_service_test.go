package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onsei/voicegate/internal/repository"
	"onsei/voicegate/pkg/twilio"
)

type dialedCall struct {
	To          string
	CallbackURL string
}

type fakeDialer struct {
	mu    sync.Mutex
	calls []dialedCall
	err   error
}

func (f *fakeDialer) Dial(_ context.Context, to, callbackURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, dialedCall{To: to, CallbackURL: callbackURL})
	return "CAtest", nil
}

func (f *fakeDialer) dialed() []dialedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dialedCall(nil), f.calls...)
}

func newTestService(t *testing.T, dialer OutboundDialer) (RedemptionService, repository.CodeRepository) {
	t.Helper()
	repo := repository.NewMemoryCodeRepository()
	svc := NewRedemptionService(repo, repository.NewMemoryCallStateStore(), dialer, time.Hour)
	return svc, repo
}

func seedCode(t *testing.T, repo repository.CodeRepository, code, audioURL string, maxUses, usage int) {
	t.Helper()
	_, err := repo.Upsert(context.Background(), code, audioURL, maxUses, usage)
	require.NoError(t, err)
}

func TestVerifyAndDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("dispatches for a valid code", func(t *testing.T) {
		dialer := &fakeDialer{}
		svc, repo := newTestService(t, dialer)
		seedCode(t, repo, "1234", "hayase.wav", 3, 0)

		err := svc.VerifyAndDispatch(ctx, "1234", "+818012345678", "https://example.test/voice/fulfill/1234")
		require.NoError(t, err)

		calls := dialer.dialed()
		require.Len(t, calls, 1)
		assert.Equal(t, "+818012345678", calls[0].To)
		assert.Equal(t, "https://example.test/voice/fulfill/1234", calls[0].CallbackURL)

		// Verification never consumes.
		sc, err := repo.GetByCode(ctx, "1234")
		require.NoError(t, err)
		assert.Equal(t, 0, sc.UsageCount)
	})

	t.Run("unknown code rejects before dispatch", func(t *testing.T) {
		dialer := &fakeDialer{}
		svc, _ := newTestService(t, dialer)

		err := svc.VerifyAndDispatch(ctx, "9999", "+818012345678", "https://example.test/voice/fulfill/9999")
		assert.ErrorIs(t, err, ErrCodeNotFound)
		assert.Empty(t, dialer.dialed())
	})

	t.Run("exhausted code rejects before dispatch", func(t *testing.T) {
		dialer := &fakeDialer{}
		svc, repo := newTestService(t, dialer)
		seedCode(t, repo, "1234", "hayase.wav", 3, 3)

		err := svc.VerifyAndDispatch(ctx, "1234", "+818012345678", "https://example.test/voice/fulfill/1234")
		assert.ErrorIs(t, err, ErrQuotaExhausted)
		assert.Empty(t, dialer.dialed())
	})

	t.Run("dispatch failure consumes nothing", func(t *testing.T) {
		dialer := &fakeDialer{err: errors.New("transport broke")}
		svc, repo := newTestService(t, dialer)
		seedCode(t, repo, "1234", "hayase.wav", 3, 0)

		err := svc.VerifyAndDispatch(ctx, "1234", "+818012345678", "https://example.test/voice/fulfill/1234")
		assert.ErrorIs(t, err, ErrDispatchFailed)

		sc, err := repo.GetByCode(ctx, "1234")
		require.NoError(t, err)
		assert.Equal(t, 0, sc.UsageCount)
	})

	t.Run("missing credentials map to misconfigured", func(t *testing.T) {
		dialer := &fakeDialer{err: twilio.ErrMissingCredentials}
		svc, repo := newTestService(t, dialer)
		seedCode(t, repo, "1234", "hayase.wav", 3, 0)

		err := svc.VerifyAndDispatch(ctx, "1234", "+818012345678", "https://example.test/voice/fulfill/1234")
		assert.ErrorIs(t, err, ErrProviderMisconfigured)
	})
}

func TestBeginFulfillment(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the code row", func(t *testing.T) {
		svc, repo := newTestService(t, &fakeDialer{})
		seedCode(t, repo, "1234", "hayase.wav", 3, 0)

		sc, err := svc.BeginFulfillment(ctx, "1234")
		require.NoError(t, err)
		assert.Equal(t, "hayase.wav", sc.AudioURL)
	})

	t.Run("unknown code", func(t *testing.T) {
		svc, _ := newTestService(t, &fakeDialer{})
		_, err := svc.BeginFulfillment(ctx, "9999")
		assert.ErrorIs(t, err, ErrCodeNotFound)
	})

	t.Run("empty audio reference", func(t *testing.T) {
		svc, repo := newTestService(t, &fakeDialer{})
		seedCode(t, repo, "1234", "", 3, 0)

		_, err := svc.BeginFulfillment(ctx, "1234")
		assert.ErrorIs(t, err, ErrResourceResolutionFailed)
	})
}

func TestConsume(t *testing.T) {
	ctx := context.Background()

	t.Run("full redemption consumes exactly one use", func(t *testing.T) {
		dialer := &fakeDialer{}
		svc, repo := newTestService(t, dialer)
		seedCode(t, repo, "1234", "hayase.wav", 3, 0)

		require.NoError(t, svc.VerifyAndDispatch(ctx, "1234", "+818012345678", "https://example.test/voice/fulfill/1234"))
		_, err := svc.BeginFulfillment(ctx, "1234")
		require.NoError(t, err)

		count, err := svc.Consume(ctx, "1234", "CA001")
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		sc, err := repo.GetByCode(ctx, "1234")
		require.NoError(t, err)
		assert.Equal(t, 1, sc.UsageCount)
	})

	t.Run("replayed webhook does not double consume", func(t *testing.T) {
		svc, repo := newTestService(t, &fakeDialer{})
		seedCode(t, repo, "1234", "hayase.wav", 3, 0)

		count, err := svc.Consume(ctx, "1234", "CA001")
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		count, err = svc.Consume(ctx, "1234", "CA001")
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		sc, err := repo.GetByCode(ctx, "1234")
		require.NoError(t, err)
		assert.Equal(t, 1, sc.UsageCount)
	})

	t.Run("distinct call legs consume independently", func(t *testing.T) {
		svc, repo := newTestService(t, &fakeDialer{})
		seedCode(t, repo, "1234", "hayase.wav", 3, 0)

		_, err := svc.Consume(ctx, "1234", "CA001")
		require.NoError(t, err)
		_, err = svc.Consume(ctx, "1234", "CA002")
		require.NoError(t, err)

		sc, err := repo.GetByCode(ctx, "1234")
		require.NoError(t, err)
		assert.Equal(t, 2, sc.UsageCount)
	})

	t.Run("exhausted at consume time surfaces the race", func(t *testing.T) {
		svc, repo := newTestService(t, &fakeDialer{})
		seedCode(t, repo, "1234", "hayase.wav", 1, 1)

		_, err := svc.Consume(ctx, "1234", "CA001")
		assert.ErrorIs(t, err, ErrQuotaExhausted)

		sc, err := repo.GetByCode(ctx, "1234")
		require.NoError(t, err)
		assert.Equal(t, 1, sc.UsageCount)
	})

	t.Run("unknown code at consume time", func(t *testing.T) {
		svc, _ := newTestService(t, &fakeDialer{})
		_, err := svc.Consume(ctx, "9999", "CA001")
		assert.ErrorIs(t, err, ErrCodeNotFound)
	})
}

// Redials are fresh state machine instances; the conditional update in the
// store is what bounds concurrent fulfillments.
func TestConsume_ConcurrentRedemptions(t *testing.T) {
	ctx := context.Background()
	const maxUses = 3
	const attempts = 10

	svc, repo := newTestService(t, &fakeDialer{})
	seedCode(t, repo, "1234", "hayase.wav", maxUses, 0)

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		sid := string(rune('A' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Consume(ctx, "1234", "CA"+sid)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	consumed, exhausted := 0, 0
	for err := range results {
		switch {
		case err == nil:
			consumed++
		case errors.Is(err, ErrQuotaExhausted):
			exhausted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, maxUses, consumed)
	assert.Equal(t, attempts-maxUses, exhausted)

	sc, err := repo.GetByCode(ctx, "1234")
	require.NoError(t, err)
	assert.Equal(t, maxUses, sc.UsageCount)
}
