package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"onsei/voicegate/internal/config"
	"onsei/voicegate/internal/repository"
	"onsei/voicegate/internal/service"
)

type fakeDialer struct {
	mu    sync.Mutex
	calls []string // callback URLs, in order
	err   error
}

func (f *fakeDialer) Dial(_ context.Context, to, callbackURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, callbackURL)
	return "CAtest", nil
}

func (f *fakeDialer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type voiceRig struct {
	router *gin.Engine
	repo   repository.CodeRepository
	dialer *fakeDialer
	cfg    *config.Config
}

func newVoiceRig(t *testing.T, mutate func(cfg *config.Config)) *voiceRig {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{}
	cfg.Server.Mode = "test"
	cfg.Voice = config.VoiceConfig{Language: "ja-JP", NumDigits: 4, GatherTimeout: 10}
	cfg.Audio.Dir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}

	repo := repository.NewMemoryCodeRepository()
	dialer := &fakeDialer{}
	redemption := service.NewRedemptionService(repo, repository.NewMemoryCallStateStore(), dialer, time.Hour)
	voiceHandler := NewVoiceHandler(redemption, cfg, zap.NewNop())
	adminHandler := NewAdminHandler(service.NewAdminService(repo), "serial_codes.json")

	return &voiceRig{
		router: SetupRouter(cfg, zap.NewNop(), voiceHandler, adminHandler),
		repo:   repo,
		dialer: dialer,
		cfg:    cfg,
	}
}

func (rig *voiceRig) seed(t *testing.T, code, audioURL string, maxUses, usage int) {
	t.Helper()
	_, err := rig.repo.Upsert(context.Background(), code, audioURL, maxUses, usage)
	require.NoError(t, err)
}

func (rig *voiceRig) usage(t *testing.T, code string) int {
	t.Helper()
	sc, err := rig.repo.GetByCode(context.Background(), code)
	require.NoError(t, err)
	return sc.UsageCount
}

func postForm(router *gin.Engine, path string, form url.Values, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Host = "example.test"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestInbound(t *testing.T) {
	rig := newVoiceRig(t, nil)

	w := postForm(rig.router, "/voice", url.Values{}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/xml")

	body := w.Body.String()
	assert.Contains(t, body, `numDigits="4"`)
	assert.Contains(t, body, `action="/voice/verify"`)
	assert.Contains(t, body, msgGatherPrompt)
	assert.Contains(t, body, msgNoInput)
}

func TestVerify(t *testing.T) {
	t.Run("valid code dispatches and hangs up", func(t *testing.T) {
		rig := newVoiceRig(t, nil)
		rig.seed(t, "1234", "hayase.wav", 3, 0)

		w := postForm(rig.router, "/voice/verify",
			url.Values{"Digits": {"1234"}, "From": {"+818012345678"}},
			map[string]string{"X-Forwarded-Proto": "https"},
		)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), msgDispatched)
		assert.Contains(t, w.Body.String(), "<Hangup>")

		require.Equal(t, 1, rig.dialer.callCount())
		assert.Equal(t, "https://example.test/voice/fulfill/1234", rig.dialer.calls[0])

		// Verification alone never consumes.
		assert.Equal(t, 0, rig.usage(t, "1234"))
	})

	t.Run("unknown code rejects without dispatch", func(t *testing.T) {
		rig := newVoiceRig(t, nil)

		w := postForm(rig.router, "/voice/verify",
			url.Values{"Digits": {"9999"}, "From": {"+818012345678"}}, nil)
		assert.Contains(t, w.Body.String(), msgCodeNotFound)
		assert.Equal(t, 0, rig.dialer.callCount())
	})

	t.Run("exhausted code rejects without dispatch", func(t *testing.T) {
		rig := newVoiceRig(t, nil)
		rig.seed(t, "1234", "hayase.wav", 3, 3)

		w := postForm(rig.router, "/voice/verify",
			url.Values{"Digits": {"1234"}, "From": {"+818012345678"}}, nil)
		assert.Contains(t, w.Body.String(), msgQuotaExhausted)
		assert.Equal(t, 0, rig.dialer.callCount())
		assert.Equal(t, 3, rig.usage(t, "1234"))
	})

	t.Run("dispatch failure consumes nothing", func(t *testing.T) {
		rig := newVoiceRig(t, nil)
		rig.seed(t, "1234", "hayase.wav", 3, 0)
		rig.dialer.err = errors.New("provider down")

		w := postForm(rig.router, "/voice/verify",
			url.Values{"Digits": {"1234"}, "From": {"+818012345678"}}, nil)
		assert.Contains(t, w.Body.String(), msgDispatchError)
		assert.Equal(t, 0, rig.usage(t, "1234"))
	})

	t.Run("empty digits re-prompt", func(t *testing.T) {
		rig := newVoiceRig(t, nil)

		w := postForm(rig.router, "/voice/verify", url.Values{"From": {"+818012345678"}}, nil)
		assert.Contains(t, w.Body.String(), msgNoInput)
		assert.Equal(t, 0, rig.dialer.callCount())
	})

	t.Run("public url overrides request host", func(t *testing.T) {
		rig := newVoiceRig(t, func(cfg *config.Config) {
			cfg.Server.PublicURL = "https://voice.example.com/"
		})
		rig.seed(t, "1234", "hayase.wav", 3, 0)

		postForm(rig.router, "/voice/verify",
			url.Values{"Digits": {"1234"}, "From": {"+818012345678"}}, nil)
		require.Equal(t, 1, rig.dialer.callCount())
		assert.Equal(t, "https://voice.example.com/voice/fulfill/1234", rig.dialer.calls[0])
	})
}

func TestFulfill(t *testing.T) {
	t.Run("local audio resolves against the forwarded scheme", func(t *testing.T) {
		rig := newVoiceRig(t, nil)
		rig.seed(t, "1234", "hayase.wav", 3, 0)

		w := postForm(rig.router, "/voice/fulfill/1234",
			url.Values{"CallSid": {"CA001"}},
			map[string]string{"X-Forwarded-Proto": "https"},
		)
		require.Equal(t, http.StatusOK, w.Code)

		body := w.Body.String()
		assert.Contains(t, body, "<Play>https://example.test/audio/hayase.wav</Play>")
		assert.Contains(t, body, msgClosing)
		assert.Equal(t, 1, rig.usage(t, "1234"))
	})

	t.Run("plain http without proxy stays http", func(t *testing.T) {
		rig := newVoiceRig(t, nil)
		rig.seed(t, "1234", "hayase.wav", 3, 0)

		w := postForm(rig.router, "/voice/fulfill/1234", url.Values{"CallSid": {"CA001"}}, nil)
		assert.Contains(t, w.Body.String(), "<Play>http://example.test/audio/hayase.wav</Play>")
	})

	t.Run("absolute audio url plays verbatim", func(t *testing.T) {
		rig := newVoiceRig(t, nil)
		rig.seed(t, "5678", "https://cdn.example.com/a.mp3", 1, 0)

		w := postForm(rig.router, "/voice/fulfill/5678", url.Values{"CallSid": {"CA002"}}, nil)
		assert.Contains(t, w.Body.String(), "<Play>https://cdn.example.com/a.mp3</Play>")
	})

	t.Run("unknown code speaks an error and mutates nothing", func(t *testing.T) {
		rig := newVoiceRig(t, nil)

		w := postForm(rig.router, "/voice/fulfill/9999", url.Values{"CallSid": {"CA003"}}, nil)
		assert.Contains(t, w.Body.String(), msgCodeMissing)
		assert.NotContains(t, w.Body.String(), "<Play>")
	})

	t.Run("replayed webhook consumes once", func(t *testing.T) {
		rig := newVoiceRig(t, nil)
		rig.seed(t, "1234", "hayase.wav", 3, 0)

		postForm(rig.router, "/voice/fulfill/1234", url.Values{"CallSid": {"CA004"}}, nil)
		postForm(rig.router, "/voice/fulfill/1234", url.Values{"CallSid": {"CA004"}}, nil)
		assert.Equal(t, 1, rig.usage(t, "1234"))
	})

	t.Run("race to the last use is logged, audio still plays", func(t *testing.T) {
		// Default play-then-count mode: the pre-check passed earlier, so a
		// consume that loses the race never interrupts the call.
		rig := newVoiceRig(t, nil)
		rig.seed(t, "1234", "hayase.wav", 1, 1)

		w := postForm(rig.router, "/voice/fulfill/1234", url.Values{"CallSid": {"CA005"}}, nil)
		assert.Contains(t, w.Body.String(), "<Play>")
		assert.Equal(t, 1, rig.usage(t, "1234"))
	})

	t.Run("consume before play withholds audio when exhausted", func(t *testing.T) {
		rig := newVoiceRig(t, func(cfg *config.Config) {
			cfg.Redemption.ConsumeBeforePlay = true
		})
		rig.seed(t, "1234", "hayase.wav", 1, 1)

		w := postForm(rig.router, "/voice/fulfill/1234", url.Values{"CallSid": {"CA006"}}, nil)
		assert.Contains(t, w.Body.String(), msgQuotaExhausted)
		assert.NotContains(t, w.Body.String(), "<Play>")
		assert.Equal(t, 1, rig.usage(t, "1234"))
	})

	t.Run("consume before play counts before responding", func(t *testing.T) {
		rig := newVoiceRig(t, func(cfg *config.Config) {
			cfg.Redemption.ConsumeBeforePlay = true
		})
		rig.seed(t, "1234", "hayase.wav", 3, 0)

		w := postForm(rig.router, "/voice/fulfill/1234", url.Values{"CallSid": {"CA007"}}, nil)
		assert.Contains(t, w.Body.String(), "<Play>")
		assert.Equal(t, 1, rig.usage(t, "1234"))
	})
}
