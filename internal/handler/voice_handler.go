package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"onsei/voicegate/internal/config"
	"onsei/voicegate/internal/service"
	"onsei/voicegate/pkg/twiml"
)

// Spoken prompts. Every terminal state speaks exactly one of these before
// the call disconnects.
const (
	msgGatherPrompt   = "こんにちは。シリアルコードを入力してください。"
	msgNoInput        = "入力が確認できませんでした。もう一度おかけ直しください。"
	msgCodeNotFound   = "入力されたシリアルコードが見つかりません。もう一度確認してください。"
	msgQuotaExhausted = "このシリアルコードは使用回数の上限に達しています。"
	msgSystemError    = "システムエラーが発生しました。管理者に問い合わせてください。"
	msgDispatchError  = "電話の発信中にエラーが発生しました。"
	msgDispatched     = "認証に成功しました。一度電話を切らせていただきます。すぐに折り返しお電話いたしますので、少々お待ちください。"
	msgCodeMissing    = "システムエラーです。コード情報が見つかりません。"
	msgClosing        = "ご利用ありがとうございました。"
)

type VoiceHandler struct {
	redemption service.RedemptionService
	cfg        *config.Config
	logger     *zap.Logger
}

func NewVoiceHandler(redemption service.RedemptionService, cfg *config.Config, logger *zap.Logger) *VoiceHandler {
	return &VoiceHandler{redemption: redemption, cfg: cfg, logger: logger}
}

// Inbound answers the initial call with a digit gather.
func (h *VoiceHandler) Inbound(c *gin.Context) {
	resp := twiml.New()
	gather := twiml.Gather{
		NumDigits: h.cfg.Voice.NumDigits,
		Action:    "/voice/verify",
		Method:    http.MethodPost,
		Timeout:   h.cfg.Voice.GatherTimeout,
	}
	gather.Say(msgGatherPrompt, h.cfg.Voice.Language)
	resp.Gather(gather)

	// Reached only when the gather times out without input.
	resp.Say(msgNoInput, h.cfg.Voice.Language)

	h.renderTwiML(c, resp)
}

// Verify handles the gather result: look the code up, pre-check its quota
// and dispatch the outbound fulfillment call. Quota is not consumed here.
func (h *VoiceHandler) Verify(c *gin.Context) {
	digits := c.PostForm("Digits")
	caller := c.PostForm("From")

	if digits == "" {
		h.sayAndHangup(c, msgNoInput)
		return
	}

	fulfillmentURL := h.absoluteURL(c, "/voice/fulfill/"+url.PathEscape(digits))
	err := h.redemption.VerifyAndDispatch(c.Request.Context(), digits, caller, fulfillmentURL)
	switch {
	case errors.Is(err, service.ErrCodeNotFound):
		h.logger.Info("code rejected", zap.String("code", digits), zap.String("reason", "not_found"))
		h.sayAndHangup(c, msgCodeNotFound)
	case errors.Is(err, service.ErrQuotaExhausted):
		h.logger.Info("code rejected", zap.String("code", digits), zap.String("reason", "quota_exhausted"))
		h.sayAndHangup(c, msgQuotaExhausted)
	case errors.Is(err, service.ErrProviderMisconfigured):
		h.logger.Error("outbound dispatch impossible", zap.String("code", digits), zap.Error(err))
		h.sayAndHangup(c, msgSystemError)
	case err != nil:
		h.logger.Error("outbound dispatch failed",
			zap.String("code", digits),
			zap.String("caller", caller),
			zap.Error(err),
		)
		h.sayAndHangup(c, msgDispatchError)
	default:
		h.logger.Info("outbound call dispatched",
			zap.String("code", digits),
			zap.String("caller", caller),
		)
		h.sayAndHangup(c, msgDispatched)
	}
}

// Fulfill runs on the connected outbound call: resolve the audio, play it
// and consume one use. The consume happens at most once per call leg even
// if the provider retries this webhook.
func (h *VoiceHandler) Fulfill(c *gin.Context) {
	code := c.Param("code")
	callSID := c.Request.FormValue("CallSid")
	ctx := c.Request.Context()

	sc, err := h.redemption.BeginFulfillment(ctx, code)
	switch {
	case errors.Is(err, service.ErrCodeNotFound):
		h.logger.Warn("fulfillment for unknown code", zap.String("code", code))
		h.sayAndHangup(c, msgCodeMissing)
		return
	case errors.Is(err, service.ErrResourceResolutionFailed):
		h.logger.Error("code has no audio reference", zap.String("code", code))
		h.sayAndHangup(c, msgSystemError)
		return
	case err != nil:
		h.logger.Error("fulfillment lookup failed", zap.String("code", code), zap.Error(err))
		h.sayAndHangup(c, msgSystemError)
		return
	}

	audioURL := h.resolveAudioURL(c, sc.AudioURL)

	if h.cfg.Redemption.ConsumeBeforePlay {
		count, err := h.redemption.Consume(ctx, code, callSID)
		switch {
		case errors.Is(err, service.ErrQuotaExhausted):
			// Lost the race between the verify pre-check and now.
			h.logger.Warn("consume lost quota race", zap.String("code", code), zap.Int("usage_count", count))
			h.sayAndHangup(c, msgQuotaExhausted)
			return
		case errors.Is(err, service.ErrCodeNotFound):
			h.logger.Warn("code vanished before consume", zap.String("code", code))
			h.sayAndHangup(c, msgCodeMissing)
			return
		case err != nil:
			h.logger.Error("consume failed", zap.String("code", code), zap.Error(err))
			h.sayAndHangup(c, msgSystemError)
			return
		}
		h.logger.Info("use consumed", zap.String("code", code), zap.Int("usage_count", count))
	}

	resp := twiml.New()
	resp.Play(audioURL)
	resp.Say(msgClosing, h.cfg.Voice.Language)
	resp.Hangup()

	if !h.cfg.Redemption.ConsumeBeforePlay {
		// Play-then-count: audio was already promised to the caller, so a
		// failed consume is logged for operators, never spoken.
		count, err := h.redemption.Consume(ctx, code, callSID)
		if err != nil {
			h.logger.Warn("consume after play failed",
				zap.String("code", code),
				zap.String("call_sid", callSID),
				zap.Error(err),
			)
		} else {
			h.logger.Info("use consumed", zap.String("code", code), zap.Int("usage_count", count))
		}
	}

	h.renderTwiML(c, resp)
}

// resolveAudioURL leaves absolute references untouched and points bare file
// names at the local audio endpoint.
func (h *VoiceHandler) resolveAudioURL(c *gin.Context, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return h.absoluteURL(c, "/audio/"+url.PathEscape(ref))
}

// absoluteURL builds an externally reachable URL for path, preferring the
// configured public URL and honoring the proxy's forwarded scheme.
func (h *VoiceHandler) absoluteURL(c *gin.Context, path string) string {
	if base := h.cfg.Server.PublicURL; base != "" {
		return strings.TrimRight(base, "/") + path
	}

	scheme := "http"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host + path
}

func (h *VoiceHandler) sayAndHangup(c *gin.Context, message string) {
	resp := twiml.New()
	resp.Say(message, h.cfg.Voice.Language)
	resp.Hangup()
	h.renderTwiML(c, resp)
}

func (h *VoiceHandler) renderTwiML(c *gin.Context, resp *twiml.Response) {
	body, err := resp.Render()
	if err != nil {
		h.logger.Error("twiml render failed", zap.Error(err))
		c.String(http.StatusInternalServerError, "twiml render failed")
		return
	}
	c.Data(http.StatusOK, "text/xml; charset=utf-8", []byte(body))
}
