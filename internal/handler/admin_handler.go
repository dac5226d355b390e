package handler

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"

	"onsei/voicegate/internal/seed"
	"onsei/voicegate/internal/service"
	"onsei/voicegate/pkg/response"
)

type AdminHandler struct {
	admin    service.AdminService
	seedFile string
}

func NewAdminHandler(admin service.AdminService, seedFile string) *AdminHandler {
	return &AdminHandler{admin: admin, seedFile: seedFile}
}

// ListCodes returns every serial code with its usage state.
func (h *AdminHandler) ListCodes(c *gin.Context) {
	codes, err := h.admin.ListCodes(c.Request.Context())
	if err != nil {
		response.InternalError(c, "failed to list codes")
		return
	}
	response.Success(c, codes)
}

// ResetCode zeroes one code's usage count.
func (h *AdminHandler) ResetCode(c *gin.Context) {
	code := c.Param("code")
	sc, err := h.admin.ResetCode(c.Request.Context(), code)
	if err != nil {
		if errors.Is(err, service.ErrCodeNotFound) {
			response.NotFound(c, "code not found: "+code)
			return
		}
		response.InternalError(c, "failed to reset code")
		return
	}
	response.Success(c, sc)
}

// ResetAll zeroes every code's usage count and reports how many rows were
// touched. Safe to repeat.
func (h *AdminHandler) ResetAll(c *gin.Context) {
	count, err := h.admin.ResetAll(c.Request.Context())
	if err != nil {
		response.InternalError(c, "failed to reset codes")
		return
	}
	response.Success(c, gin.H{"reset": count})
}

// Sync upserts codes from a seed document: the request body when one is
// sent, otherwise the configured seed file. Existing usage counts are
// preserved and nothing is deleted.
func (h *AdminHandler) Sync(c *gin.Context) {
	var entries []seed.Entry

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.BadRequest(c, "failed to read request body")
		return
	}

	if len(body) > 0 {
		entries, err = seed.Parse(body)
		if err != nil {
			response.BadRequest(c, "invalid seed document: "+err.Error())
			return
		}
	} else {
		entries, err = seed.Load(h.seedFile)
		if err != nil {
			response.BadRequest(c, "failed to load seed file: "+err.Error())
			return
		}
	}

	report, err := h.admin.Sync(c.Request.Context(), entries)
	if err != nil {
		response.InternalError(c, "sync failed: "+err.Error())
		return
	}
	response.Success(c, report)
}

type UpsertCodeRequest struct {
	AudioURL   string `json:"audio_url" binding:"required"`
	MaxUses    int    `json:"max_uses"`
	UsageCount int    `json:"usage_count"`
}

// UpsertCode creates or updates a single code. usage_count only applies on
// creation; updates never touch it.
func (h *AdminHandler) UpsertCode(c *gin.Context) {
	code := c.Param("code")

	var req UpsertCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	if req.MaxUses == 0 {
		req.MaxUses = 3
	}

	sc, created, err := h.admin.UpsertCode(c.Request.Context(), code, req.AudioURL, req.MaxUses, req.UsageCount)
	if err != nil {
		response.InternalError(c, "failed to upsert code")
		return
	}
	response.Success(c, gin.H{"code": sc, "created": created})
}
