package service

import (
	"context"
	"errors"
	"fmt"

	"onsei/voicegate/internal/model"
	"onsei/voicegate/internal/repository"
	"onsei/voicegate/internal/seed"
)

type SyncReport struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// AdminService exposes the operator maintenance surface: list, reset and
// seed-sync. None of it sits on the redemption hot path.
type AdminService interface {
	ListCodes(ctx context.Context) ([]model.SerialCode, error)
	ResetCode(ctx context.Context, code string) (*model.SerialCode, error)
	ResetAll(ctx context.Context) (int64, error)

	// Sync upserts every entry by code and reports how many were created
	// versus updated. Codes absent from the entries are never deleted.
	Sync(ctx context.Context, entries []seed.Entry) (*SyncReport, error)

	UpsertCode(ctx context.Context, code, audioURL string, maxUses, usageCount int) (*model.SerialCode, bool, error)
}

type adminService struct {
	codes repository.CodeRepository
}

func NewAdminService(codes repository.CodeRepository) AdminService {
	return &adminService{codes: codes}
}

func (s *adminService) ListCodes(ctx context.Context) ([]model.SerialCode, error) {
	return s.codes.List(ctx)
}

func (s *adminService) ResetCode(ctx context.Context, code string) (*model.SerialCode, error) {
	sc, err := s.codes.ResetOne(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("reset code: %w", err)
	}
	return sc, nil
}

func (s *adminService) ResetAll(ctx context.Context) (int64, error) {
	return s.codes.ResetAll(ctx)
}

func (s *adminService) Sync(ctx context.Context, entries []seed.Entry) (*SyncReport, error) {
	report := &SyncReport{}
	for _, e := range entries {
		created, err := s.codes.Upsert(ctx, e.Code, e.AudioURL, e.MaxUses, e.UsageCount)
		if err != nil {
			return nil, fmt.Errorf("sync code %q: %w", e.Code, err)
		}
		if created {
			report.Created++
		} else {
			report.Updated++
		}
	}
	return report, nil
}

func (s *adminService) UpsertCode(ctx context.Context, code, audioURL string, maxUses, usageCount int) (*model.SerialCode, bool, error) {
	if maxUses < 1 {
		maxUses = 1
	}
	if usageCount < 0 {
		usageCount = 0
	}
	created, err := s.codes.Upsert(ctx, code, audioURL, maxUses, usageCount)
	if err != nil {
		return nil, false, fmt.Errorf("upsert code: %w", err)
	}
	sc, err := s.codes.GetByCode(ctx, code)
	if err != nil {
		return nil, created, fmt.Errorf("read back code: %w", err)
	}
	return sc, created, nil
}
