package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"onsei/voicegate/internal/model"
)

// memoryCodeRepository keeps codes in a mutex-guarded map. It exists for
// tests and storageless local runs; production uses the gorm repository,
// where the conditional UPDATE serializes concurrent consumes across
// process instances.
type memoryCodeRepository struct {
	mu    sync.Mutex
	codes map[string]*model.SerialCode
}

func NewMemoryCodeRepository() CodeRepository {
	return &memoryCodeRepository{codes: make(map[string]*model.SerialCode)}
}

func (r *memoryCodeRepository) GetByCode(_ context.Context, code string) (*model.SerialCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sc, ok := r.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sc
	return &cp, nil
}

func (r *memoryCodeRepository) Upsert(_ context.Context, code, audioURL string, maxUses, initialUsage int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if sc, ok := r.codes[code]; ok {
		sc.AudioURL = audioURL
		sc.MaxUses = maxUses
		sc.UpdatedAt = now
		return false, nil
	}
	r.codes[code] = &model.SerialCode{
		Code:       code,
		AudioURL:   audioURL,
		UsageCount: initialUsage,
		MaxUses:    maxUses,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return true, nil
}

func (r *memoryCodeRepository) TryConsume(_ context.Context, code string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sc, ok := r.codes[code]
	if !ok {
		return 0, ErrNotFound
	}
	if sc.UsageCount >= sc.MaxUses {
		return sc.UsageCount, ErrExhausted
	}
	sc.UsageCount++
	sc.UpdatedAt = time.Now()
	return sc.UsageCount, nil
}

func (r *memoryCodeRepository) ResetOne(_ context.Context, code string) (*model.SerialCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sc, ok := r.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	sc.UsageCount = 0
	sc.UpdatedAt = time.Now()
	cp := *sc
	return &cp, nil
}

func (r *memoryCodeRepository) ResetAll(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sc := range r.codes {
		sc.UsageCount = 0
	}
	return int64(len(r.codes)), nil
}

func (r *memoryCodeRepository) List(_ context.Context) ([]model.SerialCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	codes := make([]model.SerialCode, 0, len(r.codes))
	for _, sc := range r.codes {
		codes = append(codes, *sc)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i].Code < codes[j].Code })
	return codes, nil
}
