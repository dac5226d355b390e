package repository

import (
	"context"
	"errors"

	"onsei/voicegate/internal/model"
)

var (
	ErrNotFound  = errors.New("serial code not found")
	ErrExhausted = errors.New("serial code quota exhausted")
)

// CodeRepository is the durable store of serial codes. TryConsume is the
// single authority over usage_count: it must check and increment as one
// atomic conditional update so concurrent redemptions of the same code can
// never exceed max_uses.
type CodeRepository interface {
	GetByCode(ctx context.Context, code string) (*model.SerialCode, error)

	// Upsert creates the code or updates audio_url/max_uses on an existing
	// one. initialUsage applies only on creation. Reports whether a new row
	// was created.
	Upsert(ctx context.Context, code, audioURL string, maxUses, initialUsage int) (created bool, err error)

	// TryConsume increments usage_count iff usage_count < max_uses and
	// returns the post-increment count. Returns ErrExhausted when no use
	// remains, ErrNotFound when the code does not exist.
	TryConsume(ctx context.Context, code string) (int, error)

	ResetOne(ctx context.Context, code string) (*model.SerialCode, error)

	// ResetAll zeroes usage_count on every code and returns the number of
	// rows the statement touched.
	ResetAll(ctx context.Context) (int64, error)

	List(ctx context.Context) ([]model.SerialCode, error)
}
