package model

import "time"

// SerialCode maps a dialed code to one audio resource and its use quota.
// AudioURL is either an absolute http(s) URL or a bare file name served by
// the local /audio endpoint; the fulfillment handler decides which.
type SerialCode struct {
	Code       string    `gorm:"type:varchar(20);primaryKey" json:"code"`
	AudioURL   string    `gorm:"type:varchar(500);not null" json:"audio_url"`
	UsageCount int       `gorm:"not null;default:0" json:"usage_count"`
	MaxUses    int       `gorm:"not null;default:3" json:"max_uses"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (SerialCode) TableName() string { return "serial_codes" }

// Exhausted reports whether the code has no uses left. This is the fast
// pre-check only; the authoritative check is the conditional update in
// CodeRepository.TryConsume.
func (c *SerialCode) Exhausted() bool { return c.UsageCount >= c.MaxUses }
