package storage

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
)

const (
	DestinationActive   = "active"
	DestinationDisabled = "disabled"
)

// Destination 描述一个推送目标（Slack incoming webhook）
type Destination struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	Code       string `gorm:"size:64;uniqueIndex" json:"code"`
	Name       string `gorm:"size:128" json:"name"`
	WebhookURL string `gorm:"size:512" json:"-"`
	Status     string `gorm:"size:32;index" json:"status"` // active / disabled

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DestinationCode 由 webhook 地址生成稳定的 code，避免在日志与接口中暴露地址
func DestinationCode(webhookURL string) string {
	h := sha1.New()
	h.Write([]byte(webhookURL))
	return "slack-" + hex.EncodeToString(h.Sum(nil))[:10]
}

// EnsureDestination 确保某个推送目标存在，已存在时原样返回
func (s *Store) EnsureDestination(ctx context.Context, code, name, webhookURL string) (*Destination, error) {
	d := &Destination{}
	if err := s.DB.WithContext(ctx).Where("code = ?", code).First(d).Error; err == nil {
		return d, nil
	}

	d = &Destination{
		Code:       code,
		Name:       name,
		WebhookURL: webhookURL,
		Status:     DestinationActive,
	}
	if err := s.DB.WithContext(ctx).Create(d).Error; err != nil {
		return nil, errors.Wrapf(ErrStore, "create destination %s: %v", code, err)
	}
	return d, nil
}

// ListDestinations 返回推送目标，activeOnly 时只返回启用的
func (s *Store) ListDestinations(ctx context.Context, activeOnly bool) ([]Destination, error) {
	db := s.DB.WithContext(ctx).Order("id ASC")
	if activeOnly {
		db = db.Where("status = ?", DestinationActive)
	}
	var list []Destination
	if err := db.Find(&list).Error; err != nil {
		return nil, errors.Wrapf(ErrStore, "list destinations: %v", err)
	}
	return list, nil
}

// SetDestinationStatus 启用或停用推送目标；返回是否找到该目标
func (s *Store) SetDestinationStatus(ctx context.Context, code, status string) (bool, error) {
	if status != DestinationActive && status != DestinationDisabled {
		return false, errors.Errorf("storage: unknown destination status %q", status)
	}
	res := s.DB.WithContext(ctx).Model(&Destination{}).Where("code = ?", code).Update("status", status)
	if res.Error != nil {
		return false, errors.Wrapf(ErrStore, "update destination %s: %v", code, res.Error)
	}
	return res.RowsAffected > 0, nil
}
