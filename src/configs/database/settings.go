package database

import (
	"context"
	"errors"
	"fmt"

	"snap-answer-server/src/models"

	"gorm.io/gorm"
)

// SettingsStore 持久化 models.SystemConfig 单条记录
type SettingsStore struct {
	db *gorm.DB
}

// NewSettingsStore 迁移表结构并返回存储
func NewSettingsStore(db *gorm.DB) (*SettingsStore, error) {
	if err := db.AutoMigrate(&models.SystemConfig{}); err != nil {
		return nil, fmt.Errorf("迁移 system_configs 失败: %w", err)
	}
	return &SettingsStore{db: db}, nil
}

// Load 读取已保存的配置，没有记录时 found 为 false
func (s *SettingsStore) Load(ctx context.Context) (cfg models.SystemConfig, found bool, err error) {
	err = s.db.WithContext(ctx).First(&cfg, models.SystemConfigID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.SystemConfig{}, false, nil
	}
	if err != nil {
		return models.SystemConfig{}, false, fmt.Errorf("读取系统配置失败: %w", err)
	}
	return cfg, true, nil
}

// Save 覆盖保存配置
func (s *SettingsStore) Save(ctx context.Context, cfg models.SystemConfig) error {
	cfg.ID = models.SystemConfigID
	if err := s.db.WithContext(ctx).Save(&cfg).Error; err != nil {
		return fmt.Errorf("保存系统配置失败: %w", err)
	}
	return nil
}

// Close 关闭底层连接
func (s *SettingsStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
