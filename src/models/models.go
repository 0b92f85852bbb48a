package models

import (
	"gorm.io/datatypes"
)

// SystemConfigID 系统配置只保存一条记录
const SystemConfigID = 1

// SystemConfig 运行时可修改的全局配置，覆盖 config.yaml 中的选择
type SystemConfig struct {
	ID            uint   `gorm:"primaryKey"`
	SelectedVLLLM string // 当前使用的VLLLM配置名
	Prompt        string `gorm:"type:text"`
	// VLLMOptions 对所选配置的覆盖项，如 temperature、max_tokens、model_name
	VLLMOptions datatypes.JSONMap
	UpdatedAt   int64 `gorm:"autoUpdateTime"`
}
