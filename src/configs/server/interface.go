package server

import (
	"context"

	"snap-answer-server/src/core/providers/vlllm"
	"snap-answer-server/src/models"

	"github.com/gin-gonic/gin"
)

// CfgService 定义 Cfg 服务接口
type CfgService interface {
	Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error
}

// ProviderTarget 接收运行时切换的回答提供者
type ProviderTarget interface {
	SetProvider(p vlllm.AnswerProvider)
	Provider() vlllm.AnswerProvider
}

// SettingsStore 系统配置的持久化，未配置数据库时为空
type SettingsStore interface {
	Load(ctx context.Context) (models.SystemConfig, bool, error)
	Save(ctx context.Context, cfg models.SystemConfig) error
}
