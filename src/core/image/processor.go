package image

import (
	"fmt"
	"sync/atomic"

	"snap-answer-server/src/configs"
	"snap-answer-server/src/core/utils"
)

// Source 图片来源
type Source string

const (
	SourceUpload  Source = "upload"
	SourceCapture Source = "capture"
)

// ImageProcessor 图片处理器：校验进入系统的每一张图片并记录统计
type ImageProcessor struct {
	config    configs.SecurityConfig
	validator *ImageSecurityValidator
	logger    *utils.Logger
	metrics   ImageMetrics
}

// NewImageProcessor 创建新的图片处理器
func NewImageProcessor(config configs.SecurityConfig, logger *utils.Logger) *ImageProcessor {
	p := &ImageProcessor{
		config: config,
		logger: logger,
	}
	p.validator = NewImageSecurityValidator(&p.config, logger)
	return p
}

// MaxFileSize 上传大小上限
func (p *ImageProcessor) MaxFileSize() int64 {
	return p.config.MaxFileSize
}

// ProcessImage 校验图片，失败时返回 ReadError
func (p *ImageProcessor) ProcessImage(payload ImagePayload, source Source) (ValidationResult, error) {
	atomic.AddInt64(&p.metrics.TotalProcessed, 1)
	switch source {
	case SourceUpload:
		atomic.AddInt64(&p.metrics.Uploads, 1)
	case SourceCapture:
		atomic.AddInt64(&p.metrics.Captures, 1)
	}

	if payload.IsZero() {
		atomic.AddInt64(&p.metrics.FailedValidations, 1)
		return ValidationResult{}, &ReadError{Reason: "图片数据为空"}
	}

	result := p.validator.ValidatePayload(payload)
	if !result.IsValid {
		atomic.AddInt64(&p.metrics.FailedValidations, 1)
		if result.SecurityRisk != "" {
			atomic.AddInt64(&p.metrics.SecurityIncidents, 1)
			p.logger.Warn("图片验证失败", map[string]interface{}{
				"error":         result.Error.Error(),
				"security_risk": result.SecurityRisk,
				"mime_type":     payload.MimeType,
			})
		}
		return result, &ReadError{Reason: "图片验证失败", Err: result.Error}
	}

	p.logger.Debug(fmt.Sprintf("图片处理完成 source=%s format=%s %dx%d", source, result.Format, result.Width, result.Height))
	return result, nil
}

// GetMetrics 获取处理统计信息
func (p *ImageProcessor) GetMetrics() ImageMetrics {
	return ImageMetrics{
		TotalProcessed:    atomic.LoadInt64(&p.metrics.TotalProcessed),
		Uploads:           atomic.LoadInt64(&p.metrics.Uploads),
		Captures:          atomic.LoadInt64(&p.metrics.Captures),
		FailedValidations: atomic.LoadInt64(&p.metrics.FailedValidations),
		SecurityIncidents: atomic.LoadInt64(&p.metrics.SecurityIncidents),
	}
}
