package image

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// ImagePayload 一次上传或抓拍得到的图片，Data 为完整的 data URL
type ImagePayload struct {
	Data     string `json:"data"`
	MimeType string `json:"mime_type"`
}

// NewPayload 将原始字节编码为 data URL 形式的图片
func NewPayload(raw []byte, mimeType string) ImagePayload {
	return ImagePayload{
		Data:     EncodeDataURL(raw, mimeType),
		MimeType: mimeType,
	}
}

// Base64 返回 data URL 逗号之后的 base64 部分
func (p ImagePayload) Base64() string {
	if i := strings.IndexByte(p.Data, ','); i >= 0 && strings.HasPrefix(p.Data, "data:") {
		return p.Data[i+1:]
	}
	return p.Data
}

// Bytes 解码图片字节
func (p ImagePayload) Bytes() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(p.Base64())
	if err != nil {
		return nil, fmt.Errorf("base64解码失败: %w", err)
	}
	return raw, nil
}

// IsZero 是否为空图片
func (p ImagePayload) IsZero() bool {
	return p.Data == ""
}

// Format 返回 MIME 类型对应的格式名，如 image/jpeg -> jpeg
func (p ImagePayload) Format() string {
	return strings.TrimPrefix(strings.ToLower(p.MimeType), "image/")
}

// ValidationResult 图片验证结果
type ValidationResult struct {
	IsValid      bool   // 是否有效
	Format       string // 实际格式
	Width        int    // 图片宽度
	Height       int    // 图片高度
	FileSize     int64  // 文件大小
	Error        error  // 错误信息
	SecurityRisk string // 安全风险描述
}

// ImageMetrics 图片处理统计信息
type ImageMetrics struct {
	TotalProcessed    int64 `json:"total_processed"`    // 总处理数量
	Uploads           int64 `json:"uploads"`            // 上传次数
	Captures          int64 `json:"captures"`           // 抓拍次数
	FailedValidations int64 `json:"failed_validations"` // 验证失败次数
	SecurityIncidents int64 `json:"security_incidents"` // 安全事件次数
}
