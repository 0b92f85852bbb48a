package image

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"snap-answer-server/src/configs"
	"snap-answer-server/src/core/utils"

	_ "image/gif"  // 注册GIF解码器
	_ "image/jpeg" // 注册JPEG解码器
	_ "image/png"  // 注册PNG解码器

	_ "golang.org/x/image/bmp"  // 注册BMP解码器
	_ "golang.org/x/image/tiff" // 注册TIFF解码器
	_ "golang.org/x/image/webp" // 注册WEBP解码器
)

// ImageSecurityValidator 图片安全验证器
type ImageSecurityValidator struct {
	config *configs.SecurityConfig
	logger *utils.Logger
}

// NewImageSecurityValidator 创建新的图片安全验证器
func NewImageSecurityValidator(config *configs.SecurityConfig, logger *utils.Logger) *ImageSecurityValidator {
	return &ImageSecurityValidator{
		config: config,
		logger: logger,
	}
}

// 图片格式魔数签名
var imageSignatures = map[string][]byte{
	"jpeg": {0xFF, 0xD8},
	"jpg":  {0xFF, 0xD8},
	"png":  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	"gif":  {0x47, 0x49, 0x46, 0x38},
	"webp": {0x52, 0x49, 0x46, 0x46}, // RIFF，需要进一步检查WEBP标识
	"bmp":  {0x42, 0x4D},
	"tiff": {0x49, 0x49, 0x2A, 0x00}, // II*\x00，大端序的 MM\x00* 单独判断
}

// 同一格式的其他写法
var formatAliases = map[string]string{
	"jpg":      "jpeg",
	"x-ms-bmp": "bmp",
	"tif":      "tiff",
}

func canonicalFormat(format string) string {
	format = strings.ToLower(format)
	if alias, ok := formatAliases[format]; ok {
		return alias
	}
	return format
}

// 出现在文件开头即视为非图片的签名
var executableSignatures = map[string][]byte{
	"PE":     {0x4D, 0x5A},
	"ELF":    {0x7F, 0x45, 0x4C, 0x46},
	"Mach-O": {0xCA, 0xFE, 0xBA, 0xBE},
	"ZIP":    {0x50, 0x4B, 0x03, 0x04},
	"GZIP":   {0x1F, 0x8B, 0x08},
}

// ValidatePayload 验证 data URL 图片
func (v *ImageSecurityValidator) ValidatePayload(payload ImagePayload) ValidationResult {
	raw, err := payload.Bytes()
	if err != nil {
		return ValidationResult{Error: err, SecurityRisk: "无效的base64数据"}
	}
	return v.ValidateBytes(raw, payload.Format())
}

// ValidateBytes 深度验证图片字节
func (v *ImageSecurityValidator) ValidateBytes(data []byte, declaredFormat string) ValidationResult {
	result := ValidationResult{IsValid: false}

	// 1. 基础大小检查
	if v.config.MaxFileSize > 0 && int64(len(data)) > v.config.MaxFileSize {
		result.Error = fmt.Errorf("文件大小超限: %d bytes，最大允许: %d bytes", len(data), v.config.MaxFileSize)
		result.SecurityRisk = "文件过大"
		return result
	}

	// 2. 格式支持检查
	if declaredFormat != "" && !v.isFormatAllowed(declaredFormat) {
		result.Error = fmt.Errorf("不支持的格式: %s", declaredFormat)
		result.SecurityRisk = "使用了不被允许的格式"
		return result
	}

	// 3. 可执行文件与压缩包签名检测
	if v.config.EnableDeepScan {
		if name, found := scanSignatures(data); found {
			result.Error = fmt.Errorf("检测到 %s 文件签名", name)
			result.SecurityRisk = "可能包含恶意载荷"
			v.logger.Warn("检测到可疑内容", map[string]interface{}{
				"signature": name,
				"size":      len(data),
			})
			return result
		}
	}

	// 4. 解码图片头获取尺寸
	result = v.validateImageDecoding(data, declaredFormat)
	if !result.IsValid && declaredFormat != "" && !v.validateFileSignature(data, declaredFormat) {
		v.logger.Warn("文件头与声明格式不符", map[string]interface{}{
			"declared_format": declaredFormat,
			"actual_header":   fmt.Sprintf("%x", data[:min(len(data), 16)]),
		})
	}
	return result
}

func scanSignatures(data []byte) (string, bool) {
	for name, signature := range executableSignatures {
		if bytes.HasPrefix(data, signature) {
			return name, true
		}
	}
	return "", false
}

// validateFileSignature 验证文件头签名
func (v *ImageSecurityValidator) validateFileSignature(data []byte, format string) bool {
	format = canonicalFormat(format)
	if format == "tiff" && bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}) {
		return true
	}
	signature, exists := imageSignatures[format]
	if !exists || !bytes.HasPrefix(data, signature) {
		return false
	}
	if format == "webp" {
		return len(data) >= 12 && bytes.Equal(data[8:12], []byte("WEBP"))
	}
	return true
}

// isFormatAllowed 检查格式是否被允许
func (v *ImageSecurityValidator) isFormatAllowed(format string) bool {
	if len(v.config.AllowedFormats) == 0 {
		return true
	}
	format = canonicalFormat(format)
	for _, allowedFormat := range v.config.AllowedFormats {
		if canonicalFormat(allowedFormat) == format {
			return true
		}
	}
	return false
}

// validateImageDecoding 验证图片解码
func (v *ImageSecurityValidator) validateImageDecoding(data []byte, format string) ValidationResult {
	result := ValidationResult{Format: format}

	config, actualFormat, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		result.Error = fmt.Errorf("图片解码失败: %v", err)
		result.SecurityRisk = "损坏的图片数据"
		return result
	}
	if actualFormat != "" {
		result.Format = actualFormat
	}

	if (v.config.MaxWidth > 0 && config.Width > v.config.MaxWidth) ||
		(v.config.MaxHeight > 0 && config.Height > v.config.MaxHeight) {
		result.Error = fmt.Errorf("图片尺寸超限: %dx%d，最大允许: %dx%d",
			config.Width, config.Height, v.config.MaxWidth, v.config.MaxHeight)
		result.SecurityRisk = "图片过大，可能消耗过多资源"
		return result
	}

	totalPixels := int64(config.Width) * int64(config.Height)
	if v.config.MaxPixels > 0 && totalPixels > v.config.MaxPixels {
		result.Error = fmt.Errorf("像素总数超限: %d，最大允许: %d", totalPixels, v.config.MaxPixels)
		result.SecurityRisk = "像素过多，可能导致内存耗尽"
		return result
	}

	result.IsValid = true
	result.Width = config.Width
	result.Height = config.Height
	result.FileSize = int64(len(data))

	v.logger.Debug("图片验证成功 %v", map[string]interface{}{
		"format": result.Format,
		"width":  result.Width,
		"height": result.Height,
		"size":   result.FileSize,
	})

	return result
}
