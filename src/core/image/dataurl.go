package image

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// EncodeDataURL 生成 data:<mime>;base64,<data>
func EncodeDataURL(raw []byte, mimeType string) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(raw))
}

// ParseDataURL 解析 base64 data URL，返回图片与原始字节
func ParseDataURL(s string) (ImagePayload, []byte, error) {
	if !strings.HasPrefix(s, "data:") {
		return ImagePayload{}, nil, &ReadError{Reason: "不是 data URL"}
	}
	comma := strings.IndexByte(s, ',')
	if comma < 0 {
		return ImagePayload{}, nil, &ReadError{Reason: "data URL 缺少数据部分"}
	}

	meta := s[len("data:"):comma]
	if !strings.HasSuffix(meta, ";base64") {
		return ImagePayload{}, nil, &ReadError{Reason: "仅支持 base64 编码的 data URL"}
	}
	mimeType := strings.TrimSuffix(meta, ";base64")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	raw, err := base64.StdEncoding.DecodeString(s[comma+1:])
	if err != nil {
		return ImagePayload{}, nil, &ReadError{Reason: "base64 解码失败", Err: err}
	}
	return ImagePayload{Data: s, MimeType: mimeType}, raw, nil
}
