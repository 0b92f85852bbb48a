package image

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ReadError 本地文件读取或解码失败
type ReadError struct {
	Name   string
	Reason string
	Err    error
}

func (e *ReadError) Error() string {
	msg := "Failed to read the image file"
	if e.Name != "" {
		msg += " " + e.Name
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ReadError) Unwrap() error { return e.Err }

// ReadUpload 读取上传内容并生成 data URL。declaredType 为客户端声明的类型，
// 为空或不是图片类型时按文件内容识别
func ReadUpload(r io.Reader, name, declaredType string, maxSize int64) (ImagePayload, error) {
	var reader io.Reader = r
	if maxSize > 0 {
		reader = io.LimitReader(r, maxSize+1)
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		return ImagePayload{}, &ReadError{Name: name, Reason: "读取失败", Err: err}
	}
	if len(raw) == 0 {
		return ImagePayload{}, &ReadError{Name: name, Reason: "文件为空"}
	}
	if maxSize > 0 && int64(len(raw)) > maxSize {
		return ImagePayload{}, &ReadError{Name: name, Reason: fmt.Sprintf("文件超过 %d 字节", maxSize)}
	}

	detected := mimetype.Detect(raw)
	if !strings.HasPrefix(detected.String(), "image/") {
		return ImagePayload{}, &ReadError{Name: name, Reason: fmt.Sprintf("不是图片文件 (%s)", detected.String())}
	}

	mimeType := strings.ToLower(strings.TrimSpace(declaredType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = detected.String()
	}

	return NewPayload(raw, mimeType), nil
}

// ReadFile 从磁盘读取图片文件
func ReadFile(path string, maxSize int64) (ImagePayload, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImagePayload{}, &ReadError{Name: path, Reason: "打开文件失败", Err: err}
	}
	defer f.Close()
	return ReadUpload(f, path, "", maxSize)
}
