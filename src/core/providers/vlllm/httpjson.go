package vlllm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// PostJSON 发送 JSON 请求并解码 2xx 响应到 out，错误按类型归类：
// 传输失败为 *NetworkError，非 2xx 为 *HttpError，响应体无法解析为 *EmptyResponseError
func PostJSON(ctx context.Context, client *http.Client, vendor, url string, headers map[string]string, body, out interface{}) error {
	requestBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("请求序列化失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &NetworkError{Vendor: vendor, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Vendor: vendor, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := ErrorMessageFromBody(respBody)
		if msg == "" {
			msg = resp.Status
		}
		return &HttpError{Vendor: vendor, Status: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &EmptyResponseError{Vendor: vendor, Err: err}
	}
	return nil
}

// ErrorMessageFromBody 从常见的错误响应体中提取厂商错误信息：
// {"error":{"message":"..."}}、{"error":"..."}、{"message":"..."}
func ErrorMessageFromBody(body []byte) string {
	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}

	if len(envelope.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(envelope.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
		var plain string
		if err := json.Unmarshal(envelope.Error, &plain); err == nil && plain != "" {
			return plain
		}
	}
	return strings.TrimSpace(envelope.Message)
}
