package vlllm

import (
	"fmt"
)

// AuthConfigError 未配置厂商凭证。在启动时出现即为致命错误
type AuthConfigError struct {
	Provider string
	EnvVar   string
}

func (e *AuthConfigError) Error() string {
	if e.EnvVar != "" {
		return fmt.Sprintf("API key for provider %q is not set: configure api_key or the %s environment variable", e.Provider, e.EnvVar)
	}
	return fmt.Sprintf("API key for provider %q is not set", e.Provider)
}

// HttpError 厂商返回非 2xx 状态码
type HttpError struct {
	Vendor  string
	Status  int
	Message string // 厂商返回的错误信息，无法解析时为原始状态行
}

func (e *HttpError) Error() string {
	return fmt.Sprintf("%s API Error: HTTP %d: %s", e.Vendor, e.Status, e.Message)
}

// EmptyResponseError 请求成功但响应中没有可用的回答文本
type EmptyResponseError struct {
	Vendor string
	Detail string
	Err    error
}

func (e *EmptyResponseError) Error() string {
	msg := fmt.Sprintf("%s API Error: The API returned an empty response.", e.Vendor)
	if e.Detail != "" {
		msg += " " + e.Detail
	}
	if e.Err != nil {
		msg += " (" + e.Err.Error() + ")"
	}
	return msg
}

func (e *EmptyResponseError) Unwrap() error { return e.Err }

// NetworkError 无法到达厂商接口（网络中断、DNS、连接被拒绝等）
type NetworkError struct {
	Vendor string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s API Error: network request failed: %v", e.Vendor, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
