package configs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
selected_module:
  VLLLM: gemini
VLLLM:
  gemini:
    type: gemini
    model_name: gemini-2.5-flash
`))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "file", cfg.Camera.Backend)
	assert.Equal(t, 92, cfg.Camera.JPEGQuality)
	assert.Equal(t, "gemini", cfg.SelectedModule["VLLLM"])
	assert.Equal(t, DefaultSecurityConfig(), cfg.VLLLM["gemini"].Security)
}

func TestParseConfigInvalidYAML(t *testing.T) {
	_, err := ParseConfig([]byte("VLLLM: [unterminated"))
	assert.Error(t, err)
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("API_KEY", "from-default-env")
	t.Setenv("VENDOR_KEY", "from-named-env")

	tests := []struct {
		name string
		cfg  VLLMConfig
		want string
	}{
		{name: "配置文件中的密钥", cfg: VLLMConfig{APIKey: "inline"}, want: "inline"},
		{name: "展开环境变量", cfg: VLLMConfig{APIKey: "${VENDOR_KEY}"}, want: "from-named-env"},
		{name: "指定环境变量", cfg: VLLMConfig{APIKeyEnv: "VENDOR_KEY"}, want: "from-named-env"},
		{name: "默认环境变量", cfg: VLLMConfig{}, want: "from-default-env"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.ResolveAPIKey())
		})
	}
}

func TestResolveAPIKeyMissing(t *testing.T) {
	t.Setenv("API_KEY", "")
	assert.Empty(t, VLLMConfig{}.ResolveAPIKey())
}
