package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("默认配置", func(t *testing.T) {
		viper.Reset()
		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Empty(t, cfg.Auth.APIKey)
		assert.True(t, cfg.RateLimit.Enabled)
		assert.Equal(t, ChannelNames, cfg.Priority)

		require.Len(t, cfg.Channels, len(ChannelNames))
		for _, name := range ChannelNames {
			ch, ok := cfg.Channels[name]
			require.True(t, ok, "missing channel %s", name)
			assert.True(t, ch.Enabled)
			assert.Equal(t, 10*time.Second, ch.Timeout)
			assert.Equal(t, 2, ch.Retries)
			assert.Empty(t, ch.BaseURL)
		}
	})

	t.Run("环境变量覆盖默认值", func(t *testing.T) {
		viper.Reset()
		t.Setenv("TEMPMAILHUB_SERVER_PORT", "9090")
		t.Setenv("TEMPMAILHUB_API_KEY", "secret-token")
		t.Setenv("TEMPMAILHUB_CHANNELS_ETEMPMAIL_ENABLED", "false")
		t.Setenv("TEMPMAILHUB_CHANNELS_MAILTM_TIMEOUT", "3s")
		t.Setenv("TEMPMAILHUB_CHANNELS_TEMPMAILPLUS_EPIN", "1234")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "secret-token", cfg.Auth.APIKey)
		assert.False(t, cfg.Channels["etempmail"].Enabled)
		assert.Equal(t, 3*time.Second, cfg.Channels["mailtm"].Timeout)
		assert.Equal(t, "1234", cfg.Channels["tempmailplus"].Credentials["epin"])
	})

	t.Run("自定义渠道优先级", func(t *testing.T) {
		viper.Reset()
		t.Setenv("TEMPMAILHUB_CHANNELS_PRIORITY", "vanishpost, mailtm")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, []string{"vanishpost", "mailtm"}, cfg.Priority)
	})

	t.Run("优先级包含未知渠道时报错", func(t *testing.T) {
		viper.Reset()
		t.Setenv("TEMPMAILHUB_CHANNELS_PRIORITY", "mailtm,nosuch")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nosuch")
	})

	t.Run("非法超时格式报错", func(t *testing.T) {
		viper.Reset()
		t.Setenv("TEMPMAILHUB_CHANNELS_MINMAIL_TIMEOUT", "soon")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "channels.minmail.timeout")
	})

	t.Run("CORS 来源列表解析", func(t *testing.T) {
		viper.Reset()
		t.Setenv("TEMPMAILHUB_CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORS.AllowedOrigins)
	})
}
