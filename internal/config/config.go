package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ChannelNames 全部内置渠道，顺序即默认优先级。
var ChannelNames = []string{"mailtm", "tempmailplus", "etempmail", "minmail", "vanishpost"}

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
}

// AuthConfig 定义 API 访问认证配置
type AuthConfig struct {
	APIKey string // Bearer API Key；留空表示不启用认证
}

// RateLimitConfig 定义按 IP 的请求限流配置
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int // 每分钟允许的请求数
	Burst             int // 突发容量
}

// ChannelConfig 定义单个上游渠道的配置块
type ChannelConfig struct {
	Enabled     bool              // 是否启用该渠道
	BaseURL     string            // 上游地址覆盖（留空使用渠道默认值）
	Timeout     time.Duration     // 单次上游请求超时
	Retries     int               // 传输层失败的重试次数
	Credentials map[string]string // 渠道专属凭证
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server    ServerConfig
	CORS      CORSConfig
	Log       LogConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Channels  map[string]ChannelConfig // 以渠道名为键
	Priority  []string                 // 未指定渠道时 createEmail 的尝试顺序
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: TEMPMAILHUB_
// 例如: TEMPMAILHUB_SERVER_PORT, TEMPMAILHUB_API_KEY,
// TEMPMAILHUB_CHANNELS_ETEMPMAIL_ENABLED
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	viper.SetEnvPrefix("tempmailhub")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("api.key", "")
	viper.SetDefault("ratelimit.enabled", true)
	viper.SetDefault("ratelimit.requests_per_minute", 120)
	viper.SetDefault("ratelimit.burst", 30)
	viper.SetDefault("channels.priority", strings.Join(ChannelNames, ","))

	for _, name := range ChannelNames {
		viper.SetDefault("channels."+name+".enabled", true)
		viper.SetDefault("channels."+name+".base_url", "")
		viper.SetDefault("channels."+name+".timeout", "10s")
		viper.SetDefault("channels."+name+".retries", 2)
	}
	viper.SetDefault("channels.tempmailplus.epin", "")
	viper.SetDefault("channels.mailtm.password", "")

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	channels := make(map[string]ChannelConfig, len(ChannelNames))
	for _, name := range ChannelNames {
		timeout, err := time.ParseDuration(viper.GetString("channels." + name + ".timeout"))
		if err != nil {
			return nil, fmt.Errorf("invalid channels.%s.timeout: %w", name, err)
		}
		retries := viper.GetInt("channels." + name + ".retries")
		if retries < 0 {
			return nil, fmt.Errorf("channels.%s.retries must not be negative", name)
		}

		channels[name] = ChannelConfig{
			Enabled:     viper.GetBool("channels." + name + ".enabled"),
			BaseURL:     viper.GetString("channels." + name + ".base_url"),
			Timeout:     timeout,
			Retries:     retries,
			Credentials: channelCredentials(name),
		}
	}

	priority := parseList(viper.GetString("channels.priority"))
	for _, name := range priority {
		if _, ok := channels[name]; !ok {
			return nil, fmt.Errorf("unknown channel %q in channels.priority", name)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
		},
		Auth: AuthConfig{
			APIKey: viper.GetString("api.key"),
		},
		RateLimit: RateLimitConfig{
			Enabled:           viper.GetBool("ratelimit.enabled"),
			RequestsPerMinute: viper.GetInt("ratelimit.requests_per_minute"),
			Burst:             viper.GetInt("ratelimit.burst"),
		},
		Channels: channels,
		Priority: priority,
	}

	return cfg, nil
}

// channelCredentials 收集渠道专属凭证，未配置的键不出现在映射中。
func channelCredentials(name string) map[string]string {
	creds := make(map[string]string)
	switch name {
	case "tempmailplus":
		if epin := viper.GetString("channels.tempmailplus.epin"); epin != "" {
			creds["epin"] = epin
		}
	case "mailtm":
		if password := viper.GetString("channels.mailtm.password"); password != "" {
			creds["password"] = password
		}
	}
	return creds
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env（从子目录运行时）
//
// 环境变量不会被覆盖（已存在的环境变量优先级更高）。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
