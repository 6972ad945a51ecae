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

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// InboundConfig 定义入站 webhook 的配置
type InboundConfig struct {
	ReceivingDomain string  // 本服务的收信域名，信封中只有该域名下的收件人参与路由
	MaxBodyBytes    int64   // webhook 请求体上限，默认 20MB
	RateLimit       float64 // 每个来源 IP 每秒允许的 webhook 请求数，0 表示不限流
	RateBurst       int     // 令牌桶容量
}

// BucketConfig 定义收件桶的业务配置
type BucketConfig struct {
	DefaultTTL      time.Duration // 收件桶生存时间，0 表示永不过期
	HistoryLimit    int           // 每个收件桶保留的邮件数量上限
	PageSize        int           // 列表分页大小
	RecentWindow    time.Duration // 实时计数流中 "最近邮件" 的时间窗口
	CleanupInterval time.Duration // 过期收件桶清理间隔
}

// SMTPConfig 定义可选的 SMTP 直收服务器配置
type SMTPConfig struct {
	Enabled  bool   // 是否启动 SMTP 监听
	BindAddr string // SMTP 服务监听地址，格式 "host:port"，默认 ":2525"
	Domain   string // SMTP 服务器域名，用于 HELO/EHLO 响应
	MaxConns int    // 最大并发连接数，0 表示不限制
	ConnRate int    // 每秒最大新建连接数，0 表示不限制
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空只输出到控制台
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，留空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 缓存服务配置
type RedisConfig struct {
	Enabled  bool   // 是否启用 Redis 缓存与发布订阅
	Address  string // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server   ServerConfig
	Inbound  InboundConfig
	Bucket   BucketConfig
	SMTP     SMTPConfig
	CORS     CORSConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: MAILBUCKET_
// 例如: MAILBUCKET_SERVER_PORT, MAILBUCKET_INBOUND_RECEIVING_DOMAIN
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("mailbucket")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("inbound.receiving_domain", "parse.mailingbox.tech")
	v.SetDefault("inbound.max_body_bytes", 20*1024*1024)
	v.SetDefault("inbound.rate_limit", 50)
	v.SetDefault("inbound.rate_burst", 100)
	v.SetDefault("bucket.default_ttl", "0")
	v.SetDefault("bucket.history_limit", 100)
	v.SetDefault("bucket.page_size", 50)
	v.SetDefault("bucket.recent_window", "6s")
	v.SetDefault("bucket.cleanup_interval", "1h")
	v.SetDefault("smtp.enabled", false)
	v.SetDefault("smtp.bind_addr", ":2525")
	v.SetDefault("smtp.domain", "parse.mailingbox.tech")
	v.SetDefault("smtp.max_conns", 100)
	v.SetDefault("smtp.conn_rate", 20)
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("database.type", "") // 默认为空，使用内存存储
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	receivingDomain := strings.ToLower(strings.TrimSpace(v.GetString("inbound.receiving_domain")))
	if receivingDomain == "" {
		return nil, fmt.Errorf("inbound.receiving_domain must not be empty")
	}
	if strings.Contains(receivingDomain, "@") {
		return nil, fmt.Errorf("inbound.receiving_domain must be a bare domain, got %q", receivingDomain)
	}

	defaultTTL, err := time.ParseDuration(v.GetString("bucket.default_ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid bucket.default_ttl: %w", err)
	}
	if defaultTTL < 0 {
		return nil, fmt.Errorf("bucket.default_ttl must not be negative")
	}

	recentWindow, err := time.ParseDuration(v.GetString("bucket.recent_window"))
	if err != nil {
		return nil, fmt.Errorf("invalid bucket.recent_window: %w", err)
	}

	cleanupInterval, err := time.ParseDuration(v.GetString("bucket.cleanup_interval"))
	if err != nil || cleanupInterval <= 0 {
		cleanupInterval = time.Hour
	}

	historyLimit := v.GetInt("bucket.history_limit")
	if historyLimit <= 0 {
		historyLimit = 100
	}

	pageSize := v.GetInt("bucket.page_size")
	if pageSize <= 0 {
		pageSize = 50
	}

	maxBody := v.GetInt64("inbound.max_body_bytes")
	if maxBody <= 0 {
		maxBody = 20 * 1024 * 1024
	}

	corsOrigins := parseList(v.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	connMaxLifetime, err := time.ParseDuration(v.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	dbType := strings.ToLower(v.GetString("database.type"))
	switch dbType {
	case "", "mysql", "postgres", "postgresql":
	default:
		return nil, fmt.Errorf("unsupported database.type %q (supported: mysql, postgres)", dbType)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		Inbound: InboundConfig{
			ReceivingDomain: receivingDomain,
			MaxBodyBytes:    maxBody,
			RateLimit:       v.GetFloat64("inbound.rate_limit"),
			RateBurst:       v.GetInt("inbound.rate_burst"),
		},
		Bucket: BucketConfig{
			DefaultTTL:      defaultTTL,
			HistoryLimit:    historyLimit,
			PageSize:        pageSize,
			RecentWindow:    recentWindow,
			CleanupInterval: cleanupInterval,
		},
		SMTP: SMTPConfig{
			Enabled:  v.GetBool("smtp.enabled"),
			BindAddr: v.GetString("smtp.bind_addr"),
			Domain:   v.GetString("smtp.domain"),
			MaxConns: v.GetInt("smtp.max_conns"),
			ConnRate: v.GetInt("smtp.conn_rate"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
		},
		Database: DatabaseConfig{
			Type:            dbType,
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
	}

	return cfg, nil
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
// 注意：
//   - 如果文件不存在，静默失败（.env 是可选的）
//   - 已存在的环境变量不会被覆盖
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
