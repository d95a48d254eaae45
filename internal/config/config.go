package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Anchor   AnchorConfig   `mapstructure:"anchor"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	BondSettled string `mapstructure:"bond_settled"`
	ClaimResult string `mapstructure:"claim_result"`
}

// AnchorConfig 链上锚定账本（托管合约）配置
type AnchorConfig struct {
	RPCURL                string `mapstructure:"rpc_url"`
	ContractAddress       string `mapstructure:"contract_address"`
	PrivateKey            string `mapstructure:"private_key"`
	ChainID               int64  `mapstructure:"chain_id"`
	ConfirmTimeoutSeconds int    `mapstructure:"confirm_timeout_seconds"`
}

// ConfirmTimeout 链上确认超时时间
func (a *AnchorConfig) ConfirmTimeout() time.Duration {
	return time.Duration(a.ConfirmTimeoutSeconds) * time.Second
}

// BusinessConfig 业务参数
// 所有经济常量（注册赠点、质押档位、每日收益上限等）都走配置，不写死在代码里
type BusinessConfig struct {
	SignupGrant           int64 `mapstructure:"signup_grant"`            // 注册赠点
	ColdStake             int64 `mapstructure:"cold_stake"`              // 陌生人首封质押
	ReplyStake            int64 `mapstructure:"reply_stake"`             // 已有会话质押
	ReplyBonus            int64 `mapstructure:"reply_bonus"`             // 回复奖励（双方各得）
	DailyEarnCap          int64 `mapstructure:"daily_earn_cap"`          // 24小时收益上限
	ResponseWindowMinutes int   `mapstructure:"response_window_minutes"` // 债券响应窗口
	SweepIntervalSeconds  int   `mapstructure:"sweep_interval_seconds"`  // 过期清扫间隔
	SweepBatchSize        int   `mapstructure:"sweep_batch_size"`        // 单次清扫批量
	MaxRetryCount         int   `mapstructure:"max_retry_count"`         // 消息发送最大重试次数
}

// ResponseWindow 债券响应窗口时长
func (b *BusinessConfig) ResponseWindow() time.Duration {
	return time.Duration(b.ResponseWindowMinutes) * time.Minute
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}
