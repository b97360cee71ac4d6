package config

import "time"

// Config is the root configuration schema.
type Config struct {
	Global        GlobalConfig        `mapstructure:"global"`
	Source        WorkspaceConfig     `mapstructure:"source"`
	Destination   DestinationConfig   `mapstructure:"destination"`
	Notion        NotionConfig        `mapstructure:"notion"`
	Dump          DumpConfig          `mapstructure:"dump"`
	Repair        RepairConfig        `mapstructure:"repair"`
	Push          PushConfig          `mapstructure:"push"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

type GlobalConfig struct {
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"` // json or console
	LockFile         string        `mapstructure:"lock_file"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	ConfigPassphrase string        `mapstructure:"config_passphrase"` // optional; may come from env
}

// WorkspaceConfig identifies one workspace account.
type WorkspaceConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type DestinationConfig struct {
	APIKey       string `mapstructure:"api_key"`
	ParentPageID string `mapstructure:"parent_page_id"`
}

type NotionConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Version string        `mapstructure:"version"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type DumpConfig struct {
	Dir          string   `mapstructure:"dir"`
	DatabaseIDs  []string `mapstructure:"database_ids"`
	AllDatabases bool     `mapstructure:"all_databases"`
	CopyData     bool     `mapstructure:"copy_data"`
	Compression  string   `mapstructure:"compression"` // none, gzip, zstd
}

type RepairConfig struct {
	Pace       time.Duration `mapstructure:"pace"`
	AutoRepair bool          `mapstructure:"auto_repair"`
}

type PushConfig struct {
	Prefix        string `mapstructure:"prefix"`
	Concurrency   int    `mapstructure:"concurrency"`
	SkipExisting  bool   `mapstructure:"skip_existing"`
	Encrypt       bool   `mapstructure:"encrypt"`
	EncryptionKey string `mapstructure:"encryption_key"`
}

type StorageConfig struct {
	Backend string     `mapstructure:"backend"` // local, s3
	Local   LocalStore `mapstructure:"local"`
	S3      S3Store    `mapstructure:"s3"`
}

type LocalStore struct {
	Path string `mapstructure:"path"`
}

type S3Store struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKey       string `mapstructure:"access_key"`
	SecretKey       string `mapstructure:"secret_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	SessionToken    string `mapstructure:"session_token"`
	TLSInsecureSkip bool   `mapstructure:"tls_insecure_skip"`
}

type NotificationsConfig struct {
	Webhooks []WebhookConfig `mapstructure:"webhooks"`
}

type WebhookConfig struct {
	Name    string            `mapstructure:"name"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}
