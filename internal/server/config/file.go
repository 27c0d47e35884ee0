package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/pkgindex/internal/timex"
	"github.com/pelletier/go-toml/v2"
)

// FileConfig is the on-disk shape of the configuration, in JSON or TOML.
// Durations accept strings such as "90s"; JSON also takes nanoseconds.
// Keys left out of the file keep their current value.
type FileConfig struct {
	EndpointAddrGRPC            string         `json:"endpoint_addr_grpc" toml:"endpoint_addr_grpc"`
	DatabaseDSN                 string         `json:"database_dsn" toml:"database_dsn"`
	DataDir                     string         `json:"data_dir" toml:"data_dir"`
	SecretKey                   string         `json:"secret_key" toml:"secret_key"`
	AccessTokenValidityDuration timex.Duration `json:"access_token_validity_duration" toml:"access_token_validity_duration"`
	PasswordHash                string         `json:"password_hash" toml:"password_hash"`
	LogLevel                    string         `json:"log_level" toml:"log_level"`
	BlobBackend                 string         `json:"blob_backend" toml:"blob_backend"`
	S3RootUser                  string         `json:"s3_root_user" toml:"s3_root_user"`
	S3RootPassword              string         `json:"s3_root_password" toml:"s3_root_password"`
	S3Bucket                    string         `json:"s3_bucket" toml:"s3_bucket"`
	S3Region                    string         `json:"s3_region" toml:"s3_region"`
	S3BaseEndpoint              string         `json:"s3_base_endpoint" toml:"s3_base_endpoint"`
	MirrorBreakerThreshold      int64          `json:"mirror_breaker_threshold" toml:"mirror_breaker_threshold"`
	MirrorBreakerInterval       timex.Duration `json:"mirror_breaker_interval" toml:"mirror_breaker_interval"`
}

// parseFile overlays the file at path onto config. Files ending in .toml
// are read as TOML, everything else as JSON.
func parseFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	c := &FileConfig{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, c)
	} else {
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	c.apply(config)
	return nil
}

func (c *FileConfig) apply(config *Config) {
	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.DataDir, c.DataDir)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.PasswordHash, c.PasswordHash)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.BlobBackend, c.BlobBackend)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)

	if c.AccessTokenValidityDuration.Duration != 0 {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	}
	if c.MirrorBreakerThreshold != 0 {
		config.MirrorBreakerThreshold = c.MirrorBreakerThreshold
	}
	if c.MirrorBreakerInterval.Duration != 0 {
		config.MirrorBreakerInterval = c.MirrorBreakerInterval.Duration
	}
}

// File returns c in its on-disk shape. Secrets are replaced by "***".
func (c *Config) File() FileConfig {
	redact := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	return FileConfig{
		EndpointAddrGRPC:            c.EndpointAddrGRPC,
		DatabaseDSN:                 redact(c.DatabaseDSN),
		DataDir:                     c.DataDir,
		SecretKey:                   redact(c.SecretKey),
		AccessTokenValidityDuration: timex.Duration{Duration: c.AccessTokenValidityDuration},
		PasswordHash:                c.PasswordHash,
		LogLevel:                    c.LogLevel,
		BlobBackend:                 c.BlobBackend,
		S3RootUser:                  c.S3RootUser,
		S3RootPassword:              redact(c.S3RootPassword),
		S3Bucket:                    c.S3Bucket,
		S3Region:                    c.S3Region,
		S3BaseEndpoint:              c.S3BaseEndpoint,
		MirrorBreakerThreshold:      c.MirrorBreakerThreshold,
		MirrorBreakerInterval:       timex.Duration{Duration: c.MirrorBreakerInterval},
	}
}
