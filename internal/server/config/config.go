// Package config handles configuration for the server and the admin tool,
// including defaults, a JSON or TOML file overlay, and command-line flags.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/pkgindex/internal/common"
	"github.com/dmitrijs2005/pkgindex/internal/cryptox"
	"github.com/dmitrijs2005/pkgindex/internal/flagx"
)

// Blob backends.
const (
	BlobBackendFS = "fs"
	BlobBackendS3 = "s3"
)

// Config holds runtime settings.
//
// Fields:
//   - EndpointAddrGRPC: bind address of the gRPC endpoint.
//   - DatabaseDSN: PostgreSQL DSN (pgx) of the record store. Empty keeps
//     records in memory.
//   - DataDir: root of the data tree (index directories, documentation,
//     release files of the fs backend).
//   - SecretKey: HMAC secret for signing JWTs (HS256). Do not use test defaults in prod.
//   - AccessTokenValidityDuration: upload token lifetime.
//   - PasswordHash: "sha256" or "argon2id" for newly set passwords.
//   - LogLevel: debug, info, warn or error.
//   - BlobBackend: "fs" or "s3".
//   - S3RootUser / S3RootPassword / S3Bucket / S3Region / S3BaseEndpoint:
//     object storage settings of the s3 backend.
//   - MirrorBreakerThreshold / MirrorBreakerInterval: consecutive upstream
//     failures that open a mirror's breaker, and the first retry delay.
type Config struct {
	EndpointAddrGRPC            string
	DatabaseDSN                 string
	DataDir                     string
	SecretKey                   string
	AccessTokenValidityDuration time.Duration
	PasswordHash                string
	LogLevel                    string
	BlobBackend                 string
	S3RootUser                  string
	S3RootPassword              string
	S3Bucket                    string
	S3Region                    string
	S3BaseEndpoint              string
	MirrorBreakerThreshold      int64
	MirrorBreakerInterval       time.Duration
}

// LoadDefaults populates Config with development defaults.
// NOTE: These values are insecure for production and should be overridden.
func (c *Config) LoadDefaults() {
	c.EndpointAddrGRPC = ":50051"
	c.DatabaseDSN = ""
	c.DataDir = "./data"
	c.SecretKey = "secretKey"
	c.AccessTokenValidityDuration = 60 * time.Minute
	c.PasswordHash = cryptox.AlgoSHA256
	c.LogLevel = "info"
	c.BlobBackend = BlobBackendFS
	c.S3RootUser = "admin"
	c.S3RootPassword = "secretpassword"
	c.S3Bucket = "releases"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
	c.MirrorBreakerThreshold = 5
	c.MirrorBreakerInterval = 30 * time.Second
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var msgs []string
	switch c.PasswordHash {
	case cryptox.AlgoSHA256, cryptox.AlgoArgon2id:
	default:
		msgs = append(msgs, fmt.Sprintf("unknown password_hash %q", c.PasswordHash))
	}
	switch c.BlobBackend {
	case BlobBackendFS, BlobBackendS3:
	default:
		msgs = append(msgs, fmt.Sprintf("unknown blob_backend %q", c.BlobBackend))
	}
	if c.DataDir == "" {
		msgs = append(msgs, "data_dir must be set")
	}
	if c.MirrorBreakerThreshold <= 0 {
		msgs = append(msgs, "mirror_breaker_threshold must be positive")
	}
	return common.NewValidationError(msgs)
}

// Load applies defaults, then the config file at path (if any), then the
// flags found in args.
func Load(path string, args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if path != "" {
		if err := parseFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig is Load driven by the process arguments: the file comes from
// -c/-config.
func LoadConfig() (*Config, error) {
	return Load(flagx.ConfigFileFlag(), os.Args[1:])
}
