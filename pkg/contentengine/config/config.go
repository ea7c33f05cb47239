// Package config builds a ready-to-serve engine from environment
// variables and programmatic options.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/appforge/content-engine/pkg/contentengine"
	"github.com/appforge/content-engine/pkg/contentengine/audit"
	auditpg "github.com/appforge/content-engine/pkg/contentengine/audit/postgres"
	blobmemory "github.com/appforge/content-engine/pkg/contentengine/blob/memory"
	blobs3 "github.com/appforge/content-engine/pkg/contentengine/blob/s3"
	"github.com/appforge/content-engine/pkg/contentengine/schema"
	"github.com/appforge/content-engine/pkg/contentengine/store/dynamo"
	storememory "github.com/appforge/content-engine/pkg/contentengine/store/memory"
	"github.com/appforge/content-engine/pkg/contentengine/validation"
)

// ServerConfig is the full engine configuration.
type ServerConfig struct {
	Port        string `env:"PORT" env-default:"8080"`
	Environment string `env:"ENVIRONMENT" env-default:"development"`
	JWTSecret   string `env:"JWT_SECRET" env-default:""`

	// Content store: "memory" or "dynamo".
	StoreType      string `env:"CONTENT_STORE" env-default:"memory"`
	DynamoTable    string `env:"CONTENT_DYNAMO_TABLE" env-default:""`
	DynamoRegion   string `env:"AWS_REGION" env-default:"us-east-1"`
	DynamoEndpoint string `env:"CONTENT_DYNAMO_ENDPOINT" env-default:""`

	// Blob storage for exports: "memory" or "s3".
	BlobType        string `env:"EXPORT_BLOB_STORE" env-default:"memory"`
	S3Bucket        string `env:"AWS_S3_BUCKET" env-default:""`
	S3Region        string `env:"AWS_S3_REGION" env-default:"us-east-1"`
	S3Endpoint      string `env:"AWS_S3_ENDPOINT" env-default:""`
	S3AccessKeyID   string `env:"AWS_ACCESS_KEY_ID" env-default:""`
	S3SecretKey     string `env:"AWS_SECRET_ACCESS_KEY" env-default:""`
	S3UsePathStyle  bool   `env:"AWS_S3_USE_PATH_STYLE" env-default:"false"`
	PresignDuration int    `env:"EXPORT_URL_TTL_SECONDS" env-default:"3600"`

	// Audit store: "memory" or "postgres".
	AuditStoreType string `env:"AUDIT_STORE" env-default:"memory"`
	AuditDBURL     string `env:"AUDIT_DATABASE_URL" env-default:""`
	AuditTier      string `env:"AUDIT_TIER" env-default:"enterprise"`

	// Path to the JSON table catalog resolved into resource schemas.
	CatalogPath string `env:"SCHEMA_CATALOG_PATH" env-default:""`
}

// Option applies configuration on top of defaults.
type Option func(*ServerConfig) error

// WithEnv reads configuration from the environment.
func WithEnv() Option {
	return func(c *ServerConfig) error {
		return cleanenv.ReadEnv(c)
	}
}

// Load constructs a ServerConfig from defaults plus options.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:            "8080",
		Environment:     "development",
		StoreType:       "memory",
		BlobType:        "memory",
		AuditStoreType:  "memory",
		AuditTier:       "enterprise",
		DynamoRegion:    "us-east-1",
		S3Region:        "us-east-1",
		PresignDuration: 3600,
	}
}

// Validate checks the configuration for consistency.
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	switch c.StoreType {
	case "memory":
	case "dynamo":
		if c.DynamoTable == "" {
			return errors.New("CONTENT_DYNAMO_TABLE is required when using the dynamo store")
		}
	default:
		return fmt.Errorf("unknown content store %q (use 'memory' or 'dynamo')", c.StoreType)
	}
	switch c.BlobType {
	case "memory":
	case "s3":
		if c.S3Bucket == "" {
			return errors.New("AWS_S3_BUCKET is required when using the s3 blob store")
		}
	default:
		return fmt.Errorf("unknown blob store %q (use 'memory' or 's3')", c.BlobType)
	}
	switch c.AuditStoreType {
	case "memory":
	case "postgres":
		if c.AuditDBURL == "" {
			return errors.New("AUDIT_DATABASE_URL is required when using the postgres audit store")
		}
	default:
		return fmt.Errorf("unknown audit store %q (use 'memory' or 'postgres')", c.AuditStoreType)
	}
	if c.Environment == "production" && c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required in production")
	}
	return nil
}

// BuildService assembles the content service from the configuration.
func (c *ServerConfig) BuildService(ctx context.Context) (contentengine.Service, error) {
	store, err := c.buildStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build content store: %w", err)
	}
	blobs, err := c.buildBlobStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build blob store: %w", err)
	}
	auditLogger, err := c.buildAuditLogger(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build audit logger: %w", err)
	}
	resolver, err := c.buildResolver()
	if err != nil {
		return nil, fmt.Errorf("failed to build schema resolver: %w", err)
	}

	return contentengine.New(
		contentengine.WithStore(store),
		contentengine.WithResolver(resolver),
		contentengine.WithValidator(validation.NewEngine()),
		contentengine.WithAuditLogger(auditLogger),
		contentengine.WithBlobStore(blobs),
	)
}

func (c *ServerConfig) buildStore(ctx context.Context) (contentengine.Store, error) {
	switch c.StoreType {
	case "dynamo":
		return dynamo.New(ctx, dynamo.Config{
			Region:   c.DynamoRegion,
			Table:    c.DynamoTable,
			Endpoint: c.DynamoEndpoint,
		})
	default:
		return storememory.New(), nil
	}
}

func (c *ServerConfig) buildBlobStore(ctx context.Context) (contentengine.BlobStore, error) {
	switch c.BlobType {
	case "s3":
		return blobs3.New(ctx, blobs3.Config{
			Region:          c.S3Region,
			Bucket:          c.S3Bucket,
			AccessKeyID:     c.S3AccessKeyID,
			SecretAccessKey: c.S3SecretKey,
			Endpoint:        c.S3Endpoint,
			UsePathStyle:    c.S3UsePathStyle,
			PresignDuration: c.PresignDuration,
		})
	default:
		return blobmemory.New(), nil
	}
}

func (c *ServerConfig) buildAuditLogger(ctx context.Context) (*audit.Logger, error) {
	var store audit.Store
	switch c.AuditStoreType {
	case "postgres":
		pool, err := pgxpool.New(ctx, c.AuditDBURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to audit database: %w", err)
		}
		if _, err := pool.Exec(ctx, auditpg.Schema); err != nil {
			return nil, fmt.Errorf("failed to apply audit schema: %w", err)
		}
		store = auditpg.NewWithPool(pool)
	default:
		store = audit.NewMemoryStore(0)
	}
	return audit.NewTiered(strings.ToLower(c.AuditTier), store), nil
}

func (c *ServerConfig) buildResolver() (*schema.Resolver, error) {
	var catalog schema.Catalog
	if c.CatalogPath != "" {
		raw, err := os.ReadFile(c.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog: %w", err)
		}
		if err := json.Unmarshal(raw, &catalog); err != nil {
			return nil, fmt.Errorf("failed to parse catalog: %w", err)
		}
	}
	return schema.NewResolver(catalog), nil
}
