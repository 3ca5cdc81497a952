package qdrant

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Default collection layout: one profile collection per customer corpus and
// two shared knowledge collections. 1536-dim cosine matches the embedding
// model used by the message-generation collaborator.
var DefaultCollections = []string{
	"customer_profiles",
	"medical_knowledge",
	"consultation_patterns",
}

const DefaultVectorDim = 1536

type Config struct {
	URL         string
	Collections []string
	VectorDim   int
}

type ConfigErrorCode string

const (
	ConfigErrorMissingURL         ConfigErrorCode = "missing_url"
	ConfigErrorInvalidURL         ConfigErrorCode = "invalid_url"
	ConfigErrorMissingCollections ConfigErrorCode = "missing_collections"
	ConfigErrorInvalidVectorDim   ConfigErrorCode = "invalid_vector_dim"
)

type ConfigError struct {
	Code  ConfigErrorCode
	Value string
	Cause error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid qdrant config"
	}
	switch e.Code {
	case ConfigErrorMissingURL:
		return "QDRANT_URL is required"
	case ConfigErrorInvalidURL:
		return fmt.Sprintf(
			"invalid QDRANT_URL=%q; expected absolute URL like http://qdrant:6333",
			e.Value,
		)
	case ConfigErrorMissingCollections:
		return "QDRANT_COLLECTIONS must name at least one collection"
	case ConfigErrorInvalidVectorDim:
		return fmt.Sprintf("invalid QDRANT_VECTOR_DIM=%q; expected positive integer", e.Value)
	default:
		return "invalid qdrant config"
	}
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func ResolveConfigFromEnv() (Config, error) {
	cfg := Config{
		URL:         strings.TrimSpace(os.Getenv("QDRANT_URL")),
		Collections: DefaultCollections,
		VectorDim:   DefaultVectorDim,
	}

	if raw := strings.TrimSpace(os.Getenv("QDRANT_COLLECTIONS")); raw != "" {
		parts := strings.Split(raw, ",")
		collections := make([]string, 0, len(parts))
		for _, p := range parts {
			if name := strings.TrimSpace(p); name != "" {
				collections = append(collections, name)
			}
		}
		cfg.Collections = collections
	}

	if raw := strings.TrimSpace(os.Getenv("QDRANT_VECTOR_DIM")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, &ConfigError{
				Code:  ConfigErrorInvalidVectorDim,
				Value: raw,
				Cause: err,
			}
		}
		cfg.VectorDim = parsed
	}

	if err := ValidateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func ValidateConfig(cfg Config) error {
	if cfg.URL == "" {
		return &ConfigError{Code: ConfigErrorMissingURL}
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil || strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
		return &ConfigError{
			Code:  ConfigErrorInvalidURL,
			Value: cfg.URL,
			Cause: err,
		}
	}
	if len(cfg.Collections) == 0 {
		return &ConfigError{Code: ConfigErrorMissingCollections}
	}
	if cfg.VectorDim <= 0 {
		return &ConfigError{
			Code:  ConfigErrorInvalidVectorDim,
			Value: strconv.Itoa(cfg.VectorDim),
		}
	}
	return nil
}
