package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
)

// StorageInfo locates the source files of a job.
type StorageInfo struct {
	Bucket    string `mapstructure:"bucket_location" json:"bucketLocation"`
	AccessKey string `mapstructure:"AWS_ACCESS_KEY_ID" json:"accessKeyId,omitempty"`
	SecretKey string `mapstructure:"AWS_SECRET_KEY" json:"secretKey,omitempty"`
	Endpoint  string `mapstructure:"endpoint" json:"endpoint,omitempty"`
	Region    string `mapstructure:"region" json:"region,omitempty"`
}

// ImportConfig is the validated form of a job's configuration bag.
type ImportConfig struct {
	OrganizationID uuid.UUID   `json:"organizationId"`
	ApplicationID  uuid.UUID   `json:"applicationId"`
	CollectionName string      `json:"collectionName,omitempty"`
	Storage        StorageInfo `json:"storage"`
}

// Redacted returns a copy without credentials.
func (c ImportConfig) Redacted() ImportConfig {
	if c.Storage.AccessKey != "" {
		c.Storage.AccessKey = "****"
	}
	if c.Storage.SecretKey != "" {
		c.Storage.SecretKey = "****"
	}
	return c
}

type importBag struct {
	OrganizationID string `mapstructure:"organizationId"`
	ApplicationID  string `mapstructure:"applicationId"`
	CollectionName string `mapstructure:"collectionName"`
	Properties     struct {
		StorageInfo StorageInfo `mapstructure:"storage_info"`
	} `mapstructure:"properties"`
}

// ParseImportConfig validates an untyped configuration bag. Every problem
// is reported, not just the first.
func ParseImportConfig(bag map[string]any) (ImportConfig, error) {
	var raw importBag
	if err := mapstructure.Decode(bag, &raw); err != nil {
		return ImportConfig{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	var (
		cfg  ImportConfig
		errs *multierror.Error
	)
	cfg.OrganizationID, errs = parseID("organizationId", raw.OrganizationID, errs)
	cfg.ApplicationID, errs = parseID("applicationId", raw.ApplicationID, errs)
	cfg.CollectionName = strings.TrimSpace(raw.CollectionName)
	cfg.Storage = raw.Properties.StorageInfo
	cfg.Storage.Bucket = strings.TrimSpace(cfg.Storage.Bucket)

	if cfg.Storage.Bucket == "" {
		errs = multierror.Append(errs, errors.New("properties.storage_info.bucket_location is required"))
	}
	if (cfg.Storage.AccessKey == "") != (cfg.Storage.SecretKey == "") {
		errs = multierror.Append(errs, errors.New("AWS_ACCESS_KEY_ID and AWS_SECRET_KEY must be set together"))
	}

	if err := errs.ErrorOrNil(); err != nil {
		return ImportConfig{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, nil
}

func parseID(field, s string, errs *multierror.Error) (uuid.UUID, *multierror.Error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, multierror.Append(errs, fmt.Errorf("%s is required", field))
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, multierror.Append(errs, fmt.Errorf("%s: %w", field, err))
	}
	return id, errs
}
