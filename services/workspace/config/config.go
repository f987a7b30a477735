// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the changegraph service configuration.
//
// Configuration is resolved in three layers, later layers winning:
//
//  1. DefaultConfig
//  2. the YAML file passed to Load (optional)
//  3. CHANGEGRAPH_* environment variables, including those from a .env file
//     in the working directory
//
// The result is validated with struct tags before it is returned.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/changegraph/pkg/logging"
	"github.com/AleutianAI/changegraph/services/workspace/dal"
	"github.com/AleutianAI/changegraph/services/workspace/layerstore"
	"github.com/AleutianAI/changegraph/services/workspace/telemetry"
)

// ErrInvalid wraps every validation failure returned by Load and Validate.
var ErrInvalid = errors.New("invalid configuration")

// Config is the full service configuration.
type Config struct {
	// Tenancy is recorded on every layer written by this process.
	Tenancy string `yaml:"tenancy" validate:"required"`

	// Actor is the default actor recorded on written layers.
	Actor string `yaml:"actor" validate:"required"`

	Graph      GraphConfig       `yaml:"graph"`
	Store      layerstore.Config `yaml:"store"`
	ChangeSets ChangeSetConfig   `yaml:"changesets"`
	Retry      dal.Retry         `yaml:"retry"`
	Workers    WorkerConfig      `yaml:"workers"`
	HTTP       HTTPConfig        `yaml:"http"`
	Logging    logging.Config    `yaml:"logging"`
	Telemetry  telemetry.Config  `yaml:"telemetry"`
}

// GraphConfig controls snapshot partitioning.
type GraphConfig struct {
	// SplitThreshold is the maximum node count of a partition. Zero keeps
	// every snapshot in a single partition.
	SplitThreshold int `yaml:"split_threshold" validate:"min=0"`
}

// ChangeSetConfig locates the change-set directory.
type ChangeSetConfig struct {
	SQLitePath string `yaml:"sqlite_path" validate:"required"`
}

// WorkerConfig sizes the CPU worker pool.
type WorkerConfig struct {
	// Size is the number of concurrent CPU-bound jobs. Zero uses GOMAXPROCS.
	Size int `yaml:"size" validate:"min=0"`
}

// HTTPConfig configures the inspection API.
type HTTPConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"min=0"`
}

// DefaultConfig returns a configuration for a single local process.
func DefaultConfig() Config {
	return Config{
		Tenancy:    "local",
		Actor:      "changegraph",
		Graph:      GraphConfig{SplitThreshold: 4096},
		Store:      layerstore.DefaultConfig(),
		ChangeSets: ChangeSetConfig{SQLitePath: "./data/changesets.db"},
		Retry:      dal.Retry{Attempts: dal.DefaultRetryAttempts, Delay: dal.DefaultRetryDelay},
		HTTP:       HTTPConfig{Addr: ":8090", ShutdownTimeout: 10 * time.Second},
		Logging:    logging.Config{Level: "info", Service: "changegraph"},
		Telemetry:  telemetry.DefaultConfig(),
	}
}

// Load resolves the configuration.
//
// Description:
//
//	Starts from DefaultConfig, decodes path over it when path is not
//	empty, loads .env if present, applies CHANGEGRAPH_* overrides and
//	validates the result.
//
// Inputs:
//
//	path - YAML file. Empty skips the file layer.
//
// Outputs:
//
//	Config - The resolved configuration.
//	error - Read or decode failure, a malformed override, or ErrInvalid.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	// A missing .env is the common case.
	_ = godotenv.Load()

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Write encodes cfg as YAML to path, creating or truncating it.
func Write(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

var validate = validator.New()

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Store.Backend == "gcs" && c.Store.GCS.Bucket == "" {
		return fmt.Errorf("%w: store.gcs.bucket is required for the gcs backend", ErrInvalid)
	}
	if c.Store.Backend == "badger" && !c.Store.Badger.InMemory && c.Store.Badger.Path == "" {
		return fmt.Errorf("%w: store.badger.path is required unless in_memory is set", ErrInvalid)
	}
	return nil
}

// ----- environment overrides -----

type override struct {
	key   string
	apply func(string) error
}

func overrides(c *Config) []override {
	str := func(dst *string) func(string) error {
		return func(v string) error { *dst = v; return nil }
	}
	num := func(dst *int) func(string) error {
		return func(v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		}
	}
	dur := func(dst *time.Duration) func(string) error {
		return func(v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			*dst = d
			return nil
		}
	}
	ratio := func(dst *float64) func(string) error {
		return func(v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return err
			}
			*dst = f
			return nil
		}
	}
	boolean := func(dst *bool) func(string) error {
		return func(v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			*dst = b
			return nil
		}
	}

	return []override{
		{"CHANGEGRAPH_TENANCY", str(&c.Tenancy)},
		{"CHANGEGRAPH_ACTOR", str(&c.Actor)},
		{"CHANGEGRAPH_SPLIT_THRESHOLD", num(&c.Graph.SplitThreshold)},
		{"CHANGEGRAPH_STORE_BACKEND", str(&c.Store.Backend)},
		{"CHANGEGRAPH_BADGER_PATH", str(&c.Store.Badger.Path)},
		{"CHANGEGRAPH_BADGER_IN_MEMORY", boolean(&c.Store.Badger.InMemory)},
		{"CHANGEGRAPH_GCS_BUCKET", str(&c.Store.GCS.Bucket)},
		{"CHANGEGRAPH_GCS_PREFIX", str(&c.Store.GCS.Prefix)},
		{"CHANGEGRAPH_GCS_CREDENTIALS_FILE", str(&c.Store.GCS.CredentialsFile)},
		{"CHANGEGRAPH_SQLITE_PATH", str(&c.ChangeSets.SQLitePath)},
		{"CHANGEGRAPH_RETRY_ATTEMPTS", num(&c.Retry.Attempts)},
		{"CHANGEGRAPH_RETRY_DELAY", dur(&c.Retry.Delay)},
		{"CHANGEGRAPH_WORKERS", num(&c.Workers.Size)},
		{"CHANGEGRAPH_HTTP_ADDR", str(&c.HTTP.Addr)},
		{"CHANGEGRAPH_LOG_LEVEL", str(&c.Logging.Level)},
		{"CHANGEGRAPH_LOG_DIR", str(&c.Logging.Dir)},
		{"CHANGEGRAPH_LOG_JSON", boolean(&c.Logging.JSON)},
		{"CHANGEGRAPH_ENV", str(&c.Telemetry.Environment)},
		{"CHANGEGRAPH_TRACE_SAMPLE_RATIO", ratio(&c.Telemetry.SampleRatio)},
		{"OTEL_TRACES_EXPORTER", str(&c.Telemetry.TraceExporter)},
		{"OTEL_METRICS_EXPORTER", str(&c.Telemetry.MetricExporter)},
		{"OTEL_EXPORTER_OTLP_ENDPOINT", str(&c.Telemetry.OTLPEndpoint)},
	}
}

func applyEnv(c *Config) error {
	for _, o := range overrides(c) {
		v, ok := os.LookupEnv(o.key)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(v); err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, o.key, v, err)
		}
	}
	return nil
}
