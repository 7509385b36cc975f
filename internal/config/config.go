// Package config provides configuration management for constellation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/thebtf/constellation/internal/cluster"
	"github.com/thebtf/constellation/internal/graph"
	"github.com/thebtf/constellation/internal/ingest"
	"github.com/thebtf/constellation/pkg/similarity"
)

const (
	// DefaultListenAddr is where serve listens unless configured otherwise.
	DefaultListenAddr = "127.0.0.1:7878"

	// DefaultLogLevel is the zerolog level name used by default.
	DefaultLogLevel = "info"

	// DefaultInsertBurst is the per-client burst for node inserts.
	DefaultInsertBurst = 20
)

// Setting keys, shared by settings files and the environment.
const (
	KeyThreshold      = "CONSTELLATION_THRESHOLD"
	KeyWeightKeyword  = "CONSTELLATION_WEIGHT_KEYWORD"
	KeyWeightCategory = "CONSTELLATION_WEIGHT_CATEGORY"
	KeyWeightContent  = "CONSTELLATION_WEIGHT_CONTENT"
	KeyPruning        = "CONSTELLATION_PRUNING"
	KeyPruneMinNodes  = "CONSTELLATION_PRUNE_MIN_NODES"
	KeySampleSize     = "CONSTELLATION_SAMPLE_SIZE"
	KeyCollection     = "CONSTELLATION_COLLECTION"
	KeyListenAddr     = "CONSTELLATION_LISTEN_ADDR"
	KeyLogLevel       = "CONSTELLATION_LOG_LEVEL"
	KeyRedactSecrets  = "CONSTELLATION_REDACT_SECRETS"
	KeyInsertRate     = "CONSTELLATION_INSERT_RATE"
	KeyInsertBurst    = "CONSTELLATION_INSERT_BURST"
)

// ErrInvalid is returned when configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the application configuration.
type Config struct {
	// Clustering settings
	Weights       similarity.Weights
	Threshold     float64 `validate:"gte=0,lte=1"`
	Pruning       string  `validate:"oneof=auto off always"`
	PruneMinNodes int     `validate:"gte=0"`

	// Analysis settings
	SampleSize int `validate:"gte=1"`

	// Ingest settings
	Collection    string `validate:"required"`
	RedactSecrets bool

	// Server settings
	ListenAddr  string  `validate:"required,hostname_port"`
	LogLevel    string  `validate:"oneof=trace debug info warn error disabled"`
	InsertRate  float64 `validate:"gte=0"`
	InsertBurst int     `validate:"gte=1"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Threshold:     cluster.DefaultThreshold,
		Weights:       similarity.DefaultWeights(),
		Pruning:       string(cluster.PruneAuto),
		PruneMinNodes: cluster.DefaultPruneMinNodes,
		SampleSize:    graph.DefaultSampleSize,
		Collection:    ingest.DefaultCollection,
		RedactSecrets: true,
		ListenAddr:    DefaultListenAddr,
		LogLevel:      DefaultLogLevel,
		InsertBurst:   DefaultInsertBurst,
	}
}

// Load builds a Config with Read and validates it.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read builds a Config from defaults, the settings file at path (if path is
// not empty) and CONSTELLATION_* environment variables, in that order,
// without validating it. Callers that apply further overrides validate
// afterwards. Settings files are JSON, or YAML when the extension is .yaml
// or .yml.
func Read(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		settings, err := readSettings(path)
		if err != nil {
			return nil, err
		}
		if err := cfg.apply(settings); err != nil {
			return nil, fmt.Errorf("settings %s: %w", filepath.Base(path), err)
		}
	}

	if err := cfg.apply(envSettings(os.Environ())); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	return cfg, nil
}

func readSettings(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var settings map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &settings)
	default:
		err = json.Unmarshal(data, &settings)
	}
	if err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", filepath.Base(path), err)
	}
	return settings, nil
}

// envSettings picks the CONSTELLATION_* entries out of an environment list.
func envSettings(environ []string) map[string]any {
	settings := make(map[string]any)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "CONSTELLATION_") {
			continue
		}
		settings[key] = value
	}
	return settings
}

// apply maps settings to config fields. Values may be typed (from JSON or
// YAML) or strings (from the environment).
func (c *Config) apply(settings map[string]any) error {
	floats := map[string]*float64{
		KeyThreshold:      &c.Threshold,
		KeyWeightKeyword:  &c.Weights.Keyword,
		KeyWeightCategory: &c.Weights.Category,
		KeyWeightContent:  &c.Weights.Content,
		KeyInsertRate:     &c.InsertRate,
	}
	for key, dst := range floats {
		v, ok := settings[key]
		if !ok {
			continue
		}
		f, err := toFloat(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = f
	}

	ints := map[string]*int{
		KeyPruneMinNodes: &c.PruneMinNodes,
		KeySampleSize:    &c.SampleSize,
		KeyInsertBurst:   &c.InsertBurst,
	}
	for key, dst := range ints {
		v, ok := settings[key]
		if !ok {
			continue
		}
		f, err := toFloat(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if f != float64(int(f)) {
			return fmt.Errorf("%s: %v is not an integer", key, v)
		}
		*dst = int(f)
	}

	if v, ok := settings[KeyRedactSecrets]; ok {
		b, err := toBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", KeyRedactSecrets, err)
		}
		c.RedactSecrets = b
	}

	strs := map[string]*string{
		KeyPruning:    &c.Pruning,
		KeyCollection: &c.Collection,
		KeyListenAddr: &c.ListenAddr,
		KeyLogLevel:   &c.LogLevel,
	}
	for key, dst := range strs {
		if v, ok := settings[key].(string); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	c.Pruning = strings.ToLower(c.Pruning)
	c.LogLevel = strings.ToLower(c.LogLevel)
	return nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, fmt.Errorf("invalid boolean %q", b)
		}
		return parsed, nil
	default:
		return false, fmt.Errorf("unexpected type %T", v)
	}
}

var validate = validator.New()

// Validate checks field ranges and the similarity weight invariants.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, formatValidationError(err))
	}
	if err := c.Weights.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// formatValidationError turns validator errors into readable messages.
func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	msgs := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		msgs = append(msgs, formatFieldError(e))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := strings.ToLower(e.Field())

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// ClusterConfig converts the settings into a cluster manager configuration.
func (c *Config) ClusterConfig() cluster.Config {
	return cluster.Config{
		Threshold:     c.Threshold,
		Weights:       c.Weights,
		Pruning:       cluster.PruningMode(c.Pruning),
		PruneMinNodes: c.PruneMinNodes,
	}
}
