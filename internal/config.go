package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Embedding providers.
const (
	EmbeddingProviderNone   = "none"
	EmbeddingProviderOpenAI = "openai"
)

// Config represents the daemon configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Pipeline  PipelineConfig    `yaml:"pipeline"`
	Embedding EmbeddingConfig   `yaml:"embedding"`
	Manager   ManagerConfig     `yaml:"manager"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	if err := c.Embedding.Validate(); err != nil {
		return err
	}
	return c.Manager.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	Socket   string     `yaml:"socket"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Socket, validation.Required),
	); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds the admin HTTP server configuration. A zero port
// disables the admin surface.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Enabled reports whether the admin HTTP server should start.
func (c *HTTPConfig) Enabled() bool {
	return c.Port > 0
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Min(0), validation.Max(65535)),
	)
}

// PipelineConfig tunes the per-kiln indexing pipeline and its write queue.
type PipelineConfig struct {
	QueueSize          int           `yaml:"queue_size"`
	EnqueueTimeout     time.Duration `yaml:"enqueue_timeout"`
	Batching           bool          `yaml:"batching"`
	MaxBatchSize       int           `yaml:"max_batch_size"`
	BatchTimeout       time.Duration `yaml:"batch_timeout"`
	TransactionTimeout time.Duration `yaml:"transaction_timeout"`
	MaxRetries         int           `yaml:"max_retries"`
	EmbedBatchSize     int           `yaml:"embed_batch_size"`
	EmbedConcurrency   int           `yaml:"embed_concurrency"`
	IndexConcurrency   int           `yaml:"index_concurrency"`
}

// Validate validates the pipeline configuration.
func (c *PipelineConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.QueueSize, validation.Required, validation.Min(1)),
		validation.Field(&c.EnqueueTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.MaxBatchSize, validation.Min(1)),
		validation.Field(&c.BatchTimeout, validation.Min(time.Millisecond)),
		validation.Field(&c.TransactionTimeout, validation.Min(time.Millisecond)),
		validation.Field(&c.MaxRetries, validation.Min(0)),
		validation.Field(&c.EmbedBatchSize, validation.Min(1)),
		validation.Field(&c.EmbedConcurrency, validation.Min(1)),
		validation.Field(&c.IndexConcurrency, validation.Min(1)),
	)
}

// EmbeddingConfig holds semantic enrichment configuration.
//
// Provider controls whether block embeddings are generated:
//   - "none" (default): indexing runs without the enrichment phase.
//   - "openai": an OpenAI-compatible embeddings endpoint; APIKey must be set.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Endpoint string `yaml:"endpoint"`
}

// Validate validates the embedding configuration.
func (c *EmbeddingConfig) Validate() error {
	// Normalise empty provider to "none".
	if c.Provider == "" {
		c.Provider = EmbeddingProviderNone
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required,
			validation.In(EmbeddingProviderNone, EmbeddingProviderOpenAI)),
	); err != nil {
		return err
	}
	if c.Provider == EmbeddingProviderOpenAI && c.APIKey == "" {
		return fmt.Errorf("embedding: provider is %q but api_key is empty", EmbeddingProviderOpenAI)
	}
	return nil
}

// Enabled returns true when an embedding provider is configured.
func (c *EmbeddingConfig) Enabled() bool {
	return c.Provider != "" && c.Provider != EmbeddingProviderNone
}

// ManagerConfig tunes the open-kiln registry. An IdleTimeout of zero keeps
// kilns open until the daemon stops.
type ManagerConfig struct {
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	JanitorInterval time.Duration `yaml:"janitor_interval"`
}

// Validate validates the manager configuration.
func (c *ManagerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.IdleTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.JanitorInterval, validation.Min(time.Duration(0))),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			Socket:   "/tmp/kilnd.sock",
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Pipeline: PipelineConfig{
			QueueSize:          256,
			EnqueueTimeout:     200 * time.Millisecond,
			Batching:           true,
			MaxBatchSize:       32,
			BatchTimeout:       250 * time.Millisecond,
			TransactionTimeout: 5 * time.Second,
			MaxRetries:         3,
			EmbedBatchSize:     16,
			EmbedConcurrency:   4,
			IndexConcurrency:   4,
		},
		Embedding: EmbeddingConfig{
			Provider: EmbeddingProviderNone,
			Model:    "text-embedding-3-small",
		},
		Manager: ManagerConfig{
			IdleTimeout:     0,
			JanitorInterval: time.Minute,
		},
	}
}
