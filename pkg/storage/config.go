package storage

import (
	"fmt"
	"os"
)

// Provider names accepted in Config.Provider.
const (
	ProviderGCS   = "gcs"
	ProviderAzure = "azure"
)

// Config holds object storage connection parameters.
// Bucket names the GCS bucket or the Azure container.
type Config struct {
	Provider         string `toml:"provider"`
	Bucket           string `toml:"bucket"`
	Project          string `toml:"project"`
	CredentialsFile  string `toml:"credentials_file"`
	ConnectionString string `toml:"connection_string"`
	AccountURL       string `toml:"account_url"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Provider         string
	Bucket           string
	Project          string
	CredentialsFile  string
	ConnectionString string
	AccountURL       string
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.Provider != "" {
		c.Provider = overlay.Provider
	}
	if overlay.Bucket != "" {
		c.Bucket = overlay.Bucket
	}
	if overlay.Project != "" {
		c.Project = overlay.Project
	}
	if overlay.CredentialsFile != "" {
		c.CredentialsFile = overlay.CredentialsFile
	}
	if overlay.ConnectionString != "" {
		c.ConnectionString = overlay.ConnectionString
	}
	if overlay.AccountURL != "" {
		c.AccountURL = overlay.AccountURL
	}
}

func (c *Config) loadDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderGCS
	}
	if c.Bucket == "" {
		c.Bucket = "arxiv-production-data"
	}
}

func (c *Config) loadEnv(env *Env) {
	setFromEnv(&c.Provider, env.Provider)
	setFromEnv(&c.Bucket, env.Bucket)
	setFromEnv(&c.Project, env.Project)
	setFromEnv(&c.CredentialsFile, env.CredentialsFile)
	setFromEnv(&c.ConnectionString, env.ConnectionString)
	setFromEnv(&c.AccountURL, env.AccountURL)
}

func (c *Config) validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket required")
	}
	switch c.Provider {
	case ProviderGCS:
		return nil
	case ProviderAzure:
		if c.ConnectionString == "" && c.AccountURL == "" {
			return fmt.Errorf("connection_string or account_url required for azure")
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, c.Provider)
	}
}

func setFromEnv(field *string, name string) {
	if name == "" {
		return
	}
	if v := os.Getenv(name); v != "" {
		*field = v
	}
}
