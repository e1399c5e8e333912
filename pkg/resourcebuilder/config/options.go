package config

import (
	"fmt"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabase configures the database backend
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		if dbType != "memory" && dbType != "postgres" {
			return fmt.Errorf("database type must be 'memory' or 'postgres', got: %s", dbType)
		}
		if dbType == "postgres" && url == "" {
			return fmt.Errorf("database URL is required for postgres")
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.DBSchema = schema
		return nil
	}
}

// WithStorageURL selects the blob store, e.g. "file:///var/lib/resources"
func WithStorageURL(storageURL string) Option {
	return func(c *ServerConfig) error {
		c.StorageURL = storageURL
		return nil
	}
}

// WithObjectKeyStrategy selects how blob object keys are generated
func WithObjectKeyStrategy(name string) Option {
	return func(c *ServerConfig) error {
		c.ObjectKeyStrategy = name
		return nil
	}
}

// WithLogLevel sets the minimum log level
func WithLogLevel(level string) Option {
	return func(c *ServerConfig) error {
		c.LogLevel = level
		return nil
	}
}

// WithLogFormat sets the log output format (text or json)
func WithLogFormat(format string) Option {
	return func(c *ServerConfig) error {
		c.LogFormat = format
		return nil
	}
}

// WithEventLogging enables or disables logging of committed changes
func WithEventLogging(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.EnableEventLogging = enabled
		return nil
	}
}

// WithAPIKeySHA256 requires clients of the server to present the API key
// whose hex SHA-256 is sum
func WithAPIKeySHA256(sum string) Option {
	return func(c *ServerConfig) error {
		c.APIKeySHA256 = sum
		return nil
	}
}
