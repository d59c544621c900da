package am

import (
	"os"

	"github.com/spf13/viper"
	"github.com/teranos/dispatchd/errors"
)

// DefaultEnvFile is read when present and no --env-file is given.
const DefaultEnvFile = ".env"

// Load reads configuration with precedence env vars > env file > defaults.
// An empty envFile falls back to DefaultEnvFile in the working directory;
// a missing default file is not an error, a missing explicit one is.
func Load(envFile string) (*Config, error) {
	v, err := NewViper(envFile)
	if err != nil {
		return nil, err
	}
	return LoadWithViper(v)
}

// NewViper builds a viper instance with defaults, env bindings and the env file.
func NewViper(envFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	BindEnvVars(v)
	v.AutomaticEnv()

	explicit := envFile != ""
	if !explicit {
		envFile = DefaultEnvFile
	}

	if _, err := os.Stat(envFile); err != nil {
		if explicit {
			return nil, errors.Wrapf(err, "env file %s", envFile)
		}
		return v, nil
	}

	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read env file %s", envFile)
	}

	return v, nil
}

// LoadWithViper unmarshals and validates configuration from a provided viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}
