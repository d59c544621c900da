package am

import (
	"os"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// ConfigSource represents where a configuration value came from
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceEnvFile     ConfigSource = "env_file"
	SourceEnvironment ConfigSource = "environment"
)

// SettingInfo contains metadata about a configuration setting
type SettingInfo struct {
	Key    string       `json:"key"`
	Value  interface{}  `json:"value"`
	Source ConfigSource `json:"source"`
}

// ConfigIntrospection describes the active configuration
type ConfigIntrospection struct {
	EnvFile  string        `json:"env_file"`
	Settings []SettingInfo `json:"settings"`
}

var secretKeys = map[string]bool{"db_password": true}

// Introspect reports each key's effective value and the layer that supplied
// it. Secrets are masked.
func Introspect(v *viper.Viper) *ConfigIntrospection {
	fileKeys := map[string]bool{}
	if used := v.ConfigFileUsed(); used != "" {
		fv := viper.New()
		fv.SetConfigFile(used)
		fv.SetConfigType("env")
		if err := fv.ReadInConfig(); err == nil {
			for _, k := range fv.AllKeys() {
				fileKeys[k] = true
			}
		}
	}

	keys := append([]string(nil), Keys...)
	sort.Strings(keys)

	out := &ConfigIntrospection{EnvFile: v.ConfigFileUsed()}
	for _, key := range keys {
		source := SourceDefault
		if fileKeys[key] {
			source = SourceEnvFile
		}
		if _, ok := os.LookupEnv(strings.ToUpper(key)); ok {
			source = SourceEnvironment
		}

		var value interface{} = v.Get(key)
		if secretKeys[key] && v.GetString(key) != "" {
			value = "********"
		}

		out.Settings = append(out.Settings, SettingInfo{Key: key, Value: value, Source: source})
	}
	return out
}
