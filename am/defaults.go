package am

import (
	"github.com/spf13/viper"
)

// Keys lists every configuration key; each is bound to its upper-cased
// environment variable.
var Keys = []string{
	"db_connection", "db_host", "db_port", "db_database", "db_username", "db_password",
	"db_persistent", "db_connect_timeout", "db_read_timeout", "db_write_timeout",
	"multiflexi_daemonize", "multiflexi_cycle_pause", "multiflexi_max_parallel",
	"multiflexi_memory_limit_mb", "multiflexi_isolation", "multiflexi_connect_attempts",
	"multiflexi_connect_retry_delay", "multiflexi_launch_rate", "multiflexi_prune_missing_jobs",
	"multiflexi_suppress_type_warning", "multiflexi_metrics_addr",
	"multiflexi_log_json", "app_debug",
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Store
	v.SetDefault("db_connection", "mysql")
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", 0)
	v.SetDefault("db_database", "multiflexi")
	v.SetDefault("db_username", "")
	v.SetDefault("db_password", "")
	v.SetDefault("db_persistent", false)
	v.SetDefault("db_connect_timeout", 10)
	v.SetDefault("db_read_timeout", 30)
	v.SetDefault("db_write_timeout", 30)

	// Dispatch loop
	v.SetDefault("multiflexi_daemonize", true)
	v.SetDefault("multiflexi_cycle_pause", 10)
	v.SetDefault("multiflexi_connect_attempts", 10)
	v.SetDefault("multiflexi_connect_retry_delay", 30)
	v.SetDefault("multiflexi_memory_limit_mb", 0)

	// Supervisor
	v.SetDefault("multiflexi_max_parallel", 0)
	v.SetDefault("multiflexi_isolation", true)
	v.SetDefault("multiflexi_launch_rate", 0.0)
	v.SetDefault("multiflexi_prune_missing_jobs", false)

	// Diagnostics
	v.SetDefault("multiflexi_suppress_type_warning", false)
	v.SetDefault("multiflexi_metrics_addr", "")
	v.SetDefault("multiflexi_log_json", false)
	v.SetDefault("app_debug", false)
}

// BindEnvVars binds every key to its upper-cased environment variable.
func BindEnvVars(v *viper.Viper) {
	for _, key := range Keys {
		_ = v.BindEnv(key)
	}
}
