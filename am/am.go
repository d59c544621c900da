// Package am holds dispatchd configuration: the store connection and the
// dispatch daemon knobs. Every key is also the name of the environment
// variable that overrides it, upper-cased (db_host -> DB_HOST).
package am

import "time"

// Config is the complete dispatchd configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:",squash"`
	Daemon   DaemonConfig   `mapstructure:",squash"`
	Log      LogConfig      `mapstructure:",squash"`
}

// DatabaseConfig describes how to reach the schedule store.
type DatabaseConfig struct {
	Connection string `mapstructure:"db_connection" validate:"required"` // engine family: mysql, pgsql, sqlite, sqlsrv (and aliases)
	Host       string `mapstructure:"db_host"`
	Port       int    `mapstructure:"db_port" validate:"gte=0,lte=65535"` // 0 = engine default
	Database   string `mapstructure:"db_database"`                        // schema name, or file path for sqlite ("" = in-memory)
	Username   string `mapstructure:"db_username"`
	Password   string `mapstructure:"db_password"`

	// Persistent is honoured only as a warning; connections are never pooled.
	Persistent bool `mapstructure:"db_persistent"`

	ConnectTimeoutSeconds int `mapstructure:"db_connect_timeout" validate:"gte=1"`
	ReadTimeoutSeconds    int `mapstructure:"db_read_timeout" validate:"gte=0"`
	WriteTimeoutSeconds   int `mapstructure:"db_write_timeout" validate:"gte=0"`
}

// ConnectTimeout returns the connect timeout as a duration.
func (c DatabaseConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// ReadTimeout returns the MySQL-family read timeout.
func (c DatabaseConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the MySQL-family write timeout.
func (c DatabaseConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// DaemonConfig configures the dispatch loop and the worker supervisor.
type DaemonConfig struct {
	Daemonize  bool `mapstructure:"multiflexi_daemonize"`                    // false = one polling cycle then exit
	CyclePause int  `mapstructure:"multiflexi_cycle_pause" validate:"gte=1"` // seconds between polling cycles

	MaxParallel   int `mapstructure:"multiflexi_max_parallel"`                        // <= 0 = unlimited
	MemoryLimitMB int `mapstructure:"multiflexi_memory_limit_mb" validate:"gte=0"` // 0 = disabled

	// Isolation runs each job in a spawned worker process. When false every
	// job runs in-process and MaxParallel does not apply.
	Isolation bool `mapstructure:"multiflexi_isolation"`

	ConnectAttempts   int `mapstructure:"multiflexi_connect_attempts" validate:"gte=1"`
	ConnectRetryDelay int `mapstructure:"multiflexi_connect_retry_delay" validate:"gte=0"` // seconds

	LaunchRate float64 `mapstructure:"multiflexi_launch_rate" validate:"gte=0"` // launches per second, 0 = unlimited

	// PruneMissingJobs deletes entries whose job no longer exists instead of
	// leaving them due.
	PruneMissingJobs    bool `mapstructure:"multiflexi_prune_missing_jobs"`
	SuppressTypeWarning bool `mapstructure:"multiflexi_suppress_type_warning"`

	MetricsAddr string `mapstructure:"multiflexi_metrics_addr" validate:"omitempty,hostname_port"`
}

// CyclePauseDuration returns the pause between polling cycles.
func (c DaemonConfig) CyclePauseDuration() time.Duration {
	return time.Duration(c.CyclePause) * time.Second
}

// ConnectRetryDelayDuration returns the fixed delay between store connect attempts.
func (c DaemonConfig) ConnectRetryDelayDuration() time.Duration {
	return time.Duration(c.ConnectRetryDelay) * time.Second
}

// MemoryLimitBytes returns the soft memory limit, 0 when disabled.
func (c DaemonConfig) MemoryLimitBytes() uint64 {
	if c.MemoryLimitMB <= 0 {
		return 0
	}
	return uint64(c.MemoryLimitMB) * 1024 * 1024
}

// LogConfig configures the global logger.
type LogConfig struct {
	JSON     bool `mapstructure:"multiflexi_log_json"`
	AppDebug bool `mapstructure:"app_debug"`
}

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)
