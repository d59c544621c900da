package am

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/teranos/dispatchd/errors"
)

var validate = validator.New()

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return errors.NewInvalidConfigError("%s failed %q (got %v)",
				keyForField(fe.StructField()), fe.Tag(), fe.Value())
		}
		return errors.Wrap(err, "config validation")
	}

	// Unix socket hosts only make sense for the MySQL family.
	if strings.HasPrefix(c.Database.Host, "/") && !isMySQLFamily(c.Database.Connection) {
		return errors.NewInvalidConfigError("db_host %q is a socket path, only supported for mysql", c.Database.Host)
	}

	return nil
}

func isMySQLFamily(connection string) bool {
	switch strings.ToLower(connection) {
	case "mysql", "mariadb":
		return true
	}
	return false
}

// fieldKeys maps struct fields back to the env-style key operators know.
var fieldKeys = map[string]string{
	"Connection":            "db_connection",
	"Port":                  "db_port",
	"ConnectTimeoutSeconds": "db_connect_timeout",
	"ReadTimeoutSeconds":    "db_read_timeout",
	"WriteTimeoutSeconds":   "db_write_timeout",
	"CyclePause":            "multiflexi_cycle_pause",
	"MemoryLimitMB":         "multiflexi_memory_limit_mb",
	"ConnectAttempts":       "multiflexi_connect_attempts",
	"ConnectRetryDelay":     "multiflexi_connect_retry_delay",
	"LaunchRate":            "multiflexi_launch_rate",
	"MetricsAddr":           "multiflexi_metrics_addr",
}

func keyForField(field string) string {
	if key, ok := fieldKeys[field]; ok {
		return key
	}
	return field
}
