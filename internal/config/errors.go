package config

import (
	"errors"
)

// ErrLoadConfig wraps failures reading a source: the dotenv file, the YAML
// file named by PAGESPEED_CONFIG, or the PAGESPEED_ environment.
var ErrLoadConfig = errors.New("load config failed")

// ErrEnvFile marks a dotenv file that exists, or was named explicitly, but
// could not be read. It is always wrapped together with ErrLoadConfig.
var ErrEnvFile = errors.New("env file unreadable")

// ErrInvalidConfig wraps every Validate failure. The message lists each
// offending key.
var ErrInvalidConfig = errors.New("invalid config")
