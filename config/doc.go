// Package config loads stackauthd settings with koanf: built-in defaults,
// then an optional YAML file, then command-line flags that were set
// explicitly. The JWT secret is never defaulted and never read from a flag
// value; it comes from the file named by auth.jwt.secret_file.
package config
