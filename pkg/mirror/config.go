// Package mirror copies completed installs to S3 or an S3-compatible store.
package mirror

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultAWSRegion is used for AWS S3 when nothing else resolves a region.
const DefaultAWSRegion = "us-east-1"

// Config configures the mirror target.
//
// Credentials follow the AWS SDK default chain unless AccessKeyID and
// SecretAccessKey are both set. For S3-compatible stores set Endpoint and
// usually ForcePathStyle.
type Config struct {
	Bucket string

	// Prefix is prepended to every key, e.g. "downloads/".
	Prefix string

	Region          string
	Endpoint        string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool

	// Include and Exclude are doublestar globs matched against slash paths
	// relative to the install directory. An empty Include mirrors everything.
	Include []string
	Exclude []string

	// DetectRegion asks the EC2 instance metadata service for a region when
	// none is configured.
	DetectRegion bool
}

// ConfigError reports an invalid field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("mirror config: %s: %s", e.Field, e.Message)
}

// Validate checks required fields and glob syntax.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return &ConfigError{Field: "bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "access_key_id/secret_access_key",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	for _, p := range append(append([]string{}, c.Include...), c.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return &ConfigError{Field: "include/exclude", Message: fmt.Sprintf("invalid glob %q", p)}
		}
	}
	return nil
}
