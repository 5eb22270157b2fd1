package mirror

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

var (
	ErrAccessDenied       = errors.New("access denied")
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrThrottled          = errors.New("request throttled")
	ErrUnavailable        = errors.New("storage unavailable")
)

// Error wraps a failed storage call.
type Error struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("mirror %s: %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	return fmt.Sprintf("mirror %s: %s: %v", e.Op, e.Bucket, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// wrapError maps SDK failures onto the package sentinels. Unrecognized errors
// are kept as they are.
func wrapError(op, bucket, key string, err error) error {
	wrapped := &Error{Op: op, Bucket: bucket, Key: key, Err: err}

	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		wrapped.Err = ErrBucketNotFound
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if sentinel := classifyCode(apiErr.ErrorCode()); sentinel != nil {
			wrapped.Err = fmt.Errorf("%w: %s", sentinel, apiErr.ErrorMessage())
		}
		return wrapped
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "NoSuchBucket"):
		wrapped.Err = ErrBucketNotFound
	case strings.Contains(msg, "AccessDenied") || strings.Contains(msg, "403"):
		wrapped.Err = ErrAccessDenied
	case strings.Contains(msg, "InvalidAccessKeyId") || strings.Contains(msg, "SignatureDoesNotMatch"):
		wrapped.Err = ErrInvalidCredentials
	case strings.Contains(msg, "SlowDown") || strings.Contains(msg, "429"):
		wrapped.Err = ErrThrottled
	case strings.Contains(msg, "ServiceUnavailable") || strings.Contains(msg, "503"):
		wrapped.Err = ErrUnavailable
	}
	return wrapped
}

func classifyCode(code string) error {
	switch code {
	case "NoSuchBucket":
		return ErrBucketNotFound
	case "AccessDenied", "Forbidden":
		return ErrAccessDenied
	case "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return ErrInvalidCredentials
	case "SlowDown", "Throttling", "RequestLimitExceeded":
		return ErrThrottled
	case "ServiceUnavailable", "InternalError":
		return ErrUnavailable
	}
	return nil
}
