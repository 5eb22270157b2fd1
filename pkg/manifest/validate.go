package manifest

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/schema"

	schemasassets "github.com/3leaps/wsfetch/internal/assets/schemas"
)

// SchemaID identifies the batch manifest schema.
const SchemaID = "wsfetch/v1.0.0/batch-manifest"

var (
	// ErrSchemaNotFound indicates the embedded schema is missing.
	ErrSchemaNotFound = errors.New("manifest schema not found")

	// ErrValidationFailed matches every ValidationErrors.
	ErrValidationFailed = errors.New("manifest validation failed")
)

var (
	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error
)

// ValidationError is one schema violation.
type ValidationError struct {
	// Path is a JSON pointer, e.g. "/items/0/source".
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors collects every violation found in one document.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "validation failed"
	case 1:
		return e[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "manifest validation failed with %d errors:", len(e))
	for _, err := range e {
		b.WriteString("\n  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// ValidateRaw checks JSON data against the embedded batch manifest schema.
func ValidateRaw(jsonData []byte) error {
	v, err := getValidator()
	if err != nil {
		return err
	}

	diags, err := v.ValidateJSON(jsonData)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	var errs ValidationErrors
	for _, d := range diags {
		if d.Severity == schema.SeverityError {
			errs = append(errs, ValidationError{Path: d.Pointer, Message: d.Message})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func getValidator() (*schema.Validator, error) {
	validatorOnce.Do(func() {
		if len(schemasassets.BatchManifestSchema) == 0 {
			validatorErr = fmt.Errorf("%w: embedded batch-manifest schema is empty", ErrSchemaNotFound)
			return
		}
		validator, validatorErr = schema.NewValidator(schemasassets.BatchManifestSchema)
		if validatorErr != nil {
			validatorErr = fmt.Errorf("failed to compile manifest schema: %w", validatorErr)
		}
	})
	return validator, validatorErr
}
