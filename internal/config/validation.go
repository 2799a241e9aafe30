package config

import (
	"fmt"
	"strings"

	"ghostkeys/internal/logging"
	"ghostkeys/internal/state"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for i := range e {
		msgs = append(msgs, e[i].Error())
	}
	return strings.Join(msgs, "; ")
}

// Fields returns the names of the invalid fields.
func (e ValidationErrors) Fields() []string {
	out := make([]string, 0, len(e))
	for _, v := range e {
		out = append(out, v.Field)
	}
	return out
}

// RangeError reports a value outside [min, max].
func RangeError(field string, v, min, max int) ValidationError {
	return ValidationError{
		Field:   field,
		Message: fmt.Sprintf("%d out of range [%d, %d]", v, min, max),
	}
}

// ValidateConfig returns every problem found in c.
func ValidateConfig(c *Config) ValidationErrors {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	if _, err := state.ParseMode(c.Remap.Mode); err != nil {
		errs = append(errs, ValidationError{
			Field:   "remap.mode",
			Message: fmt.Sprintf("invalid mode: %s (valid: active, passthrough)", c.Remap.Mode),
		})
	}

	errs = append(errs, validateInterceptor(&c.Interceptor)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	if c.Crash.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{Field: "crash.max_age_days", Message: "cannot be negative"})
	}
	return errs
}

func validateInterceptor(ic *InterceptorConfig) ValidationErrors {
	var errs ValidationErrors

	switch ic.Backend {
	case "auto", "simulated":
	default:
		errs = append(errs, ValidationError{
			Field:   "interceptor.backend",
			Message: fmt.Sprintf("invalid backend: %s (valid: auto, simulated)", ic.Backend),
		})
	}

	// The tick drives accent flushing and exit polling; the exit must be
	// observed well within 100ms.
	if ic.TickMs < 5 || ic.TickMs > 100 {
		errs = append(errs, RangeError("interceptor.tick_ms", ic.TickMs, 5, 100))
	}
	if ic.StopTimeoutMs < 10 || ic.StopTimeoutMs > 1000 {
		errs = append(errs, RangeError("interceptor.stop_timeout_ms", ic.StopTimeoutMs, 10, 1000))
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	if _, err := logging.ParseLevel(l.Level); err != nil {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}
	if _, err := logging.ParseFormat(l.Format); err != nil {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: fmt.Sprintf("file path is required when output is '%s'", l.Output),
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}
	return errs
}
