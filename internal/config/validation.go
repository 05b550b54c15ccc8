package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	write := func(title string, issues []ValidationError) {
		if len(issues) == 0 {
			return
		}
		builder.WriteString(title + ":\n")
		for _, issue := range issues {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", issue.Field, issue.Message))
			for _, suggestion := range issue.Suggestions {
				builder.WriteString(fmt.Sprintf("    hint: %s\n", suggestion))
			}
		}
	}
	write("Validation errors", vr.Errors)
	write("Validation warnings", vr.Warnings)

	return builder.String()
}

// ValidateConfigWithDetails performs validation with detailed feedback.
// Unlike Load it also reports warnings, such as template directories that
// do not exist yet.
func ValidateConfigWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	validateServerConfigDetails(&config.Server, result)
	validateRenderConfigDetails(&config.Render, result)

	if err := validateLogConfig(&config.Log); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:       "log",
			Value:       config.Log,
			Message:     err.Error(),
			Suggestions: []string{"Levels: debug, info, warn, error, fatal", "Formats: text, json"},
		})
	}

	result.Valid = !result.HasErrors()
	return result
}

func validateServerConfigDetails(config *ServerConfig, result *ValidationResult) {
	if config.Port < 0 || config.Port > 65535 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.port",
			Value:   config.Port,
			Message: fmt.Sprintf("port %d is not in valid range 0-65535", config.Port),
			Suggestions: []string{
				"Use a port between 1024-65535 for non-privileged access",
				"Port 0 allows system to assign an available port",
			},
		})
	} else if config.Port > 0 && config.Port < 1024 {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:       "server.port",
			Value:       config.Port,
			Message:     "port below 1024 requires elevated privileges",
			Suggestions: []string{"Consider using a port above 1024 for development"},
		})
	}

	if err := validateHostname(config.Host); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:       "server.host",
			Value:       config.Host,
			Message:     err.Error(),
			Suggestions: []string{"Use localhost, an IP address or a plain hostname"},
		})
	}

	for _, origin := range config.AllowedOrigins {
		if origin == "*" {
			result.Warnings = append(result.Warnings, ValidationError{
				Field:       "server.allowed_origins",
				Value:       origin,
				Message:     "any origin may open the invoke socket",
				Suggestions: []string{"List the origins that serve your pages instead"},
			})
		}
	}
}

func validateRenderConfigDetails(config *RenderConfig, result *ValidationResult) {
	for _, dir := range config.TemplateDirs {
		if err := validatePath(dir); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "render.template_dirs",
				Value:   dir,
				Message: err.Error(),
			})
			continue
		}
		if !pathExists(dir) {
			result.Warnings = append(result.Warnings, ValidationError{
				Field:       "render.template_dirs",
				Value:       dir,
				Message:     fmt.Sprintf("directory %s does not exist", dir),
				Suggestions: []string{"Create it or remove it from render.template_dirs"},
			})
		}
	}

	if config.Tick > time.Second {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:       "render.tick",
			Value:       config.Tick,
			Message:     "re-renders are delayed by more than a second",
			Suggestions: []string{"The default tick is " + DefaultTick.String()},
		})
	}
	if err := validateRenderConfig(config); err != nil && !strings.Contains(err.Error(), "template dir") {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "render",
			Value:   config,
			Message: err.Error(),
		})
	}
}

var hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

func validateHostname(host string) error {
	if host == "" {
		return nil
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
	for _, char := range dangerousChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("contains dangerous character: %s", char)
		}
	}

	if net.ParseIP(host) != nil {
		return nil
	}
	if !hostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid hostname format")
	}
	return nil
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
