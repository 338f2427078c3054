package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

var bashStyleRegex = regexp.MustCompile(`\$\{?([A-Z_][A-Z0-9_]*)\}?`)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) addError(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) addWarning(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// ValidateFile validates a config file structure without requiring env vars
func ValidateFile(path string) (*ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ValidateBytes(data), nil
}

// ValidateBytes validates raw config JSON without resolving env vars
func ValidateBytes(data []byte) *ValidationResult {
	result := &ValidationResult{}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.addError("", "invalid JSON: %v", err)
		return result
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.addError("version", "version field is required. Hint: Add \"version\": %q", ConfigVersion)
	} else if version != ConfigVersion {
		result.addError("version", "unsupported version '%s' - use '%s'", version, ConfigVersion)
	}

	validateAppStructure(rawConfig, result)
	validateAuthStructure(rawConfig, result)
	validateStorageStructure(rawConfig, result)
	validateDatabaseStructure(rawConfig, result)
	validateReferenceStructure(rawConfig, result)

	for key := range rawConfig {
		switch key {
		case "version", "app", "auth", "storage", "database", "reference":
		default:
			result.addWarning(key, "unknown top-level field '%s' is ignored", key)
		}
	}

	return result
}

func section(rawConfig map[string]any, name string, required bool, result *ValidationResult) (map[string]any, bool) {
	v, exists := rawConfig[name]
	if !exists {
		if required {
			result.addError(name, "%s field is required and must be an object", name)
		}
		return nil, false
	}
	m, ok := v.(map[string]any)
	if !ok {
		result.addError(name, "%s must be an object", name)
		return nil, false
	}
	return m, true
}

func requireField(m map[string]any, sectionName, field string, result *ValidationResult) {
	if _, ok := m[field]; !ok {
		result.addError(sectionName+"."+field, "%s is required", field)
	}
}

func requireSecret(m map[string]any, sectionName, field string, result *ValidationResult) {
	path := sectionName + "." + field
	v, ok := m[field]
	if !ok {
		result.addError(path, "%s is required", field)
		return
	}
	if err := validateEnvVarReference(v, field, path); err != nil {
		result.Errors = append(result.Errors, *err)
	}
}

func checkDuration(m map[string]any, sectionName, field string, result *ValidationResult) time.Duration {
	v, ok := m[field]
	if !ok {
		return 0
	}
	s, ok := v.(string)
	if !ok {
		result.addError(sectionName+"."+field, "%s must be a duration string like \"8h\"", field)
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		result.addError(sectionName+"."+field, "invalid duration %q: %v", s, err)
		return 0
	}
	if d < 0 {
		result.addError(sectionName+"."+field, "%s cannot be negative", field)
	}
	return d
}

func validateAppStructure(rawConfig map[string]any, result *ValidationResult) {
	app, ok := section(rawConfig, "app", true, result)
	if !ok {
		return
	}
	requireField(app, "app", "baseURL", result)
	requireSecret(app, "app", "secretKey", result)

	ttl := checkDuration(app, "app", "sessionTtl", result)
	cleanup := checkDuration(app, "app", "cleanupInterval", result)
	if ttl > 0 && cleanup > ttl {
		result.addWarning("app.cleanupInterval", "cleanupInterval (%s) is greater than sessionTtl (%s)", cleanup, ttl)
	}

	store, _ := app["sessionStore"].(string)
	switch store {
	case "", string(SessionStoreMemory):
	case string(SessionStoreBolt):
		requireField(app, "app", "sessionPath", result)
	default:
		result.addError("app.sessionStore", "sessionStore must be 'memory' or 'bolt', got '%s'", store)
	}

	if v, ok := app["trustProxyHeaders"]; ok {
		if _, isBool := v.(bool); !isBool {
			result.addError("app.trustProxyHeaders", "trustProxyHeaders must be true or false")
		}
	}
}

func validateAuthStructure(rawConfig map[string]any, result *ValidationResult) {
	auth, ok := section(rawConfig, "auth", true, result)
	if !ok {
		return
	}
	requireField(auth, "auth", "clientId", result)
	requireSecret(auth, "auth", "clientSecret", result)
	requireField(auth, "auth", "allowedDomain", result)

	_, hasTenant := auth["tenantId"]
	_, hasAuthURL := auth["authorizationUrl"]
	_, hasTokenURL := auth["tokenUrl"]
	if !hasTenant && !(hasAuthURL && hasTokenURL) {
		result.addError("auth", "either tenantId or both authorizationUrl and tokenUrl are required")
	}

	if domain, ok := auth["allowedDomain"].(string); ok && !strings.HasPrefix(domain, "@") {
		result.addWarning("auth.allowedDomain", "allowedDomain '%s' has no leading '@'", domain)
	}
	if prompt, ok := auth["prompt"].(string); ok && prompt != "select_account" {
		result.addWarning("auth.prompt", "prompt '%s' may reuse the cached account instead of offering a choice", prompt)
	}
}

func validateStorageStructure(rawConfig map[string]any, result *ValidationResult) {
	storage, ok := section(rawConfig, "storage", true, result)
	if !ok {
		return
	}
	requireField(storage, "storage", "endpoint", result)
	requireSecret(storage, "storage", "accessKey", result)
	requireSecret(storage, "storage", "secretKey", result)

	if v, ok := storage["presignExpiryHours"].(float64); ok && (v < 1 || v > 168) {
		result.addError("storage.presignExpiryHours", "presignExpiryHours must be between 1 and 168, got %v", v)
	}
}

func validateDatabaseStructure(rawConfig map[string]any, result *ValidationResult) {
	db, ok := section(rawConfig, "database", true, result)
	if !ok {
		return
	}
	requireSecret(db, "database", "dsn", result)
}

func validateReferenceStructure(rawConfig map[string]any, result *ValidationResult) {
	ref, ok := section(rawConfig, "reference", false, result)
	if !ok {
		return
	}
	checkDuration(ref, "reference", "cacheTtl", result)
	if obj, ok := ref["object"].(string); ok && !strings.HasSuffix(strings.ToLower(obj), ".parquet") {
		result.addWarning("reference.object", "reference object '%s' is not a .parquet file", obj)
	}
}

// validateEnvVarReference validates that a field uses proper env var reference format
func validateEnvVarReference(value any, fieldName, path string) *ValidationError {
	switch v := value.(type) {
	case string:
		if matches := bashStyleRegex.FindStringSubmatch(v); len(matches) > 1 {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", v, matches[1]),
			}
		}
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must use environment variable reference {\"$env\": \"YOUR_ENV_VAR\"} instead of plain text. Hint: This prevents secrets from being stored in config files", fieldName),
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; !hasEnv {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("%s must use {\"$env\": \"YOUR_ENV_VAR\"} format, not %v", fieldName, v),
			}
		}
		return nil
	default:
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must be an environment variable reference {\"$env\": \"YOUR_ENV_VAR\"}, not %T", fieldName, value),
		}
	}
}

// checkBashStyleSyntax recursively checks for bash-style env var syntax
func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllString(v, -1) {
			varName := strings.Trim(match, "${}")
			result.addWarning(path, "found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", match, varName)
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; hasEnv {
			return
		}
		for key, val := range v {
			newPath := key
			if path != "" {
				newPath = path + "." + key
			}
			checkBashStyleSyntax(val, newPath, result)
		}
	case []any:
		for i, item := range v {
			checkBashStyleSyntax(item, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}
