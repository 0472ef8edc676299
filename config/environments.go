package config

import "strings"

// Deployment environments a mirrored GitHub deployment may target
const (
	EnvironmentProduction  = "production"
	EnvironmentStaging     = "staging"
	EnvironmentDevelopment = "development"
	EnvironmentPRPreview   = "pr-preview"
	EnvironmentTesting     = "testing"
)

var environmentAliases = map[string]string{
	"prod":    EnvironmentProduction,
	"stage":   EnvironmentStaging,
	"stg":     EnvironmentStaging,
	"dev":     EnvironmentDevelopment,
	"preview": EnvironmentPRPreview,
	"pr":      EnvironmentPRPreview,
	"test":    EnvironmentTesting,
}

// ValidEnvironments returns a list of all valid environment names
func ValidEnvironments() []string {
	return []string{
		EnvironmentProduction,
		EnvironmentStaging,
		EnvironmentDevelopment,
		EnvironmentPRPreview,
		EnvironmentTesting,
	}
}

// NormalizeEnvironment maps user input (case, whitespace, short aliases) onto a
// known environment name. The second return value is false for unknown names.
func NormalizeEnvironment(name string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := environmentAliases[key]; ok {
		return alias, true
	}
	for _, valid := range ValidEnvironments() {
		if key == valid {
			return valid, true
		}
	}
	return "", false
}
