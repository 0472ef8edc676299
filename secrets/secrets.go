package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// LoadFromFile loads a secret from a file path
func LoadFromFile(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("secret file path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret file %s: %w", path, err)
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("secret file %s is empty", path)
	}

	return data, nil
}

// LoadOptional behaves like LoadFromFile but returns nil, nil when the file does not exist.
func LoadOptional(path string) ([]byte, error) {
	data, err := LoadFromFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// ResolveToken returns the inline value when set, otherwise the trimmed contents of
// the file named by filePath. Both empty yields an empty token.
func ResolveToken(inline, filePath string) (string, error) {
	if v := strings.TrimSpace(inline); v != "" {
		return v, nil
	}
	if filePath == "" {
		return "", nil
	}
	data, err := LoadOptional(filePath)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
