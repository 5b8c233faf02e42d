// Package shared provides common utility functions used across multiple
// packages in the composer-repos codebase.
package shared

import (
	"fmt"
	"sort"
	"strings"
)

// NormalizePackageName lowercases and trims a package name. Composer
// package names are case-insensitive.
func NormalizePackageName(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// SplitNameConstraint splits "vendor/name:constraint" or
// "vendor/name constraint" arguments. The constraint is empty when absent.
func SplitNameConstraint(arg string) (string, string) {
	arg = strings.TrimSpace(arg)
	if idx := strings.IndexAny(arg, ": ="); idx > 0 {
		return NormalizePackageName(arg[:idx]), strings.TrimSpace(arg[idx+1:])
	}
	return NormalizePackageName(arg), ""
}

// SortedKeys returns the keys of m in order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// CommandError wraps a command execution error with its trimmed output
// for cleaner error messages.
func CommandError(output []byte, err error) error {
	if len(strings.TrimSpace(string(output))) == 0 {
		return err
	}
	return fmt.Errorf("%s: %w", strings.TrimSpace(string(output)), err)
}
