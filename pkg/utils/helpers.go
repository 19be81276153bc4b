package utils

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultWorkDelay = 1 * time.Second
	DefaultIdleDelay = 600 * time.Second
)

var (
	// ErrInvalidIdentifier is returned when a node identifier is unusable.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// GetDurationEnv reads a duration from the environment. Plain numbers are
// taken as seconds.
func GetDurationEnv(name string, fallback time.Duration) time.Duration {
	val := os.Getenv(name)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	secs, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return time.Duration(secs * float64(time.Second))
}

// QuoteIdentifier escapes a label or relationship type for use in Cypher.
// Type tags are IRIs, so they always need backticks.
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// CompactQuery collapses the whitespace of a multi-line query.
func CompactQuery(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

// UniqueStrings returns values with duplicates removed, keeping first occurrence order.
func UniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// ValidateIdentifier checks that about can address a node.
func ValidateIdentifier(about string) error {
	if strings.TrimSpace(about) == "" {
		return fmt.Errorf("%w: identifier is empty", ErrInvalidIdentifier)
	}
	if strings.ContainsAny(about, " \t\r\n") {
		return fmt.Errorf("%w: identifier %q contains whitespace", ErrInvalidIdentifier, about)
	}
	return nil
}
