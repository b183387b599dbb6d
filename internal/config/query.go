package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

// DefaultQuery fetches orders with their agreements and each agreement's sales.
//
//go:embed default_query.graphql
var DefaultQuery string

// LoadQuery returns the query from QueryFile, or DefaultQuery when unset.
func (c *Config) LoadQuery() (string, error) {
	if c.QueryFile == "" {
		return DefaultQuery, nil
	}
	data, err := os.ReadFile(c.QueryFile)
	if err != nil {
		return "", fmt.Errorf("%w: read query file: %w", ErrInvalidConfig, err)
	}
	query := strings.TrimSpace(string(data))
	if query == "" {
		return "", fmt.Errorf("%w: query file %s is empty", ErrInvalidConfig, c.QueryFile)
	}
	return query, nil
}
