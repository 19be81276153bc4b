// Package utils provides utility functions for the go-timeline library.
//
// This package contains helper functions for various operations including:
//   - Date handling and calendar-day expansion (datetime.go)
//   - Query and identifier helpers (helpers.go)
package utils
