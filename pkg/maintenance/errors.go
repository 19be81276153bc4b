package maintenance

import (
	"context"
	"errors"
	"fmt"

	"github.com/soundprediction/go-timeline/pkg/driver"
	"github.com/soundprediction/go-timeline/pkg/metrics"
	"github.com/soundprediction/go-timeline/pkg/resolver"
	"github.com/soundprediction/go-timeline/pkg/utils"
)

var (
	// ErrNoWork is returned by discovery when every interval is linked.
	ErrNoWork = errors.New("no unlinked interval found")
	// ErrInconsistentState is returned when the store answers without an
	// entity where one must exist.
	ErrInconsistentState = errors.New("inconsistent store state")
	// ErrParseFailure is returned when an interval's dates cannot be read.
	ErrParseFailure = errors.New("interval dates could not be parsed")
	// ErrStoreFailure is returned when a store call fails.
	ErrStoreFailure = errors.New("graph store failure")
)

// classify wraps err in the matching taxonomy sentinel. Errors already
// classified are returned unchanged.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNoWork),
		errors.Is(err, ErrInconsistentState),
		errors.Is(err, ErrParseFailure),
		errors.Is(err, ErrStoreFailure):
		return err
	case errors.Is(err, driver.ErrNodeNotFound),
		errors.Is(err, resolver.ErrEmptyResult):
		return fmt.Errorf("%w: %w", ErrInconsistentState, err)
	case errors.Is(err, utils.ErrInvalidTimestamp),
		errors.Is(err, utils.ErrInvalidRange):
		return fmt.Errorf("%w: %w", ErrParseFailure, err)
	default:
		return fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
}

// outcome returns the metrics label for a classified error.
func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrNoWork):
		return metrics.OutcomeNoWork
	case errors.Is(err, ErrInconsistentState):
		return metrics.OutcomeInconsistent
	case errors.Is(err, ErrParseFailure):
		return metrics.OutcomeParseFailure
	default:
		return metrics.OutcomeStoreFailure
	}
}

// IsCanceled reports whether err stems from a canceled context.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
