package storage

import (
	"context"
	"errors"

	"claimScope/internal/model"
)

// Storage defines a sink for claim reports.
type Storage interface {
	SaveState(ctx context.Context, report model.ClaimReport) error
}

// Multi fans a report out to every sink. All sinks are attempted; errors are joined.
type Multi []Storage

func (m Multi) SaveState(ctx context.Context, report model.ClaimReport) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.SaveState(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
