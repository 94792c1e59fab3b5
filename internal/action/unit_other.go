//go:build !linux

package action

import (
	"context"
	"errors"

	"jobsched/internal/task/engine"
)

var ErrUnitUnsupported = errors.New("unit action: unsupported OS (linux only)")

func dialUnitConn(context.Context) (unitConn, error) {
	return nil, engine.NoRetry(ErrUnitUnsupported)
}
