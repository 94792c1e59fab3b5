//go:build linux

package action

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"
)

type dbusUnitConn struct{ conn *dbus.Conn }

func dialUnitConn(ctx context.Context) (unitConn, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &dbusUnitConn{conn: conn}, nil
}

func (c *dbusUnitConn) run(ctx context.Context, op, unit string) (string, error) {
	ch := make(chan string, 1)
	var err error
	switch op {
	case "start":
		_, err = c.conn.StartUnitContext(ctx, unit, "replace", ch)
	case "stop":
		_, err = c.conn.StopUnitContext(ctx, unit, "replace", ch)
	case "restart":
		_, err = c.conn.RestartUnitContext(ctx, unit, "replace", ch)
	case "reload":
		_, err = c.conn.ReloadUnitContext(ctx, unit, "replace", ch)
	case "try-restart":
		_, err = c.conn.TryRestartUnitContext(ctx, unit, "replace", ch)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnitOp, op)
	}
	if err != nil {
		return "", err
	}
	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *dbusUnitConn) close() { c.conn.Close() }
