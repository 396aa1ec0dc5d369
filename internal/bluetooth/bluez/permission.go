package bluez

import (
	"context"
	"fmt"

	dbus "github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

// Authority asks the D-Bus policy whether this process may talk to BlueZ.
// A missing bluetoothd is not a permission problem: Request grants and lets
// Open report the capability as unavailable.
type Authority struct{}

// Request implements bluetooth.PermissionAuthority.
func (Authority) Request(ctx context.Context) (bool, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return false, fmt.Errorf("bluez: connect system bus: %w", err)
	}

	defer func() { _ = conn.Close() }()

	err = conn.Object(bluezService, dbus.ObjectPath("/")).
		CallWithContext(ctx, objManagerIface+".GetManagedObjects", 0).Err

	return decidePermission(zerolog.Ctx(ctx), err)
}

func decidePermission(logger *zerolog.Logger, err error) (bool, error) {
	if err == nil {
		return true, nil
	}

	switch errorName(err) {
	case errNameAccessDenied:
		logger.Warn().Err(err).Msg("bluez access denied by bus policy")

		return false, nil
	case errNameServiceUnknown:
		return true, nil
	default:
		return false, fmt.Errorf("bluez: permission probe: %w", err)
	}
}
