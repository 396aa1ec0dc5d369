package bluetooth

import (
	"context"

	"github.com/bavix/btscan/internal/bluetooth/bluez"
	"github.com/bavix/btscan/internal/bluetooth/simulated"
	"github.com/bavix/btscan/internal/config"
	customerrors "github.com/bavix/btscan/internal/errors"
)

var (
	_ Subsystem           = (*bluez.Adapter)(nil)
	_ Subsystem           = (*simulated.Adapter)(nil)
	_ PermissionAuthority = bluez.Authority{}
	_ PermissionAuthority = StaticAuthority(true)
)

// Opener initialises a subsystem. Sessions call it only after permission is granted.
type Opener func(ctx context.Context) (Subsystem, error)

// NewOpener returns the opener for the configured backend.
func NewOpener(cfg *config.Config) (Opener, error) {
	if cfg == nil {
		return nil, customerrors.ErrConfigCannotBeNil
	}

	switch cfg.Bluetooth.Backend {
	case config.BackendBlueZ:
		bt := cfg.Bluetooth

		return func(ctx context.Context) (Subsystem, error) {
			a, err := bluez.Open(ctx, bt)
			if err != nil {
				return nil, err
			}

			return a, nil
		}, nil
	case config.BackendSimulated:
		sim, duration := cfg.Simulated, cfg.Bluetooth.DiscoveryDuration

		return func(context.Context) (Subsystem, error) {
			a, err := simulated.New(sim, duration)
			if err != nil {
				return nil, err
			}

			return a, nil
		}, nil
	default:
		return nil, customerrors.ErrUnsupportedBackendWithName(cfg.Bluetooth.Backend)
	}
}

// NewAuthority returns the permission authority for the configured mode.
// Probe mode asks BlueZ for real access, except on the simulated backend
// where it always grants.
func NewAuthority(cfg *config.Config) (PermissionAuthority, error) {
	if cfg == nil {
		return nil, customerrors.ErrConfigCannotBeNil
	}

	switch cfg.Bluetooth.Permission {
	case config.PermissionGranted:
		return StaticAuthority(true), nil
	case config.PermissionDenied:
		return StaticAuthority(false), nil
	default:
		if cfg.Bluetooth.Backend == config.BackendSimulated {
			return StaticAuthority(true), nil
		}

		return bluez.Authority{}, nil
	}
}
