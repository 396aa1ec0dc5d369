package bluez

import (
	"errors"
	"strings"

	dbus "github.com/godbus/dbus/v5"

	"github.com/bavix/btscan/internal/devices"
)

const (
	bluezService    = "org.bluez"
	adapterIface    = "org.bluez.Adapter1"
	deviceIface     = "org.bluez.Device1"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"
	propsIface      = "org.freedesktop.DBus.Properties"

	errNameAccessDenied   = "org.freedesktop.DBus.Error.AccessDenied"
	errNameServiceUnknown = "org.freedesktop.DBus.Error.ServiceUnknown"
	errNameInProgress     = "org.bluez.Error.InProgress"
	errNameNotReady       = "org.bluez.Error.NotReady"
	errNameAlreadyExists  = "org.bluez.Error.AlreadyExists"
)

// managedObjects is the GetManagedObjects reply shape.
type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Device1 properties that change what the registry shows.
var (
	presenceProps = []string{"Name", "Alias", "Class"}
	signalProps   = []string{"RSSI"}
	bondProps     = []string{"Paired", "Bonded"}
)

// macFromPath extracts the address from .../dev_XX_XX_XX_XX_XX_XX.
func macFromPath(p dbus.ObjectPath) string {
	s := string(p)

	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return ""
	}

	return strings.ReplaceAll(s[idx+5:], "_", ":")
}

// devicePath builds the object path BlueZ uses for address under adapter.
func devicePath(adapter dbus.ObjectPath, address string) dbus.ObjectPath {
	mac := strings.ReplaceAll(devices.NormalizeAddress(address), ":", "_")

	return dbus.ObjectPath(string(adapter) + "/dev_" + mac)
}

// underAdapter reports whether p is an object below the adapter path.
func underAdapter(adapter, p dbus.ObjectPath) bool {
	return strings.HasPrefix(string(p), string(adapter)+"/")
}

func stringProp(props map[string]dbus.Variant, name string) string {
	if v, ok := props[name]; ok {
		s, _ := v.Value().(string)

		return s
	}

	return ""
}

func boolProp(props map[string]dbus.Variant, name string) bool {
	if v, ok := props[name]; ok {
		b, _ := v.Value().(bool)

		return b
	}

	return false
}

func uint32Prop(props map[string]dbus.Variant, name string) uint32 {
	if v, ok := props[name]; ok {
		n, _ := v.Value().(uint32)

		return n
	}

	return 0
}

func hasAny(props map[string]dbus.Variant, names []string) bool {
	for _, n := range names {
		if _, ok := props[n]; ok {
			return true
		}
	}

	return false
}

// recordFromProps maps Device1 properties to a registry record. Name is the
// remote name; Alias is only used when BlueZ has a real name behind it, since
// BlueZ fills Alias with the address for unnamed devices.
func recordFromProps(path dbus.ObjectPath, props map[string]dbus.Variant) devices.Record {
	address := stringProp(props, "Address")
	if address == "" {
		address = macFromPath(path)
	}

	name := stringProp(props, "Name")
	if name == "" {
		if alias := stringProp(props, "Alias"); alias != "" && !sameAddress(alias, address) {
			name = alias
		}
	}

	state := devices.NotBonded
	if boolProp(props, "Paired") || boolProp(props, "Bonded") {
		state = devices.Bonded
	}

	return devices.Record{
		Address:   devices.NormalizeAddress(address),
		Name:      name,
		Class:     uint32Prop(props, "Class"),
		BondState: state,
		Path:      string(path),
	}
}

// sameAddress treats "AA-BB-.." aliases as the address itself.
func sameAddress(alias, address string) bool {
	a := strings.ReplaceAll(alias, "-", ":")

	return strings.EqualFold(a, address)
}

// mergeProps copies changed over base and drops invalidated names.
func mergeProps(base, changed map[string]dbus.Variant, invalidated []string) map[string]dbus.Variant {
	out := make(map[string]dbus.Variant, len(base)+len(changed))

	for k, v := range base {
		out[k] = v
	}

	for k, v := range changed {
		out[k] = v
	}

	for _, k := range invalidated {
		delete(out, k)
	}

	return out
}

// errorName returns the D-Bus error name carried by err, if any.
func errorName(err error) string {
	var val dbus.Error
	if errors.As(err, &val) {
		return val.Name
	}

	var ptr *dbus.Error
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Name
	}

	return ""
}
