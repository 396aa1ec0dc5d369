package devices

import (
	"encoding/json"
	"strings"

	customerrors "github.com/bavix/btscan/internal/errors"
)

// BondState is the pairing relationship between the local adapter and a remote device.
type BondState int

// Bond states.
const (
	NotBonded BondState = iota
	Bonding
	Bonded
)

// String returns the wire name of the bond state.
func (s BondState) String() string {
	switch s {
	case Bonding:
		return "bonding"
	case Bonded:
		return "bonded"
	default:
		return "not_bonded"
	}
}

// Label returns the human-readable bond state shown next to a device.
func (s BondState) Label() string {
	switch s {
	case Bonding:
		return LabelBonding
	case Bonded:
		return LabelBonded
	default:
		return LabelNotBonded
	}
}

// MarshalJSON encodes the bond state by name.
func (s BondState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Record is a single Bluetooth device as seen by the registry.
type Record struct {
	Address   string    `json:"address"`
	Name      string    `json:"name"`
	Class     uint32    `json:"class"`
	BondState BondState `json:"bond_state"`
	Path      string    `json:"path,omitempty"`
}

// Category returns the presentation category derived from the device class.
func (r Record) Category() Category {
	return CategoryFromClass(r.Class)
}

// Icon returns the presentation icon for the record.
func (r Record) Icon() Icon {
	return IconForClass(r.Class)
}

// Named reports whether the record carries a usable display name.
func (r Record) Named() bool {
	return strings.TrimSpace(r.Name) != ""
}

// GetDisplayName returns a display name for the device.
func (r Record) GetDisplayName() string {
	if r.Named() {
		return r.Name
	}

	return LabelUnnamed
}

// View is the presentation form of a record: what a list entry shows.
type View struct {
	Address   string    `json:"address"`
	Name      string    `json:"name"`
	Class     uint32    `json:"class"`
	Category  Category  `json:"category"`
	Icon      Icon      `json:"icon"`
	BondState BondState `json:"bond_state"`
	BondLabel string    `json:"bond_label"`
}

// View returns the presentation form of the record.
func (r Record) View() View {
	return View{
		Address:   r.Address,
		Name:      r.GetDisplayName(),
		Class:     r.Class,
		Category:  r.Category(),
		Icon:      r.Icon(),
		BondState: r.BondState,
		BondLabel: r.BondState.Label(),
	}
}

// Views converts a snapshot for presenters, preserving order.
func Views(records []Record) []View {
	out := make([]View, 0, len(records))
	for _, r := range records {
		out = append(out, r.View())
	}

	return out
}

// NormalizeAddress upper-cases and trims a MAC address so it can be used as identity key.
func NormalizeAddress(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}

// ValidateAddress checks the AA:BB:CC:DD:EE:FF form.
func ValidateAddress(address string) error {
	a := NormalizeAddress(address)
	if len(a) != 17 || strings.Count(a, ":") != 5 {
		return customerrors.ErrMACAddressInvalidWithValue(address)
	}

	for i, r := range a {
		if i%3 == 2 {
			if r != ':' {
				return customerrors.ErrMACAddressInvalidWithValue(address)
			}

			continue
		}

		if (r < '0' || r > '9') && (r < 'A' || r > 'F') {
			return customerrors.ErrMACAddressInvalidWithValue(address)
		}
	}

	return nil
}
