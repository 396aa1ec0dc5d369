package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/bavix/btscan/internal/devices"
)

func printDevices(w io.Writer, records []devices.Record, asJSON bool) error {
	views := devices.Views(records)

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(views)
	}

	if len(views) == 0 {
		_, err := fmt.Fprintln(w, "no devices")

		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ADDRESS\tNAME\tICON\tBOND")

	for _, v := range views {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.Address, v.Name, v.Icon, v.BondLabel)
	}

	return tw.Flush()
}
