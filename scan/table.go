package scan

import (
	"fmt"
	"io"
	"time"

	"github.com/soypat/wwd/whd"
)

// WriteTable writes one line per result in the chipset SDK's scan table format.
func WriteTable(w io.Writer, results []whd.ScanResult) error {
	for i := range results {
		if _, err := fmt.Fprintf(w, "%3d ", i); err != nil {
			return err
		}
		if err := writeResult(w, &results[i]); err != nil {
			return err
		}
	}
	return nil
}

// WriteSummary writes the scan outcome line followed by the table.
func WriteSummary(w io.Writer, status whd.ScanStatus, elapsed time.Duration, results []whd.ScanResult) error {
	verb := "aborted after"
	if status == whd.ScanCompletedSuccessfully {
		verb = "completed in"
	}
	_, err := fmt.Fprintf(w, "\nScan %s %d milliseconds\n", verb, elapsed.Milliseconds())
	if err != nil {
		return err
	}
	return WriteTable(w, results)
}

func writeResult(w io.Writer, r *whd.ScanResult) error {
	b := r.BSSID
	rate := float64(r.MaxDataRate) / 1000
	rateFmt := " %.1f "
	if r.MaxDataRate >= 100000 {
		rateFmt = "%.1f "
	}
	_, err := fmt.Fprintf(w, "%5s %02X:%02X:%02X:%02X:%02X:%02X  %d "+rateFmt+" %3d  %-15s  %-32s \n",
		r.BSSType, b[0], b[1], b[2], b[3], b[4], b[5],
		r.SignalStrength, rate, r.Channel, r.Security, r.SSID)
	return err
}
