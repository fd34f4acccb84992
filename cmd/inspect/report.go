package main

import (
	"fmt"
	"io"

	"github.com/besir660/ruuvi-particle/internal/ble"
	"github.com/besir660/ruuvi-particle/internal/ruuvi"
	"github.com/besir660/ruuvi-particle/internal/utils"
)

// report prints the service data and every manufacturer buffer of adv with its exact decode (when
// the tag is known) and all heuristic hypotheses.
func report(w io.Writer, adv ble.Advertisement) {
	fmt.Fprintf(w, "%s name=%q rssi=%d\n", adv.Address, adv.LocalName, adv.RSSI)
	for _, sd := range adv.ServiceData {
		fmt.Fprintf(w, "  service %s data=%s\n", sd.UUID, utils.BytesToHex(sd.Data))
	}
	if len(adv.ManufacturerData) == 0 {
		fmt.Fprintln(w, "  no manufacturer data")
		return
	}

	for _, md := range adv.ManufacturerData {
		fmt.Fprintf(w, "  company 0x%s data=%s\n", utils.Hex4(md.CompanyID), utils.BytesToHex(md.Data))
		if ble.IsIBeacon(md.Data) {
			fmt.Fprintln(w, "    iBeacon frame, ignored")
			continue
		}

		payload := ble.StripCompanyID(md.Data)
		if len(payload) == 0 {
			fmt.Fprintln(w, "    empty payload")
			continue
		}

		tag := payload[0]
		if ruuvi.Known(tag) {
			m, err := ruuvi.Decode(payload)
			if err != nil {
				fmt.Fprintf(w, "    exact tag %d: %v\n", tag, err)
			} else {
				fmt.Fprintf(w, "    exact tag %d: %s\n", tag, values(m.Temperature, m.Humidity, m.Pressure))
			}
		} else {
			fmt.Fprintf(w, "    tag %d has no fixed layout\n", tag)
		}

		cands, err := ruuvi.Hypotheses(payload)
		if err != nil {
			fmt.Fprintf(w, "    hypotheses: %v\n", err)
			continue
		}
		fmt.Fprintln(w, "    hypotheses:")
		for _, c := range cands {
			mark := ""
			if c.Plausible {
				mark = " plausible"
			}
			fmt.Fprintf(w, "      %-24s %s%s\n", c.Hypothesis, values(c.Temperature, c.Humidity, c.Pressure), mark)
		}
	}
}

func values(t, h, p float64) string {
	return fmt.Sprintf("T=%.2f H=%.2f P=%.2f", t, h, p)
}
