package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/besir660/ruuvi-particle/internal/ble"
)

func TestReport(t *testing.T) {
	rawV2 := make([]byte, 24)
	copy(rawV2, []byte{0x05, 0x01, 0xF4, 0x00, 0x64, 0xC3, 0x50})

	adv := ble.Advertisement{
		Address:   "AA:BB:CC:DD:EE:FF",
		LocalName: "Ruuvi EEFF",
		RSSI:      -71,
		ManufacturerData: []ble.ManufacturerData{
			{CompanyID: 0x004C, Data: []byte{0x02, 0x15, 0x01}},
			{CompanyID: ble.RuuviCompanyID, Data: rawV2},
			{CompanyID: 0x0059, Data: []byte{0x09, 0x09, 0x98, 0x2D, 0x03, 0xE8, 0x00, 0x00}},
		},
	}

	var buf bytes.Buffer
	report(&buf, adv)
	out := buf.String()

	assert.Contains(t, out, `AA:BB:CC:DD:EE:FF name="Ruuvi EEFF" rssi=-71`)
	assert.Contains(t, out, "company 0x004C data=021501")
	assert.Contains(t, out, "iBeacon frame, ignored")
	assert.Contains(t, out, "exact tag 5: T=2.50 H=0.25 P=1000.00")
	assert.Contains(t, out, "tag 9 has no fixed layout")
	assert.Contains(t, out, "T=24.56 H=45.00 P=1000.00 plausible")
	assert.Equal(t, 2, strings.Count(out, "hypotheses:"))
}

func TestReport_NoManufacturerData(t *testing.T) {
	var buf bytes.Buffer
	report(&buf, ble.Advertisement{
		Address: "AA:BB:CC:DD:EE:FF",
		ServiceData: []ble.ServiceData{
			{UUID: "0000feaa-0000-1000-8000-00805f9b34fb", Data: []byte{0x10, 0x00, 0x03}},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "service 0000feaa-0000-1000-8000-00805f9b34fb data=100003")
	assert.Contains(t, out, "no manufacturer data")
}
