package ble

import (
	"time"

	"github.com/besir660/ruuvi-particle/internal/utils"
)

// RuuviCompanyID is the Bluetooth SIG company identifier of Ruuvi Innovations.
const RuuviCompanyID uint16 = 0x0499

var (
	// iBeacon manufacturer data starts with type 0x02, length 0x15.
	iBeaconPrefix = []byte{0x02, 0x15}
	// Some stacks leave the little-endian company id in front of the data.
	ruuviCompanyIDPrefix = []byte{byte(RuuviCompanyID & 0xFF), byte(RuuviCompanyID >> 8)}
)

// ManufacturerData is one vendor-tagged buffer of an advertisement.
type ManufacturerData struct {
	CompanyID uint16
	Data      []byte
}

// ServiceData is one service-tagged buffer of an advertisement. Only the
// inspect tool reads it.
type ServiceData struct {
	UUID string
	Data []byte
}

// Advertisement is a single observation of a beacon. ManufacturerData keeps
// the order the scanner reported it in.
type Advertisement struct {
	Address          string
	LocalName        string
	RSSI             int16
	ManufacturerData []ManufacturerData
	ServiceData      []ServiceData
	SeenAt           time.Time
}

// Filter restricts which advertisements the extractor accepts.
type Filter struct {
	// MAC is an allow-listed address in any case or separator style. Empty
	// accepts every address.
	MAC string
	// CompanyID restricts selection to one manufacturer id. Zero accepts any.
	CompanyID uint16
}

// Payload is the manufacturer buffer selected for decoding.
type Payload struct {
	CompanyID uint16
	Data      []byte
}

// Extractor picks the one manufacturer payload worth decoding out of an
// advertisement.
type Extractor struct {
	mac       string
	companyID uint16
}

func NewExtractor(f Filter) Extractor {
	return Extractor{
		mac:       utils.NormalizeMAC(f.MAC),
		companyID: f.CompanyID,
	}
}

// Extract returns the first manufacturer payload that is not an iBeacon
// frame (and, when configured, that carries the target company id). It
// returns false when the address is filtered out or nothing qualifies.
func (e Extractor) Extract(adv Advertisement) (Payload, bool) {
	if e.mac != "" && utils.NormalizeMAC(adv.Address) != e.mac {
		return Payload{}, false
	}

	for _, md := range adv.ManufacturerData {
		if e.companyID != 0 && md.CompanyID != e.companyID {
			continue
		}
		data := StripCompanyID(md.Data)
		if len(data) == 0 || IsIBeacon(md.Data) || IsIBeacon(data) {
			continue
		}
		return Payload{CompanyID: md.CompanyID, Data: data}, true
	}
	return Payload{}, false
}

// StripCompanyID removes a leading little-endian Ruuvi company id.
func StripCompanyID(data []byte) []byte {
	if hasPrefix(data, ruuviCompanyIDPrefix) {
		return data[len(ruuviCompanyIDPrefix):]
	}
	return data
}

// IsIBeacon reports whether data is an iBeacon frame.
func IsIBeacon(data []byte) bool {
	return hasPrefix(data, iBeaconPrefix)
}

func hasPrefix(b, pref []byte) bool {
	if len(pref) == 0 {
		return true
	}
	if len(b) < len(pref) {
		return false
	}
	for i := range pref {
		if b[i] != pref[i] {
			return false
		}
	}
	return true
}
