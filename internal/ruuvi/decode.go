// Package ruuvi decodes environmental sensor beacon payloads.
//
// A payload is the manufacturer data of an advertisement with the company id
// already removed. Byte 0 is the format tag. Known tags are decoded with
// their fixed layout; anything else goes to the heuristic decoder.
package ruuvi

import (
	"fmt"

	"github.com/besir660/ruuvi-particle/internal/utils"
)

// Known format tags.
const (
	FormatRAWv1 uint8 = 3
	FormatRAWv2 uint8 = 5
)

// Decode reads the format tag and routes the payload to the matching
// decoder. Recognized tags never fall back to the heuristic decoder.
func Decode(payload []byte) (Measurement, error) {
	if len(payload) < 1 {
		return Measurement{}, fmt.Errorf("%w: empty payload", ErrPayloadTooShort)
	}

	var (
		m   Measurement
		err error
	)
	switch payload[0] {
	case FormatRAWv1:
		m, err = DecodeRAWv1(payload)
	case FormatRAWv2:
		m, err = DecodeRAWv2(payload)
	default:
		m, err = DecodeHeuristic(payload)
	}
	if err != nil {
		return Measurement{}, err
	}
	m.RawHex = utils.BytesToHex(payload)
	return m, nil
}

// Known reports whether tag has a fixed-layout decoder.
func Known(tag uint8) bool {
	return tag == FormatRAWv1 || tag == FormatRAWv2
}

func checkLen(payload []byte, min int, what string) error {
	if len(payload) < min {
		return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrPayloadTooShort, what, min, len(payload))
	}
	return nil
}
