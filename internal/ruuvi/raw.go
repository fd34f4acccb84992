package ruuvi

import (
	"encoding/binary"
)

// RAWv1 (tag 3), 14 bytes:
// [1] humidity, 0.5 %/bit
// [2] temperature integer part, signed
// [3] temperature fraction, 1/100 °C
// [4:6] pressure, big-endian uint16, Pa - 50000
const rawV1Len = 14

// RAWv2 (tag 5), 24 bytes:
// [1:3] temperature, big-endian int16, 0.005 °C
// [3:5] humidity, big-endian uint16, 0.0025 %
// [5:7] pressure, big-endian uint16, Pa - 50000
const rawV2Len = 24

// DecodeRAWv1 decodes a tag 3 payload.
func DecodeRAWv1(payload []byte) (Measurement, error) {
	if err := checkLen(payload, rawV1Len, "RAWv1"); err != nil {
		return Measurement{}, err
	}
	humidity := float64(payload[1]) * 0.5
	temperature := float64(int8(payload[2])) + float64(payload[3])/100.0
	pressure := (float64(binary.BigEndian.Uint16(payload[4:6])) + 50000) / 100.0

	return NewMeasurement(FormatRAWv1, temperature, humidity, pressure)
}

// DecodeRAWv2 decodes a tag 5 payload.
func DecodeRAWv2(payload []byte) (Measurement, error) {
	if err := checkLen(payload, rawV2Len, "RAWv2"); err != nil {
		return Measurement{}, err
	}
	temperature := float64(int16(binary.BigEndian.Uint16(payload[1:3]))) * 0.005
	humidity := float64(binary.BigEndian.Uint16(payload[3:5])) * 0.0025
	pressure := (float64(binary.BigEndian.Uint16(payload[5:7])) + 50000) / 100.0

	return NewMeasurement(FormatRAWv2, temperature, humidity, pressure)
}
