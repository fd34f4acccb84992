package ruuvi

import (
	"encoding/binary"
	"fmt"
)

// The heuristic window: [1:3] temperature int16, [3] humidity %, [4:6]
// pressure uint16. Byte order and scales are unknown and searched.
const heuristicMinLen = 8

var (
	searchOrders         = []binary.ByteOrder{binary.BigEndian, binary.LittleEndian}
	searchTempScales     = []float64{100.0, 200.0, 1000.0}
	searchPressureScales = []float64{10.0, 1.0}
)

// Hypothesis is one byte order / scale combination tried by the heuristic
// decoder.
type Hypothesis struct {
	Order         binary.ByteOrder
	TempScale     float64
	PressureScale float64
}

func (h Hypothesis) String() string {
	return fmt.Sprintf("%s t/%g p/%g", h.Order, h.TempScale, h.PressureScale)
}

// Candidate is the unrounded result of one Hypothesis.
type Candidate struct {
	Hypothesis
	Temperature float64
	Humidity    float64
	Pressure    float64
	Plausible   bool
}

// DecodeHeuristic returns the first plausible hypothesis in search order:
// big-endian before little-endian, then temperature /100, /200, /1000, then
// pressure /10, /1. The order is fixed so results are reproducible.
func DecodeHeuristic(payload []byte) (Measurement, error) {
	if err := checkLen(payload, heuristicMinLen, "heuristic window"); err != nil {
		return Measurement{}, err
	}

	var (
		found Candidate
		ok    bool
	)
	eachHypothesis(payload, func(c Candidate) bool {
		if c.Plausible {
			found, ok = c, true
			return false
		}
		return true
	})
	if !ok {
		return Measurement{}, fmt.Errorf("%w: tag 0x%02X", ErrNoPlausibleDecoding, payload[0])
	}

	m, err := NewMeasurement(payload[0], found.Temperature, found.Humidity, found.Pressure)
	if err != nil {
		return Measurement{}, err
	}
	h := found.Hypothesis
	m.Hypothesis = &h
	return m, nil
}

// Hypotheses evaluates every hypothesis in search order, plausible or not.
func Hypotheses(payload []byte) ([]Candidate, error) {
	if err := checkLen(payload, heuristicMinLen, "heuristic window"); err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(searchOrders)*len(searchTempScales)*len(searchPressureScales))
	eachHypothesis(payload, func(c Candidate) bool {
		out = append(out, c)
		return true
	})
	return out, nil
}

// eachHypothesis calls fn for every hypothesis until fn returns false.
// The caller has already checked the payload length.
func eachHypothesis(payload []byte, fn func(Candidate) bool) {
	tempField := payload[1:3]
	humidity := float64(payload[3])
	pressureField := payload[4:6]

	for _, order := range searchOrders {
		tRaw := int16(order.Uint16(tempField))
		pRaw := order.Uint16(pressureField)
		for _, tScale := range searchTempScales {
			temperature := float64(tRaw) / tScale
			for _, pScale := range searchPressureScales {
				pressure := float64(pRaw) / pScale
				c := Candidate{
					Hypothesis: Hypothesis{
						Order:         order,
						TempScale:     tScale,
						PressureScale: pScale,
					},
					Temperature: temperature,
					Humidity:    humidity,
					Pressure:    pressure,
					Plausible:   plausible(temperature, humidity, pressure),
				}
				if !fn(c) {
					return
				}
			}
		}
	}
}
