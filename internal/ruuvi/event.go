package ruuvi

import (
	"fmt"
	"strconv"
	"strings"
)

// EventData renders the reading as the flat payload published to the cloud:
// mac=<addr>,temp=<t>,humidity=<h>,pressure=<p>
func (r Reading) EventData() string {
	return fmt.Sprintf("mac=%s,temp=%s,humidity=%s,pressure=%s",
		r.Address,
		formatValue(r.Temperature),
		formatValue(r.Humidity),
		formatValue(r.Pressure),
	)
}

// ParseEventData parses a payload produced by EventData. Only the address
// and the three values are recovered.
func ParseEventData(s string) (Reading, error) {
	fields := make(map[string]string, 4)
	for _, part := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return Reading{}, fmt.Errorf("malformed field %q", part)
		}
		fields[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	var r Reading
	addr, ok := fields["mac"]
	if !ok {
		return Reading{}, fmt.Errorf("missing field %q", "mac")
	}
	r.Address = addr

	for _, f := range []struct {
		key string
		dst *float64
	}{
		{"temp", &r.Temperature},
		{"humidity", &r.Humidity},
		{"pressure", &r.Pressure},
	} {
		raw, ok := fields[f.key]
		if !ok {
			return Reading{}, fmt.Errorf("missing field %q", f.key)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Reading{}, fmt.Errorf("field %q: %w", f.key, err)
		}
		*f.dst = v
	}
	return r, nil
}

func formatValue(v float64) string {
	return strconv.FormatFloat(round2(v), 'f', 2, 64)
}
