package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

type (
	// VAT is the tax amount of a bill. Stores hold it either as a JSON
	// string or as a number, and both decode to its text form.
	VAT string

	// Pct is the VAT percentage. It accepts a JSON number or a numeric
	// string, and always encodes as a number.
	Pct int
)

// UnmarshalJSON implements json.Unmarshaler.
func (v *VAT) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*v = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = VAT(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("vat: want number or string, got %s", data)
	}
	*v = VAT(n.String())
	return nil
}

// UnmarshalJSON implements json.Unmarshaler. Strings are coerced like the
// pct form field, so an empty or non-numeric string yields DefaultPct.
func (p *Pct) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*p = 0
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = Pct(ParsePct(s))
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("pct: want number or string, got %s", data)
	}
	if math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return fmt.Errorf("pct: %s out of range", data)
	}
	*p = Pct(f)
	return nil
}
