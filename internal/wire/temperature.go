// Package wire implements the vendor's numeric wire format: tenths-of-
// Fahrenheit temperature encoding and the tagged JSON envelopes carried
// over MQTT (channel_update, realtime, referential, live_data).
package wire

import "math"

// EncodeTemperature converts a Celsius reading to the vendor's raw
// tenths-of-Fahrenheit wire value: round((°C × 1.8) × 10 + 320).
func EncodeTemperature(celsius float64) int {
	return int(math.Round(celsius*1.8*10 + 320))
}

// DecodeTemperature converts a raw tenths-of-Fahrenheit wire value back
// to Celsius, rounded to one decimal: (raw/10 − 32)/1.8.
func DecodeTemperature(raw int) float64 {
	f := float64(raw) / 10
	c := (f - 32) / 1.8
	return math.Round(c*10) / 10
}
