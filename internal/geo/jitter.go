// Package geo holds the coordinate jitter applied to every submission so
// repeated check-ins from one location never carry identical coordinates.
package geo

import "math/rand"

// MaxOffset is the symmetric jitter bound in decimal degrees, roughly
// 10–20 meters at typical latitudes.
const MaxOffset = 0.00015

// Jitter returns lat and lng each offset by an independent uniform draw from
// [-MaxOffset, +MaxOffset]. Accuracy passes through unchanged.
func Jitter(lat, lng, acc float64) (float64, float64, float64) {
	return lat + offset(), lng + offset(), acc
}

func offset() float64 {
	return (rand.Float64()*2 - 1) * MaxOffset
}
