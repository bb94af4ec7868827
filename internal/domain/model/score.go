// Package model contains domain models passed between layers.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Device is the client profile the scoring engine simulates (the upstream "strategy").
type Device string

// Supported device profiles.
const (
	DeviceMobile  Device = "mobile"
	DeviceDesktop Device = "desktop"
)

// ErrUnknownDevice is returned by ParseDevice for values outside the supported set.
var ErrUnknownDevice = errors.New("unknown device profile")

// AllDevices returns the supported profiles in their fixed iteration order.
func AllDevices() []Device {
	return []Device{DeviceMobile, DeviceDesktop}
}

// ParseDevice accepts "mobile" or "desktop" in any case.
func ParseDevice(s string) (Device, error) {
	switch Device(strings.ToLower(strings.TrimSpace(s))) {
	case DeviceMobile:
		return DeviceMobile, nil
	case DeviceDesktop:
		return DeviceDesktop, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDevice, s)
}

// OrderDevices filters the requested set down to supported profiles in fixed
// order (mobile before desktop). Duplicates collapse; an empty set means all.
func OrderDevices(requested []Device) []Device {
	if len(requested) == 0 {
		return AllDevices()
	}
	want := make(map[Device]bool, len(requested))
	for _, d := range requested {
		want[d] = true
	}
	ordered := make([]Device, 0, len(want))
	for _, d := range AllDevices() {
		if want[d] {
			ordered = append(ordered, d)
		}
	}
	return ordered
}

// ScoreRequest is one (url, device) pair within a batch.
type ScoreRequest struct {
	URL    string
	Device Device
}

// ScoreResult is the flattened metrics record for one ScoreRequest.
// Category scores are on a 0..100 scale, timings are in milliseconds.
type ScoreResult struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Device Device `json:"device"`

	PerformanceScore   float64 `json:"performanceScore"`
	AccessibilityScore float64 `json:"accessibilityScore"`
	BestPracticesScore float64 `json:"bestPracticesScore"`
	SEOScore           float64 `json:"seoScore"`
	PWAScore           float64 `json:"pwaScore"`

	FirstContentfulPaint   float64 `json:"firstContentfulPaint"`
	LargestContentfulPaint float64 `json:"largestContentfulPaint"`
	CumulativeLayoutShift  float64 `json:"cumulativeLayoutShift"`
	TimeToInteractive      float64 `json:"timeToInteractive"`
	TotalBlockingTime      float64 `json:"totalBlockingTime"`
	SpeedIndex             float64 `json:"speedIndex"`

	// Defaulted lists upstream fields that were absent and defaulted to zero.
	Defaulted []string `json:"defaulted,omitempty"`

	CreatedAt time.Time `json:"createdAt"`

	// FullReport holds the raw upstream body when report retention is enabled.
	FullReport []byte `json:"-"`
}
