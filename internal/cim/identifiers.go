package cim

import (
	"strings"
	"time"
)

const (
	gsrnLength = 18
	glnLength  = 13

	// TimeLayout is the wire layout for createdDateTime.
	TimeLayout = "2006-01-02T15:04:05Z"
)

// ValidateGSRN checks an 18-digit metering point identifier.
func ValidateGSRN(value string) error {
	if !allDigits(value, gsrnLength) {
		return &ValidationError{Field: "gsrn", Value: value}
	}
	return nil
}

// ValidateGLN checks a 13-digit market participant identifier.
func ValidateGLN(value string) error {
	if !allDigits(value, glnLength) {
		return &ValidationError{Field: "gln", Value: value}
	}
	return nil
}

func allDigits(value string, length int) bool {
	if len(value) != length {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var timeLayouts = []string{
	time.RFC3339Nano,
	TimeLayout,
	"2006-01-02T15:04Z",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime parses the timestamp shapes seen in market documents and returns UTC.
func ParseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, &ValidationError{Field: "timestamp", Value: value}
}

// FormatTime renders t in the wire layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}
