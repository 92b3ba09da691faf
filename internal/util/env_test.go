package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue bool
		expected     bool
	}{
		{"unset uses default true", "", true, true},
		{"unset uses default false", "", false, false},
		{"true", "true", false, true},
		{"one", "1", false, true},
		{"yes", "yes", false, true},
		{"on", "on", false, true},
		{"uppercase TRUE", "TRUE", false, true},
		{"false", "false", true, false},
		{"zero", "0", true, false},
		{"no", "no", true, false},
		{"off", "off", true, false},
		{"padded value", "  true  ", false, true},
		{"garbage uses default", "banana", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv("TEST_BOOL_ENV", tt.value)
			}
			got := ParseBoolEnv("TEST_BOOL_ENV", tt.defaultValue)
			if got != tt.expected {
				t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.defaultValue, got, tt.expected)
			}
		})
	}
}

func TestParseIntEnv(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue int
		expected     int
	}{
		{"unset uses default", "", 10, 10},
		{"valid value", "42", 10, 42},
		{"padded value", " 7 ", 10, 7},
		{"garbage uses default", "ten", 10, 10},
		{"zero uses default", "0", 10, 10},
		{"negative uses default", "-5", 10, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv("TEST_INT_ENV", tt.value)
			}
			got := ParseIntEnv("TEST_INT_ENV", tt.defaultValue)
			if got != tt.expected {
				t.Errorf("ParseIntEnv(%q, %d) = %d, want %d", tt.value, tt.defaultValue, got, tt.expected)
			}
		})
	}
}
