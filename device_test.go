package usb

import "testing"

func TestIsValidDevicePathTable(t *testing.T) {
	for _, tc := range getDevicePathTestCases() {
		t.Run(tc.path, func(t *testing.T) {
			if got := IsValidDevicePath(tc.path); got != tc.valid {
				t.Errorf("IsValidDevicePath(%q) = %v, want %v", tc.path, got, tc.valid)
			}
		})
	}
}
