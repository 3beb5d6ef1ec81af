package main

import "testing"

func TestValidateCountsOptions(t *testing.T) {
	tests := []struct {
		name     string
		interval float64
		bins     int
		origin   float64
		wantErr  bool
	}{
		{"interval only", 900, 0, 0, false},
		{"interval with origin", 900, 0, 3600, false},
		{"bins only", 0, 4, 0, false},
		{"neither", 0, 0, 0, true},
		{"both", 900, 4, 0, true},
		{"bins with origin", 0, 4, 100, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateCountsOptions(tt.interval, tt.bins, tt.origin)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateCountsOptions(%v, %d, %v) = %v, wantErr %v",
					tt.interval, tt.bins, tt.origin, err, tt.wantErr)
			}
		})
	}
}
