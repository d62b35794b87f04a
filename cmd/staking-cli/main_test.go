package main

import "testing"

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"1", 100_000_000, false},
		{"0.5", 50_000_000, false},
		{"1.00000001", 100_000_001, false},
		{"333", 33_300_000_000, false},
		{"", 0, true},
		{"-1", 0, true},
		{"1.000000001", 0, true},
		{"abc", 0, true},
		{"1.x", 0, true},
		{"999999999999", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseAmount(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseAmount(%q) = %d, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseAmount(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("parseAmount(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0.00000000"},
		{1, "0.00000001"},
		{100_000_000, "1.00000000"},
		{150_000_000, "1.50000000"},
	}
	for _, tt := range tests {
		if got := formatAmount(tt.in); got != tt.want {
			t.Errorf("formatAmount(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParamFlags(t *testing.T) {
	p := paramFlags{}
	if err := p.Set("base_reward=7"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if p["base_reward"] != "7" {
		t.Errorf("base_reward = %q", p["base_reward"])
	}
	if err := p.Set("novalue"); err == nil {
		t.Error("Set accepted a flag without '='")
	}
	if err := p.Set("=1"); err == nil {
		t.Error("Set accepted an empty key")
	}
}
