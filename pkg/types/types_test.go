package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestHash_IsZero(t *testing.T) {
	var zero Hash
	if !zero.IsZero() {
		t.Error("zero-value Hash should be zero")
	}
	if (Hash{0x01}).IsZero() {
		t.Error("non-zero Hash should not be zero")
	}
}

func TestHash_Compare(t *testing.T) {
	a := Hash{0x01}
	b := Hash{0x02}
	if !a.Less(b) {
		t.Error("0x01.. should sort before 0x02..")
	}
	if b.Less(a) {
		t.Error("0x02.. should not sort before 0x01..")
	}
	if a.Compare(a) != 0 {
		t.Error("hash should compare equal to itself")
	}
}

func TestHexToHash(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", strings.Repeat("ab", 32), false},
		{"too short", "abcd", true},
		{"not hex", strings.Repeat("zz", 32), true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := HexToHash(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("HexToHash(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && h.String() != tt.input {
				t.Errorf("String() = %s, want %s", h.String(), tt.input)
			}
		})
	}
}

func TestHash_JSON_RoundTrip(t *testing.T) {
	h := Hash{0xde, 0xad, 0xbe, 0xef}
	data, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	var got Hash
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if got != h {
		t.Errorf("roundtrip = %s, want %s", got, h)
	}
}

func TestHash_MapKeyJSON(t *testing.T) {
	m := map[Hash]int{{0x01}: 1}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	var got map[Hash]int
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if got[Hash{0x01}] != 1 {
		t.Errorf("map roundtrip lost entry: %v", got)
	}
}

func TestParseAddress(t *testing.T) {
	raw := strings.Repeat("0a", 20)
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"raw hex", raw, false},
		{"mainnet prefix", "kgx:" + raw, false},
		{"testnet prefix", "tkgx:" + raw, false},
		{"0x prefix", "0x" + raw, false},
		{"empty", "", true},
		{"short", "kgx:abcd", true},
		{"bad hex", "kgx:" + strings.Repeat("zz", 20), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ParseAddress(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAddress(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && a.Hex() != raw {
				t.Errorf("Hex() = %s, want %s", a.Hex(), raw)
			}
		})
	}
}

func TestAddress_String_Prefix(t *testing.T) {
	defer SetAddressPrefix(MainnetPrefix)

	a := Address{0x01}
	if !strings.HasPrefix(a.String(), MainnetPrefix) {
		t.Errorf("String() = %s, want %s prefix", a.String(), MainnetPrefix)
	}
	SetAddressPrefix(TestnetPrefix)
	if !strings.HasPrefix(a.String(), TestnetPrefix) {
		t.Errorf("String() = %s, want %s prefix", a.String(), TestnetPrefix)
	}
}

func TestAddress_JSON_RoundTrip(t *testing.T) {
	a := Address{0xaa, 0xbb}
	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	var got Address
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if got != a {
		t.Errorf("roundtrip = %s, want %s", got, a)
	}
}
