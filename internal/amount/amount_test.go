package amount

import (
	"fmt"
	"testing"
)

func TestToFixedPoint(t *testing.T) {
	cases := []struct {
		in        string
		precision int
		want      string
		wantErr   bool
	}{
		{"100.5", 6, "100500000", false},
		{"0.000001", 6, "1", false},
		{"1", 18, "1000000000000000000", false},
		{"0", 6, "0", false},
		{"0.0", 6, "0", false},
		{"1.2345678", 6, "1234567", false}, // excess precision truncates
		{"12.34", 0, "12", false},
		{"abc", 6, "", true},
		{"1.2.3", 6, "", true},
		{"-1", 6, "", true},
		{"", 6, "", true},
	}
	for _, tc := range cases {
		got, err := ToFixedPoint(tc.in, tc.precision)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ToFixedPoint(%q,%d): expected error", tc.in, tc.precision)
			}
			continue
		}
		if err != nil {
			t.Errorf("ToFixedPoint(%q,%d): %v", tc.in, tc.precision, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ToFixedPoint(%q,%d) = %q, want %q", tc.in, tc.precision, got, tc.want)
		}
	}
}

func TestFromFixedPoint(t *testing.T) {
	cases := []struct {
		in        string
		precision int
		want      string
	}{
		{"100500000", 6, "100.5"},
		{"1", 6, "0.000001"},
		{"1000000", 6, "1"},
		{"0", 6, "0"},
		{"12", 0, "12"},
		{"1000000000000000000", 18, "1"},
	}
	for _, tc := range cases {
		got, err := FromFixedPoint(tc.in, tc.precision)
		if err != nil {
			t.Errorf("FromFixedPoint(%q,%d): %v", tc.in, tc.precision, err)
			continue
		}
		if got != tc.want {
			t.Errorf("FromFixedPoint(%q,%d) = %q, want %q", tc.in, tc.precision, got, tc.want)
		}
	}

	if _, err := FromFixedPoint("-5", 6); err == nil {
		t.Error("expected error for negative base units")
	}
}

func TestRoundTrip(t *testing.T) {
	values := []string{"0", "1", "999999", "1000000", "100500000", "123456789012345678901234567890"}
	for _, v := range values {
		for p := 0; p <= 18; p += 6 {
			dec, err := FromFixedPoint(v, p)
			if err != nil {
				t.Fatalf("FromFixedPoint(%q,%d): %v", v, p, err)
			}
			back, err := ToFixedPoint(dec, p)
			if err != nil {
				t.Fatalf("ToFixedPoint(%q,%d): %v", dec, p, err)
			}
			if back != v {
				t.Errorf("round trip %s at precision %d: got %s via %s", v, p, back, dec)
			}
		}
	}
}

func ExampleToFixedPoint() {
	v, _ := ToFixedPoint("100.5", 6)
	fmt.Println(v)
	// Output: 100500000
}
