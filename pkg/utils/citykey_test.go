package utils

import "testing"

func TestNormalizeCityKey(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Jabalpur", "jabalpur"},
		{"jabalpur", "jabalpur"},
		{"Jabalpur, Madhya Pradesh", "jabalpur"},
		{"Jabalpur City", "jabalpur"},
		{"Jabalpur District", "jabalpur"},
		{"  Mumbai  ", "mumbai"},
		{"Greater Mumbai Municipal Corporation", "greater mumbai"},
		{"New Delhi", "new delhi"},
		{"Bengaluru, Karnataka, India", "bengaluru"},
		{"", ""},
		{"   ", ""},
		{"Pune!", "pune"},
	}

	for _, tc := range cases {
		if got := NormalizeCityKey(tc.in); got != tc.want {
			t.Errorf("NormalizeCityKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeCityKeyMatchesAcrossForms(t *testing.T) {
	// A driver online in "jabalpur" must receive requests whose source
	// resolves to the fully qualified name.
	driver := NormalizeCityKey("jabalpur")
	traveler := NormalizeCityKey("Jabalpur, Madhya Pradesh")
	if driver != traveler {
		t.Fatalf("keys do not match: driver=%q traveler=%q", driver, traveler)
	}
}
