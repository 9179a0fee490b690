package sipuri

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"brackets and params", "<sip:200@TEST.COM;transport=tcp>", "sip:200@test.com"},
		{"default port dropped", "sip:200@test.com:5060", "sip:200@test.com"},
		{"missing scheme", "200@test.com", "sip:200@test.com"},
		{"user case preserved", "sip:User@HOST.COM", "sip:User@host.com"},
		{"empty", "", ""},
		{"non-default port kept", "sip:200@test.com:5080", "sip:200@test.com:5080"},
		{"sips scheme preserved", "sips:200@test.com", "sips:200@test.com"},
		{"no user part", "sip:TEST.COM", "sip:test.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"<sip:200@TEST.COM;transport=tcp>",
		"sip:200@test.com:5060",
		"200@test.com",
		"sip:User@HOST.COM",
		"",
		"sips:alice@Example.Com;user=phone",
	}

	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}
