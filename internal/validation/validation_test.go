package validation

import "testing"

func TestValidID(t *testing.T) {
	valid := []string{"alice", "ref_a1b2c3", "A-B_c9", "x"}
	for _, id := range valid {
		if !ValidID(id) {
			t.Errorf("ValidID(%q) = false, want true", id)
		}
	}

	invalid := []string{"", "has space", "semi;colon", "päivä", string(make([]byte, 80))}
	for _, id := range invalid {
		if ValidID(id) {
			t.Errorf("ValidID(%q) = true, want false", id)
		}
	}
}

func TestValidAmount(t *testing.T) {
	valid := []string{"0", "25", "25.5", "0.000001", "99999999999999.999999"}
	for _, a := range valid {
		if !ValidAmount(a) {
			t.Errorf("ValidAmount(%q) = false, want true", a)
		}
	}

	invalid := []string{"", "-1", ".5", "1.", "1.1234567", "1e6", "NaN"}
	for _, a := range invalid {
		if ValidAmount(a) {
			t.Errorf("ValidAmount(%q) = true, want false", a)
		}
	}
}

func TestValidEmail(t *testing.T) {
	if !ValidEmail("alice@example.com") {
		t.Error("plain address should validate")
	}
	for _, e := range []string{"", "no-at-sign", "@nodomain"} {
		if ValidEmail(e) {
			t.Errorf("ValidEmail(%q) = true, want false", e)
		}
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Alice@Example.COM "); got != "alice@example.com" {
		t.Errorf("NormalizeEmail = %q", got)
	}
}
