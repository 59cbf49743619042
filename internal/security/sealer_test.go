package security

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestSealer_RoundTrip(t *testing.T) {
	s, err := NewSealer(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	sealed, err := s.Seal("ya29.access-token", "session-1")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !strings.HasPrefix(sealed, sealedPrefix) || strings.Contains(sealed, "ya29") {
		t.Fatalf("sealed value leaks plaintext: %q", sealed)
	}
	again, _ := s.Seal("ya29.access-token", "session-1")
	if again == sealed {
		t.Error("nonces must differ between seals")
	}
	got, err := s.Open(sealed, "session-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got != "ya29.access-token" {
		t.Errorf("Open = %q", got)
	}
}

func TestSealer_Rejects(t *testing.T) {
	s, _ := NewSealer(bytes.Repeat([]byte{7}, 32))
	other, _ := NewSealer(bytes.Repeat([]byte{8}, 32))
	sealed, _ := s.Seal("token", "session-1")

	if _, err := s.Open(sealed, "session-2"); !errors.Is(err, ErrUnseal) {
		t.Errorf("wrong additional data = %v, want ErrUnseal", err)
	}
	if _, err := other.Open(sealed, "session-1"); !errors.Is(err, ErrUnseal) {
		t.Errorf("wrong key = %v, want ErrUnseal", err)
	}
	if _, err := s.Open(sealedPrefix+"!!", "session-1"); !errors.Is(err, ErrUnseal) {
		t.Errorf("bad encoding = %v, want ErrUnseal", err)
	}
	var none *Sealer
	if _, err := none.Open(sealed, "session-1"); !errors.Is(err, ErrUnseal) {
		t.Errorf("nil sealer on sealed value = %v, want ErrUnseal", err)
	}
}

func TestSealer_NilPassesThrough(t *testing.T) {
	s, err := NewSealer(nil)
	if err != nil || s != nil {
		t.Fatalf("NewSealer(nil) = %v, %v; want nil, nil", s, err)
	}
	sealed, err := s.Seal("plain", "x")
	if err != nil || sealed != "plain" {
		t.Errorf("nil Seal = %q, %v", sealed, err)
	}
	got, err := s.Open("plain", "x")
	if err != nil || got != "plain" {
		t.Errorf("nil Open = %q, %v", got, err)
	}
	if _, err := NewSealer([]byte("short")); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("short key = %v, want ErrInvalidKey", err)
	}
}

func TestFingerprint(t *testing.T) {
	if Fingerprint("") != "" {
		t.Error("empty token should have empty fingerprint")
	}
	a, b := Fingerprint("token-a"), Fingerprint("token-b")
	if len(a) != 12 || a == b {
		t.Errorf("fingerprints %q %q", a, b)
	}
	if Fingerprint("token-a") != a {
		t.Error("fingerprint must be stable")
	}
}
