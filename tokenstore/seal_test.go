package tokenstore

import (
	"bytes"
	"errors"
	"testing"
)

func testSealer(t *testing.T, passphrase string) *Sealer {
	t.Helper()
	cfg := DefaultSealConfig()
	cfg.Memory = minSealMemoryKB
	cfg.Parallelism = 1
	s, err := NewSealer(passphrase, cfg)
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	return s
}

func TestSealOpenRoundTrip(t *testing.T) {
	s := testSealer(t, "correct horse battery")
	plain := []byte("token record bytes")

	sealed, err := s.Seal(plain)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	again, err := s.Seal(plain)
	if err != nil {
		t.Fatalf("second seal: %v", err)
	}
	if bytes.Equal(sealed, again) {
		t.Fatal("expected fresh salt and nonce per seal")
	}

	got, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("plaintext mismatch: %q", got)
	}
}

func TestOpenRejectsTamperedHeader(t *testing.T) {
	s := testSealer(t, "correct horse battery")
	sealed, err := s.Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	tampered := append([]byte{}, sealed...)
	tampered[sealHeaderFixedLen] ^= 0xFF // first salt byte
	if _, err := s.Open(tampered); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for tampered salt, got %v", err)
	}
	if _, err := s.Open(sealed[:5]); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for short blob, got %v", err)
	}
}

func TestNewSealerValidatesConfig(t *testing.T) {
	if _, err := NewSealer("short", DefaultSealConfig()); err == nil {
		t.Fatal("expected short passphrase to fail")
	}
	cfg := DefaultSealConfig()
	cfg.SaltLength = 4
	if _, err := NewSealer("long enough passphrase", cfg); err == nil {
		t.Fatal("expected short salt to fail")
	}
}
