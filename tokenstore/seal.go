package tokenstore

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	sealFormatVersion byte = 1

	minSealMemoryKB    uint32 = 8 * 1024
	minSealTimeCost    uint32 = 1
	minSealParallelism uint8  = 1
	minSealSaltLength  uint8  = 16
	minPassphraseBytes        = 8

	// version + memory + time + parallelism + salt length
	sealHeaderFixedLen = 1 + 4 + 4 + 1 + 1
)

// SealConfig holds the argon2id cost parameters used to derive the sealing
// key from a passphrase. They are written into every sealed blob, so changing
// them does not break existing files.
type SealConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint8
}

// DefaultSealConfig returns interactive-login cost parameters.
func DefaultSealConfig() SealConfig {
	return SealConfig{
		Memory:      64 * 1024,
		Time:        1,
		Parallelism: 4,
		SaltLength:  16,
	}
}

// Sealer encrypts record blobs with XChaCha20-Poly1305 under an argon2id
// key derived from a passphrase.
type Sealer struct {
	passphrase []byte
	config     SealConfig
}

// NewSealer validates cfg and returns a Sealer for passphrase.
func NewSealer(passphrase string, cfg SealConfig) (*Sealer, error) {
	if len(passphrase) < minPassphraseBytes {
		return nil, fmt.Errorf("passphrase must be at least %d bytes", minPassphraseBytes)
	}
	if err := validateSealConfig(cfg); err != nil {
		return nil, err
	}
	return &Sealer{passphrase: []byte(passphrase), config: cfg}, nil
}

func validateSealConfig(cfg SealConfig) error {
	if cfg.Memory < minSealMemoryKB {
		return fmt.Errorf("seal memory must be >= %d KB", minSealMemoryKB)
	}
	if cfg.Time < minSealTimeCost {
		return fmt.Errorf("seal time must be >= %d", minSealTimeCost)
	}
	if cfg.Parallelism < minSealParallelism {
		return fmt.Errorf("seal parallelism must be >= %d", minSealParallelism)
	}
	if cfg.SaltLength < minSealSaltLength {
		return fmt.Errorf("seal salt length must be >= %d", minSealSaltLength)
	}
	return nil
}

// Seal encrypts plaintext. The header carrying the KDF parameters is
// authenticated as associated data.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, s.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	var header bytes.Buffer
	header.WriteByte(sealFormatVersion)
	_ = binary.Write(&header, binary.BigEndian, s.config.Memory)
	_ = binary.Write(&header, binary.BigEndian, s.config.Time)
	header.WriteByte(s.config.Parallelism)
	header.WriteByte(s.config.SaltLength)
	header.Write(salt)

	aead, err := chacha20poly1305.NewX(s.deriveKey(salt, s.config))
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, header.Len()+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, header.Bytes()...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, header.Bytes()), nil
}

// Open reverses Seal. A wrong passphrase and a tampered blob are
// indistinguishable and both wrap ErrCorrupt.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < sealHeaderFixedLen {
		return nil, fmt.Errorf("%w: sealed blob too short", ErrCorrupt)
	}
	if sealed[0] != sealFormatVersion {
		return nil, fmt.Errorf("%w: unknown seal version %d", ErrCorrupt, sealed[0])
	}

	cfg := SealConfig{
		Memory:      binary.BigEndian.Uint32(sealed[1:5]),
		Time:        binary.BigEndian.Uint32(sealed[5:9]),
		Parallelism: sealed[9],
		SaltLength:  sealed[10],
	}
	if err := validateSealConfig(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	headerLen := sealHeaderFixedLen + int(cfg.SaltLength)
	if len(sealed) < headerLen+chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("%w: sealed blob too short", ErrCorrupt)
	}
	header := sealed[:headerLen]
	salt := header[sealHeaderFixedLen:]
	nonce := sealed[headerLen : headerLen+chacha20poly1305.NonceSizeX]
	ciphertext := sealed[headerLen+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(s.deriveKey(salt, cfg))
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, errors.New("authentication failed"))
	}
	return plaintext, nil
}

func (s *Sealer) deriveKey(salt []byte, cfg SealConfig) []byte {
	return argon2.IDKey(s.passphrase, salt, cfg.Time, cfg.Memory, cfg.Parallelism, chacha20poly1305.KeySize)
}
