// Package crypto seals exported caption archives with a passphrase.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/argon2"
)

const (
	// MagicBytes opens every sealed archive.
	MagicBytes = "CLSA"
	// FormatVersion is the current sealed archive layout.
	FormatVersion = 1

	SaltSize  = 16
	NonceSize = 12

	// HeaderSize is magic(4) + version(4) + salt + nonce.
	HeaderSize = 4 + 4 + SaltSize + NonceSize

	// Extension is appended to sealed archive filenames.
	Extension = ".sealed"
)

var (
	ErrInvalidMagic   = errors.New("not a sealed caption archive")
	ErrInvalidVersion = errors.New("unsupported sealed archive version")
	ErrDecryptFailed  = errors.New("decryption failed: wrong passphrase or corrupted data")
	ErrEmptyPassword  = errors.New("passphrase must not be empty")
)

// KDFParams are the Argon2id cost parameters.
type KDFParams struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultKDF is used when sealing and opening archives.
var DefaultKDF = KDFParams{Time: 3, Memory: 64 * 1024, Threads: 4}

func deriveKey(password string, salt []byte, p KDFParams) []byte {
	return argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, 32)
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(password, salt, DefaultKDF))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

// Seal encrypts plaintext with AES-256-GCM under a key derived from
// password. The header is authenticated along with the ciphertext.
func Seal(plaintext []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}

	header := make([]byte, HeaderSize)
	copy(header[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(header[4:8], FormatVersion)
	if _, err := io.ReadFull(rand.Reader, header[8:]); err != nil {
		return nil, fmt.Errorf("generate salt and nonce: %w", err)
	}
	salt := header[8 : 8+SaltSize]
	nonce := header[8+SaltSize:]

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, header)
	return append(header, ciphertext...), nil
}

// Open reverses Seal.
func Open(data []byte, password string) ([]byte, error) {
	if !IsSealed(data) || len(data) < HeaderSize {
		return nil, ErrInvalidMagic
	}
	if binary.LittleEndian.Uint32(data[4:8]) != FormatVersion {
		return nil, ErrInvalidVersion
	}

	header := data[:HeaderSize]
	gcm, err := newGCM(password, header[8:8+SaltSize])
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, header[8+SaltSize:], data[HeaderSize:], header)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// SealReader reads r fully and writes the sealed bytes to dstPath.
func SealReader(r io.Reader, dstPath, password string) error {
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	sealed, err := Seal(plaintext, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dstPath, sealed, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", dstPath, err)
	}
	return nil
}

// OpenFile decrypts the sealed archive at srcPath into dstPath.
func OpenFile(srcPath, dstPath, password string) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", srcPath, err)
	}
	plaintext, err := Open(data, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dstPath, plaintext, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", dstPath, err)
	}
	return nil
}

// IsSealed reports whether data starts with the sealed archive magic.
func IsSealed(data []byte) bool {
	return len(data) >= 4 && string(data[0:4]) == MagicBytes
}
