// Package crypto provides the cryptographic primitives of the Bluetti BLE
// handshake: challenge key derivation, ECDH P-256 with raw 64-byte public
// keys, HKDF-SHA256 session key derivation, and AES-CBC framing with a
// plaintext length prefix.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// ChallengeSize is the length of the device's challenge payload.
	ChallengeSize = 4
	// PublicKeySize is the raw x||y encoding exchanged on the wire.
	PublicKeySize = 64
	// SeedSize is the per-message IV seed prefixed to sealed data frames.
	SeedSize = 4

	lengthSize = 2
)

// DefaultLocalKey is the static AES-128 key baked into the firmware. It is
// mixed with the device challenge to produce the unsecure handshake key.
var DefaultLocalKey = []byte{
	0x45, 0x9F, 0xC5, 0x35, 0x80, 0x89, 0x41, 0xF1,
	0x70, 0x91, 0xE0, 0x99, 0x3E, 0xE3, 0xE9, 0x3D,
}

var (
	// ErrInvalidKey is returned for keys or IVs of the wrong size.
	ErrInvalidKey = errors.New("ble/crypto: invalid key")
	// ErrCiphertext is returned for frames that cannot be decrypted.
	ErrCiphertext = errors.New("ble/crypto: malformed ciphertext")
)

// DeriveChallengeKey computes the unsecure key and IV from the device's
// challenge: iv = MD5(reverse(challenge)), key = localKey XOR iv.
func DeriveChallengeKey(localKey, challenge []byte) (key, iv []byte, err error) {
	if len(localKey) != aes.BlockSize {
		return nil, nil, fmt.Errorf("%w: local key must be %d bytes, got %d", ErrInvalidKey, aes.BlockSize, len(localKey))
	}
	if len(challenge) != ChallengeSize {
		return nil, nil, fmt.Errorf("ble/crypto: challenge must be %d bytes, got %d", ChallengeSize, len(challenge))
	}
	reversed := make([]byte, ChallengeSize)
	for i, b := range challenge {
		reversed[ChallengeSize-1-i] = b
	}
	sum := md5.Sum(reversed)
	iv = sum[:]
	key = make([]byte, aes.BlockSize)
	for i := range key {
		key[i] = localKey[i] ^ iv[i]
	}
	return key, iv, nil
}

// ChallengeResponse returns the proof sent back in the clear after a
// challenge: bytes 8..11 of the derived IV.
func ChallengeResponse(iv []byte) ([]byte, error) {
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", ErrInvalidKey, aes.BlockSize, len(iv))
	}
	resp := make([]byte, ChallengeSize)
	copy(resp, iv[8:12])
	return resp, nil
}

// GenerateKeyPair creates an ephemeral ECDH P-256 key pair.
func GenerateKeyPair(r io.Reader) (*ecdh.PrivateKey, *ecdh.PublicKey, error) {
	if r == nil {
		r = rand.Reader
	}
	priv, err := ecdh.P256().GenerateKey(r)
	if err != nil {
		return nil, nil, fmt.Errorf("ble/crypto: generate key: %w", err)
	}
	return priv, priv.PublicKey(), nil
}

// EncodePublicKey returns the 64-byte x||y form (uncompressed SEC1 without
// the 0x04 prefix) the firmware expects.
func EncodePublicKey(pub *ecdh.PublicKey) []byte {
	raw := pub.Bytes()
	out := make([]byte, PublicKeySize)
	copy(out, raw[1:])
	return out
}

// ParsePublicKey parses a 64-byte x||y P-256 public key.
func ParsePublicKey(data []byte) (*ecdh.PublicKey, error) {
	if len(data) != PublicKeySize {
		return nil, fmt.Errorf("ble/crypto: public key must be %d bytes, got %d", PublicKeySize, len(data))
	}
	uncompressed := make([]byte, 1+PublicKeySize)
	uncompressed[0] = 0x04
	copy(uncompressed[1:], data)
	pub, err := ecdh.P256().NewPublicKey(uncompressed)
	if err != nil {
		return nil, fmt.Errorf("ble/crypto: parse public key: %w", err)
	}
	return pub, nil
}

// DeriveSharedSecret performs ECDH and returns the raw shared secret.
func DeriveSharedSecret(priv *ecdh.PrivateKey, peerPub *ecdh.PublicKey) ([]byte, error) {
	secret, err := priv.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("ble/crypto: ECDH: %w", err)
	}
	return secret, nil
}

// DeriveSessionKey expands the ECDH secret with HKDF-SHA256 into a 32-byte
// AES-256 key followed by a 16-byte IV.
func DeriveSessionKey(sharedSecret []byte) (key, iv []byte, err error) {
	r := hkdf.New(sha256.New, sharedSecret, nil, []byte("bluetti"))
	out := make([]byte, 32+aes.BlockSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, nil, fmt.Errorf("ble/crypto: HKDF: %w", err)
	}
	return out[:32], out[32:], nil
}

// Encrypt pads plaintext with zeros to the block size, encrypts it with
// AES-CBC and prefixes the plaintext length:
//
//	length (2, BE) | ciphertext
func Encrypt(plaintext, key, iv []byte) ([]byte, error) {
	mode, err := newCBC(key, iv, true)
	if err != nil {
		return nil, err
	}
	if len(plaintext) > 0xFFFF {
		return nil, fmt.Errorf("ble/crypto: plaintext of %d bytes is too long", len(plaintext))
	}
	padded := make([]byte, roundUp(len(plaintext)))
	copy(padded, plaintext)

	out := make([]byte, lengthSize+len(padded))
	binary.BigEndian.PutUint16(out, uint16(len(plaintext)))
	mode.CryptBlocks(out[lengthSize:], padded)
	return out, nil
}

// Decrypt reverses Encrypt.
func Decrypt(data, key, iv []byte) ([]byte, error) {
	if len(data) < lengthSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrCiphertext, len(data))
	}
	n := int(binary.BigEndian.Uint16(data))
	body := data[lengthSize:]
	if len(body)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: body of %d bytes is not block aligned", ErrCiphertext, len(body))
	}
	if n > len(body) {
		return nil, fmt.Errorf("%w: length prefix %d exceeds body of %d bytes", ErrCiphertext, n, len(body))
	}
	mode, err := newCBC(key, iv, false)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(body))
	mode.CryptBlocks(plain, body)
	return plain[:n], nil
}

// Seal encrypts a data-transport frame with a fresh IV derived from a
// random seed:
//
//	length (2, BE) | seed (4) | AES-CBC(key, MD5(seed))
func Seal(plaintext, key []byte, r io.Reader) ([]byte, error) {
	if r == nil {
		r = rand.Reader
	}
	seed := make([]byte, SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("ble/crypto: random seed: %w", err)
	}
	iv := md5.Sum(seed)
	enc, err := Encrypt(plaintext, key, iv[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(enc)+SeedSize)
	out = append(out, enc[:lengthSize]...)
	out = append(out, seed...)
	out = append(out, enc[lengthSize:]...)
	return out, nil
}

// Open reverses Seal.
func Open(data, key []byte) ([]byte, error) {
	if len(data) < lengthSize+SeedSize {
		return nil, fmt.Errorf("%w: sealed frame of %d bytes", ErrCiphertext, len(data))
	}
	iv := md5.Sum(data[lengthSize : lengthSize+SeedSize])
	framed := make([]byte, 0, len(data)-SeedSize)
	framed = append(framed, data[:lengthSize]...)
	framed = append(framed, data[lengthSize+SeedSize:]...)
	return Decrypt(framed, key, iv[:])
}

// Zero overwrites b in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func newCBC(key, iv []byte, encrypt bool) (cipher.BlockMode, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", ErrInvalidKey, aes.BlockSize, len(iv))
	}
	if encrypt {
		return cipher.NewCBCEncrypter(block, iv), nil
	}
	return cipher.NewCBCDecrypter(block, iv), nil
}

func roundUp(n int) int {
	return (n + aes.BlockSize - 1) / aes.BlockSize * aes.BlockSize
}
