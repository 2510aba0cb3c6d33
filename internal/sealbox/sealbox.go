// SPDX-License-Identifier: MIT

// Package sealbox encrypts credential blobs at rest with AES-256-GCM.
//
// Stored layout is base64(nonce || tag || ciphertext): 12-byte random nonce,
// 16-byte auth tag, then the ciphertext body. The tag-before-body layout is
// part of the stored format and must not change without a migration.
package sealbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	nonceSize = 12
	tagSize   = 16
)

var (
	ErrEmptySeed       = errors.New("sealbox: encryption seed must not be empty")
	ErrCiphertextShort = errors.New("sealbox: ciphertext too short")
)

// Box seals and opens credential blobs with a key derived from a seed.
type Box struct {
	aead cipher.AEAD
}

// New derives an AES-256 key from seed (SHA-256) and returns a ready Box.
func New(seed []byte) (*Box, error) {
	if len(seed) == 0 {
		return nil, ErrEmptySeed
	}
	key := sha256.Sum256(seed)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("sealbox: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("sealbox: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Seal encrypts plain and returns the base64 stored form.
func (b *Box) Seal(plain []byte) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("sealbox: nonce: %w", err)
	}

	// GCM appends the tag after the ciphertext; the stored layout wants
	// nonce || tag || body, so split and reorder.
	sealed := b.aead.Seal(nil, nonce, plain, nil)
	body := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	out := make([]byte, 0, nonceSize+tagSize+len(body))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, body...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts the base64 stored form produced by Seal.
func (b *Box) Open(stored string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return nil, fmt.Errorf("sealbox: decode: %w", err)
	}
	if len(raw) < nonceSize+tagSize {
		return nil, ErrCiphertextShort
	}
	nonce := raw[:nonceSize]
	tag := raw[nonceSize : nonceSize+tagSize]
	body := raw[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(body)+tagSize)
	sealed = append(sealed, body...)
	sealed = append(sealed, tag...)

	plain, err := b.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("sealbox: open: %w", err)
	}
	return plain, nil
}
