package cache

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// EncryptedBackend wraps another Backend with AES-128-GCM: each pushed
// item gets a fresh random nonce and is authenticated against a
// monotonically increasing counter carried as associated data, so a
// swapped or replayed ciphertext fails decryption instead of silently
// returning the wrong item. Both the cipher key and the backend are
// shared across the whole save/load cycle; the counter resets per
// cycle since a new WriteBackend (and therefore a fresh nonce sequence)
// is created for each one.
type EncryptedBackend struct {
	Inner Backend
	Key   [16]byte // AES-128 key
}

// NewEncryptedBackend generates a random AES-128 key and wraps inner.
func NewEncryptedBackend(inner Backend) (*EncryptedBackend, error) {
	var key [16]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("cache: generate key: %w", err)
	}
	return &EncryptedBackend{Inner: inner, Key: key}, nil
}

func (b *EncryptedBackend) NewWrite() (WriteBackend, error) {
	block, err := aes.NewCipher(b.Key[:])
	if err != nil {
		return nil, fmt.Errorf("cache: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cache: gcm: %w", err)
	}
	inner, err := b.Inner.NewWrite()
	if err != nil {
		return nil, err
	}
	return &encryptedWriteBackend{gcm: gcm, inner: inner}, nil
}

type encryptedWriteBackend struct {
	gcm     cipher.AEAD
	inner   WriteBackend
	counter uint32
}

func counterAAD(counter uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], counter)
	return buf[:]
}

func (b *encryptedWriteBackend) Push(item []byte) error {
	nonce := make([]byte, b.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("cache: nonce: %w", err)
	}
	ciphertext := b.gcm.Seal(nil, nonce, item, counterAAD(b.counter))
	b.counter++

	frame := make([]byte, 0, 4+len(nonce)+len(ciphertext))
	var nonceLen [4]byte
	binary.BigEndian.PutUint32(nonceLen[:], uint32(len(nonce)))
	frame = append(frame, nonceLen[:]...)
	frame = append(frame, nonce...)
	frame = append(frame, ciphertext...)
	return b.inner.Push(frame)
}

func (b *encryptedWriteBackend) IntoRead() (ReadBackend, error) {
	inner, err := b.inner.IntoRead()
	if err != nil {
		return nil, err
	}
	// The read side's counter must count down from the write side's
	// final value since items come back in LIFO (most-recent-first)
	// order, the reverse of the order their counters were assigned.
	return &encryptedReadBackend{gcm: b.gcm, countdown: b.counter, inner: inner}, nil
}

type encryptedReadBackend struct {
	gcm       cipher.AEAD
	countdown uint32
	inner     ReadBackend
}

func (b *encryptedReadBackend) Pop() ([]byte, error) {
	frame, err := b.inner.Pop()
	if err != nil {
		return nil, err
	}
	if len(frame) < 4 {
		return nil, fmt.Errorf("cache: encrypted frame too short")
	}
	nonceLen := binary.BigEndian.Uint32(frame[0:4])
	if uint32(len(frame)) < 4+nonceLen {
		return nil, fmt.Errorf("cache: encrypted frame truncated")
	}
	nonce := frame[4 : 4+nonceLen]
	ciphertext := frame[4+nonceLen:]

	b.countdown--
	plaintext, err := b.gcm.Open(nil, nonce, ciphertext, counterAAD(b.countdown))
	if err != nil {
		return nil, fmt.Errorf("cache: authentication failed: %w", err)
	}
	return plaintext, nil
}
