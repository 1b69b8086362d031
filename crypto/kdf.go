package crypto

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	// KDFArgon2id is the KDF identifier stored in keystore records.
	KDFArgon2id = "Argon2id"

	// SaltLength is the Argon2id salt size.
	SaltLength = 16

	// Upper bounds applied to parameters read from disk, so a corrupted or
	// hostile record cannot make unlock allocate unbounded memory.
	maxArgon2Time      = 16
	maxArgon2MemoryKiB = 1 << 20 // 1 GiB
)

// Argon2Params are the Argon2id cost parameters.
type Argon2Params struct {
	Time        uint32 `json:"t_cost" yaml:"time"`
	MemoryKiB   uint32 `json:"m_cost" yaml:"memory_kib"`
	Parallelism uint8  `json:"p" yaml:"parallelism"`
	KeyLength   uint32 `json:"dk_len" yaml:"key_length"`
}

// DefaultArgon2Params are the fixed parameters used for new accounts:
// time cost 3, 64 MiB, 4 lanes, 32-byte key.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Time:        3,
		MemoryKiB:   65536,
		Parallelism: 4,
		KeyLength:   AESKeyLength,
	}
}

// Validate checks the parameters are usable and bounded.
func (p Argon2Params) Validate() error {
	if p.Time == 0 || p.Time > maxArgon2Time {
		return fmt.Errorf("%w: t_cost %d out of range [1,%d]", ErrInvalidKDFParams, p.Time, maxArgon2Time)
	}
	if p.Parallelism == 0 {
		return fmt.Errorf("%w: parallelism must be positive", ErrInvalidKDFParams)
	}
	if p.MemoryKiB < 8*uint32(p.Parallelism) || p.MemoryKiB > maxArgon2MemoryKiB {
		return fmt.Errorf("%w: m_cost %d out of range [%d,%d]", ErrInvalidKDFParams,
			p.MemoryKiB, 8*uint32(p.Parallelism), maxArgon2MemoryKiB)
	}
	if p.KeyLength != AESKeyLength {
		return fmt.Errorf("%w: dk_len must be %d, got %d", ErrInvalidKDFParams, AESKeyLength, p.KeyLength)
	}
	return nil
}

// DeriveKey runs Argon2id over password and salt.
// The returned key must be zeroed by the caller.
func DeriveKey(password, salt []byte, p Argon2Params) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(salt) != SaltLength {
		return nil, fmt.Errorf("%w: salt must be %d bytes, got %d", ErrInvalidKDFParams, SaltLength, len(salt))
	}
	return argon2.IDKey(password, salt, p.Time, p.MemoryKiB, p.Parallelism, p.KeyLength), nil
}

// KDFPool bounds how many Argon2id derivations run at once. Each derivation
// holds tens of MiB, so callers queue for a slot instead of all allocating
// together. Operations that do not derive keys never touch the pool.
type KDFPool struct {
	slots  chan struct{}
	mu     sync.RWMutex
	closed bool
}

// NewKDFPool creates a pool with the given number of concurrent workers.
// A non-positive count means one worker.
func NewKDFPool(workers int) *KDFPool {
	if workers <= 0 {
		workers = 1
	}
	return &KDFPool{slots: make(chan struct{}, workers)}
}

// Derive waits for a free slot (honoring ctx while waiting), then derives
// the key. Once started a derivation runs to completion.
func (p *KDFPool) Derive(ctx context.Context, password, salt []byte, params Argon2Params) ([]byte, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, ErrPoolClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-p.slots }()

	return DeriveKey(password, salt, params)
}

// Close rejects further work. In-flight derivations finish normally.
func (p *KDFPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
