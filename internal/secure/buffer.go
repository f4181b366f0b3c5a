// Package secure holds sensitive byte buffers in protected memory.
//
// Tokens and generated secret values are sealed into memguard enclaves,
// which encrypt the data at rest in memory and mlock it against
// swapping. Plaintext exists only inside short-lived locked buffers
// that callers must destroy when the call that needed them completes.
// Call memguard.Purge in main on exit to scrub the session key.
package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// Buffer seals a sensitive value. The plaintext passed to Seal is wiped
// as part of sealing; afterwards it exists only encrypted until opened.
type Buffer struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	destroyed bool
}

// Seal copies data into an encrypted enclave and wipes the input slice.
func Seal(data []byte) *Buffer {
	// memguard.NewEnclave wipes its input buffer after sealing.
	return &Buffer{enclave: memguard.NewEnclave(data)}
}

// SealString seals a string value. The string's own backing array
// cannot be wiped; callers should avoid keeping references to it.
func SealString(s string) *Buffer {
	return Seal([]byte(s))
}

// Open decrypts the value into a locked buffer. The caller must call
// Destroy on the result as soon as the value is no longer needed:
//
//	lb, err := buf.Open()
//	if err != nil {
//		return err
//	}
//	defer lb.Destroy()
//	use(lb.Bytes())
func (b *Buffer) Open() (*memguard.LockedBuffer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.destroyed || b.enclave == nil {
		return memguard.NewBufferFromBytes([]byte{}), nil
	}
	return b.enclave.Open()
}

// Destroy drops the enclave and prevents further use. Idempotent.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return
	}
	b.enclave = nil
	b.destroyed = true
}

// Wipe zeroes a plaintext working buffer, such as a formatted
// Authorization header, once it has served its purpose.
func Wipe(buf []byte) {
	memguard.WipeBytes(buf)
}
