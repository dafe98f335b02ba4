// Package integrity signs and verifies persisted cache blobs with a
// workspace-keyed MAC and detects expiry (spec §4.2). Verification failure
// is non-fatal by contract: callers discard the blob and start empty.
//
// The MAC primitive itself is the one ambient concern in this repository
// built on the standard library rather than a corpus dependency: no example
// in the retrieval pack reaches for a third-party HMAC/MAC library — crypto/
// hmac plus crypto/sha256 is the idiomatic choice the whole ecosystem uses
// for this, and the corpus offers nothing more specific to "sign a byte
// blob" than that.
package integrity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"time"

	"github.com/GriffinCanCode/Builder-sub003/internal/errs"
)

// SignedBlob wraps a persisted payload with a creation timestamp and MAC
// (spec §3 "Persisted cache blob").
type SignedBlob struct {
	Data    []byte
	Created time.Time
	MAC     []byte
}

// DefaultMaxAge is the expiry threshold spec §4.2 defaults to.
const DefaultMaxAge = 30 * 24 * time.Hour

// Signer derives MACs from a workspace-specific secret. Rotating workspaces
// (a different key) invalidates every prior blob, by design.
type Signer struct {
	key []byte
}

// New returns a Signer keyed from the given workspace secret (typically
// config.Config.WorkspaceKey).
func New(workspaceKey string) *Signer {
	return &Signer{key: []byte(workspaceKey)}
}

// Sign wraps data in a SignedBlob stamped with the current time and a MAC
// over data followed by the RFC 3339 (nanosecond, UTC) creation time.
func (s *Signer) Sign(data []byte) SignedBlob {
	now := time.Now()
	return SignedBlob{
		Data:    data,
		Created: now,
		MAC:     s.mac(data, now),
	}
}

// Verify reports whether blob's MAC is valid for the current workspace key.
// It does not check expiry; call IsExpired separately.
func (s *Signer) Verify(blob SignedBlob) bool {
	want := s.mac(blob.Data, blob.Created)
	return hmac.Equal(want, blob.MAC)
}

// IsExpired reports whether blob was created more than maxAge ago.
func (s *Signer) IsExpired(blob SignedBlob, maxAge time.Duration) bool {
	return time.Since(blob.Created) > maxAge
}

func (s *Signer) mac(data []byte, created time.Time) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write(data)
	stamp := created.UTC().Format(time.RFC3339Nano)
	h.Write([]byte(stamp))
	return h.Sum(nil)
}

// Marshal serializes blob to the on-disk framing every cache/checkpoint
// file shares: created(int64 ns) | macLen(uint32) | mac | data.
func Marshal(blob SignedBlob) []byte {
	out := make([]byte, 0, 8+4+len(blob.MAC)+len(blob.Data))
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(blob.Created.UnixNano()))
	out = append(out, tsBuf[:]...)
	var macLenBuf [4]byte
	binary.BigEndian.PutUint32(macLenBuf[:], uint32(len(blob.MAC)))
	out = append(out, macLenBuf[:]...)
	out = append(out, blob.MAC...)
	out = append(out, blob.Data...)
	return out
}

// Unmarshal parses the framing written by Marshal.
func Unmarshal(raw []byte) (SignedBlob, error) {
	if len(raw) < 12 {
		return SignedBlob{}, errs.New(errs.Cache, "", "CorruptCache", io.ErrUnexpectedEOF)
	}
	ts := int64(binary.BigEndian.Uint64(raw[0:8]))
	macLen := binary.BigEndian.Uint32(raw[8:12])
	if len(raw) < 12+int(macLen) {
		return SignedBlob{}, errs.New(errs.Cache, "", "CorruptCache", io.ErrUnexpectedEOF)
	}
	mac := raw[12 : 12+macLen]
	data := raw[12+macLen:]
	return SignedBlob{
		Data:    data,
		Created: time.Unix(0, ts),
		MAC:     append([]byte(nil), mac...),
	}, nil
}
