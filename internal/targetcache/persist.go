package targetcache

import (
	"os"
	"time"

	"github.com/GriffinCanCode/Builder-sub003/internal/atomicfile"
	"github.com/GriffinCanCode/Builder-sub003/internal/binstore"
	"github.com/GriffinCanCode/Builder-sub003/internal/eviction"
	"github.com/GriffinCanCode/Builder-sub003/internal/graph"
	"github.com/GriffinCanCode/Builder-sub003/internal/hasher"
	"github.com/GriffinCanCode/Builder-sub003/internal/integrity"
	"github.com/GriffinCanCode/Builder-sub003/internal/logging"
)

// Save persists c as a SignedBlob-wrapped, BinaryStore-encoded file at path
// (spec §6: "targets.bin").
func Save(c *TargetCache, path string, signer *integrity.Signer) error {
	c.mu.Lock()
	ids := make([]graph.TargetId, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	w := binstore.NewWriter()
	for _, id := range ids {
		e := c.entries[id]
		w.String(string(e.TargetId))
		w.Bytes(e.BuildHash[:])
		w.Int64(e.Timestamp.UnixNano())
		w.Int64(e.LastAccess.UnixNano())
		w.Bytes(e.MetadataHash[:])

		w.Uint32(uint32(len(e.SourceHashes)))
		for p, d := range e.SourceHashes {
			w.String(p)
			w.Bytes(d[:])
		}
		w.Uint32(uint32(len(e.DepHashes)))
		for t, d := range e.DepHashes {
			w.String(string(t))
			w.Bytes(d[:])
		}
		w.Bytes(e.OutputHash[:])
		w.Uint32(uint32(len(e.Outputs)))
		for _, o := range e.Outputs {
			w.String(o)
		}
	}
	count := uint32(len(ids))
	c.mu.Unlock()

	framed := binstore.Encode(count, w.Body())
	blob := signer.Sign(framed)
	return atomicfile.WriteCompressed(path, integrity.Marshal(blob), 0o644)
}

// Load reads path and reconstructs a TargetCache. A missing file yields an
// empty cache without a warning. Any other failure — unreadable or
// undecompressable file, verify failure, version mismatch, corrupt UTF-8 —
// is non-fatal: it is logged at warning level and an empty cache bounded by
// budget is returned (spec §4.2, §7: cache errors are always recovered
// locally).
func Load(path string, signer *integrity.Signer, budget eviction.Budget, log logging.Logger) *TargetCache {
	c := New(budget)
	raw, err := atomicfile.ReadCompressed(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("targetcache: discarding unreadable cache file %s: %v", path, err)
		}
		return c // a missing cache file is not an error
	}
	blob, err := integrity.Unmarshal(raw)
	if err != nil {
		log.Warnf("targetcache: discarding corrupt cache file %s: %v", path, err)
		return c
	}
	if !signer.Verify(blob) {
		log.Warnf("targetcache: discarding %s: signature verification failed", path)
		return c
	}
	if signer.IsExpired(blob, integrity.DefaultMaxAge) {
		log.Warnf("targetcache: discarding %s: expired", path)
		return c
	}

	count, r, err := binstore.Decode(blob.Data)
	if err != nil {
		log.Warnf("targetcache: discarding %s: %v", path, err)
		return New(budget)
	}

	for i := uint32(0); i < count; i++ {
		e, err := decodeEntry(r)
		if err != nil {
			log.Warnf("targetcache: discarding %s: %v", path, err)
			return New(budget)
		}
		c.entries[e.TargetId] = e
	}
	return c
}

func decodeEntry(r *binstore.Reader) (*CacheEntry, error) {
	id, err := r.String()
	if err != nil {
		return nil, err
	}
	e := &CacheEntry{TargetId: graph.TargetId(id)}

	buildHash, err := r.Bytes()
	if err != nil {
		return nil, err
	}
	copy(e.BuildHash[:], buildHash)

	ts, err := r.Int64()
	if err != nil {
		return nil, err
	}
	e.Timestamp = time.Unix(0, ts)

	la, err := r.Int64()
	if err != nil {
		return nil, err
	}
	e.LastAccess = time.Unix(0, la)

	metaHash, err := r.Bytes()
	if err != nil {
		return nil, err
	}
	copy(e.MetadataHash[:], metaHash)

	srcCount, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	e.SourceHashes = make(map[string]hasher.Digest, srcCount)
	for i := uint32(0); i < srcCount; i++ {
		p, err := r.String()
		if err != nil {
			return nil, err
		}
		d, err := r.Bytes()
		if err != nil {
			return nil, err
		}
		var dg hasher.Digest
		copy(dg[:], d)
		e.SourceHashes[p] = dg
	}

	depCount, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	e.DepHashes = make(map[graph.TargetId]hasher.Digest, depCount)
	for i := uint32(0); i < depCount; i++ {
		t, err := r.String()
		if err != nil {
			return nil, err
		}
		d, err := r.Bytes()
		if err != nil {
			return nil, err
		}
		var dg hasher.Digest
		copy(dg[:], d)
		e.DepHashes[graph.TargetId(t)] = dg
	}

	outHash, err := r.Bytes()
	if err != nil {
		return nil, err
	}
	copy(e.OutputHash[:], outHash)

	outCount, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < outCount; i++ {
		o, err := r.String()
		if err != nil {
			return nil, err
		}
		e.Outputs = append(e.Outputs, o)
	}

	return e, nil
}
