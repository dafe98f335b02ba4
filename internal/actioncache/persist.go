package actioncache

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

// Save persists c to path as a SignedBlob-wrapped, BinaryStore-encoded file
// (spec §6: "actions/actions.bin").
func Save(c *ActionCache, path string, signer *integrity.Signer) error {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	w := binstore.NewWriter()
	for _, k := range keys {
		e := c.entries[k]
		w.String(string(e.Id.TargetId))
		w.Uint32(uint32(e.Id.Kind))
		w.String(e.Id.SubId)
		w.Bytes(e.Id.InputHash[:])

		w.Uint32(uint32(len(e.Inputs)))
		for _, p := range e.Inputs {
			w.String(p)
		}
		w.Uint32(uint32(len(e.InputHashes)))
		for p, d := range e.InputHashes {
			w.String(p)
			w.Bytes(d[:])
		}
		w.Uint32(uint32(len(e.Outputs)))
		for _, p := range e.Outputs {
			w.String(p)
		}
		w.Uint32(uint32(len(e.OutputHashes)))
		for p, d := range e.OutputHashes {
			w.String(p)
			w.Bytes(d[:])
		}
		w.Uint32(uint32(len(e.Metadata)))
		for mk, mv := range e.Metadata {
			w.String(mk)
			w.String(mv)
		}
		w.Bytes(e.ExecutionHash[:])
		w.Int64(e.Timestamp.UnixNano())
		w.Int64(e.LastAccess.UnixNano())
		w.Bool(e.Success)
	}
	count := uint32(len(keys))
	c.mu.Unlock()

	framed := binstore.Encode(count, w.Body())
	blob := signer.Sign(framed)
	return atomicfile.WriteCompressed(path, integrity.Marshal(blob), 0o644)
}

// Load reads path and reconstructs an ActionCache. A missing file yields an
// empty cache without a warning. Any other failure is non-fatal (spec §4.6,
// §7): it is logged and an empty cache bounded by budget is returned.
func Load(path string, signer *integrity.Signer, budget eviction.Budget, log logging.Logger) *ActionCache {
	c := New(budget)
	raw, err := atomicfile.ReadCompressed(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("actioncache: discarding unreadable cache file %s: %v", path, err)
		}
		return c
	}
	blob, err := integrity.Unmarshal(raw)
	if err != nil {
		log.Warnf("actioncache: discarding corrupt cache file %s: %v", path, err)
		return c
	}
	if !signer.Verify(blob) {
		log.Warnf("actioncache: discarding %s: signature verification failed", path)
		return c
	}
	if signer.IsExpired(blob, integrity.DefaultMaxAge) {
		log.Warnf("actioncache: discarding %s: expired", path)
		return c
	}

	count, r, err := binstore.Decode(blob.Data)
	if err != nil {
		log.Warnf("actioncache: discarding %s: %v", path, err)
		return New(budget)
	}

	for i := uint32(0); i < count; i++ {
		e, err := decodeEntry(r)
		if err != nil {
			log.Warnf("actioncache: discarding %s: %v", path, err)
			return New(budget)
		}
		c.entries[e.Id.String()] = e
	}
	return c
}

func decodeEntry(r *binstore.Reader) (*ActionEntry, error) {
	targetId, err := r.String()
	if err != nil {
		return nil, err
	}
	kind, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	subId, err := r.String()
	if err != nil {
		return nil, err
	}
	inputHash, err := r.Bytes()
	if err != nil {
		return nil, err
	}
	e := &ActionEntry{Id: ActionId{TargetId: graph.TargetId(targetId), Kind: ActionKind(kind), SubId: subId}}
	copy(e.Id.InputHash[:], inputHash)

	inCount, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < inCount; i++ {
		p, err := r.String()
		if err != nil {
			return nil, err
		}
		e.Inputs = append(e.Inputs, p)
	}

	inHashCount, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	e.InputHashes = make(map[string]hasher.Digest, inHashCount)
	for i := uint32(0); i < inHashCount; i++ {
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
		e.InputHashes[p] = dg
	}

	outCount, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < outCount; i++ {
		p, err := r.String()
		if err != nil {
			return nil, err
		}
		e.Outputs = append(e.Outputs, p)
	}

	outHashCount, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	e.OutputHashes = make(map[string]hasher.Digest, outHashCount)
	for i := uint32(0); i < outHashCount; i++ {
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
		e.OutputHashes[p] = dg
	}

	metaCount, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	e.Metadata = make(map[string]string, metaCount)
	for i := uint32(0); i < metaCount; i++ {
		mk, err := r.String()
		if err != nil {
			return nil, err
		}
		mv, err := r.String()
		if err != nil {
			return nil, err
		}
		e.Metadata[mk] = mv
	}

	execHash, err := r.Bytes()
	if err != nil {
		return nil, err
	}
	copy(e.ExecutionHash[:], execHash)

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

	success, err := r.Bool()
	if err != nil {
		return nil, err
	}
	e.Success = success

	return e, nil
}
