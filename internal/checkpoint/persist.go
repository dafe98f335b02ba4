package checkpoint

import (
	"time"

	"github.com/GriffinCanCode/Builder-sub003/internal/atomicfile"
	"github.com/GriffinCanCode/Builder-sub003/internal/binstore"
	"github.com/GriffinCanCode/Builder-sub003/internal/graph"
	"github.com/GriffinCanCode/Builder-sub003/internal/hasher"
	"github.com/GriffinCanCode/Builder-sub003/internal/integrity"
	"github.com/GriffinCanCode/Builder-sub003/internal/logging"
)

// Save persists c to path (spec §6: ".builder-cache/checkpoint.bin").
func Save(c *Checkpoint, path string, signer *integrity.Signer) error {
	c.mu.Lock()
	w := binstore.NewWriter()
	w.Bytes(c.Signature[:])
	for id, r := range c.records {
		w.String(string(id))
		w.Uint32(uint32(r.Status))
		w.Bytes(r.OutputHash[:])
		w.Int64(r.CompletedAt.UnixNano())
	}
	count := uint32(len(c.records))
	c.mu.Unlock()

	framed := binstore.Encode(count, w.Body())
	blob := signer.Sign(framed)
	return atomicfile.WriteCompressed(path, integrity.Marshal(blob), 0o644)
}

// Load reads path and reconstructs a Checkpoint. Any failure is non-fatal
// (spec §7): a fresh, empty Checkpoint stamped with signature is returned
// and the caller treats it as "no checkpoint to resume from".
func Load(path string, signer *integrity.Signer, signature hasher.Digest, log logging.Logger) *Checkpoint {
	c := New(signature)
	raw, err := atomicfile.ReadCompressed(path)
	if err != nil {
		return c
	}
	blob, err := integrity.Unmarshal(raw)
	if err != nil {
		log.Warnf("checkpoint: discarding corrupt file %s: %v", path, err)
		return c
	}
	if !signer.Verify(blob) {
		log.Warnf("checkpoint: discarding %s: signature verification failed", path)
		return c
	}
	if signer.IsExpired(blob, integrity.DefaultMaxAge) {
		log.Warnf("checkpoint: discarding %s: expired", path)
		return c
	}

	count, r, err := binstore.Decode(blob.Data)
	if err != nil {
		log.Warnf("checkpoint: discarding %s: %v", path, err)
		return New(signature)
	}

	var storedSig hasher.Digest
	sigBytes, err := r.Bytes()
	if err != nil {
		log.Warnf("checkpoint: discarding %s: %v", path, err)
		return New(signature)
	}
	copy(storedSig[:], sigBytes)
	c.Signature = storedSig

	for i := uint32(0); i < count; i++ {
		id, err := r.String()
		if err != nil {
			log.Warnf("checkpoint: discarding %s: %v", path, err)
			return New(signature)
		}
		status, err := r.Uint32()
		if err != nil {
			log.Warnf("checkpoint: discarding %s: %v", path, err)
			return New(signature)
		}
		outHash, err := r.Bytes()
		if err != nil {
			log.Warnf("checkpoint: discarding %s: %v", path, err)
			return New(signature)
		}
		ts, err := r.Int64()
		if err != nil {
			log.Warnf("checkpoint: discarding %s: %v", path, err)
			return New(signature)
		}
		var dg hasher.Digest
		copy(dg[:], outHash)
		c.records[graph.TargetId(id)] = Record{
			Id:          graph.TargetId(id),
			Status:      graph.Status(status),
			OutputHash:  dg,
			CompletedAt: time.Unix(0, ts),
		}
	}
	return c
}
