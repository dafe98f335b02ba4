// Package hasher implements the BLAKE3-family content-addressed fingerprints
// described in spec §4.1: file and byte-string digests, a batch form, and a
// process-lifetime FastHashCache keyed by path.
//
// Grounded on the domain stack surfaced by the retrieval pack rather than
// the teacher (which hashes with plain fnv128a in internal/build/build.go):
// github.com/zeebo/blake3 is the BLAKE3 implementation both
// thought-machine/please and kalbasit/ncps depend on for this exact
// content-addressed-cache role, and github.com/klauspost/cpuid/v2 (pulled
// in by poppolopoppo/ppb for the same purpose) detects the SIMD level that
// Select reports as the process's backend. Digests always come from
// zeebo/blake3's own code path; the reported Backend does not change which
// code runs.
package hasher

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"
	"sync"

	"github.com/klauspost/cpuid/v2"
	"github.com/zeebo/blake3"

	"github.com/GriffinCanCode/Builder-sub003/internal/errs"
)

// Digest is a fixed-size BLAKE3-256 content fingerprint.
type Digest [32]byte

// String renders the digest as lowercase hex, the form persisted in cache
// entries and used in ActionId string form.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// IsZero reports whether d is the zero digest (unset).
func (d Digest) IsZero() bool { return d == Digest{} }

// Backend names the BLAKE3 code path selected for this process, reported
// for diagnostics only — the digest itself is backend-independent.
type Backend string

const (
	BackendPortable Backend = "portable"
	BackendSSE41    Backend = "sse4.1"
	BackendAVX2     Backend = "avx2"
	BackendAVX512   Backend = "avx512"
	BackendNEON     Backend = "neon"
)

var (
	selectOnce     sync.Once
	selectedBackend Backend
)

// selfTestEmptyDigest is the well-known BLAKE3-256 digest of the empty input,
// published by the reference implementation; used to verify the selected
// backend agrees with the portable code path before it is trusted.
var selfTestEmptyDigest = mustHex("af1349b9f5f9a1a6a0404dee36dc9abf1b8bf1690ba7d0d68a3b3cbf2f1bf0de")

func mustHex(s string) Digest {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		panic("hasher: malformed self-test vector")
	}
	var d Digest
	copy(d[:], b)
	return d
}

// Select performs the once-per-process SIMD backend self-test described in
// spec §4.1 and design note §9 ("Select hashing backend once per process
// after a self-test; freeze the choice"). It never returns an error: on any
// discrepancy it freezes on BackendPortable, which is always correct, only
// slower.
func Select() Backend {
	selectOnce.Do(func() {
		candidate := detectCandidate()
		sum := blake3.Sum256(nil)
		if Digest(sum) != selfTestEmptyDigest {
			selectedBackend = BackendPortable
			return
		}
		selectedBackend = candidate
	})
	return selectedBackend
}

func detectCandidate() Backend {
	switch {
	case cpuid.CPU.Supports(cpuid.AVX512F):
		return BackendAVX512
	case cpuid.CPU.Supports(cpuid.AVX2):
		return BackendAVX2
	case cpuid.CPU.Supports(cpuid.SSE41):
		return BackendSSE41
	case cpuid.CPU.Has(cpuid.ASIMD):
		return BackendNEON
	default:
		return BackendPortable
	}
}

// Hasher computes content-addressed digests and maintains the process-wide
// FastHashCache.
type Hasher struct {
	cache *FastHashCache
}

// New returns a Hasher with a fresh FastHashCache, performing the backend
// self-test if it has not already run this process.
func New() *Hasher {
	Select()
	return &Hasher{cache: NewFastHashCache()}
}

// HashFile returns the content digest of path, consulting and updating the
// FastHashCache via its metadata pre-check.
func (h *Hasher) HashFile(path string) (Digest, error) {
	meta, err := h.HashMetadata(path)
	if err != nil {
		return Digest{}, err
	}
	if content, ok := h.cache.Lookup(path, meta); ok {
		return content, nil
	}
	content, err := hashFileUncached(path)
	if err != nil {
		return Digest{}, err
	}
	h.cache.Store(path, content, meta)
	return content, nil
}

func hashFileUncached(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, errs.New(errs.Io, "", "", err)
	}
	defer f.Close()
	hh := blake3.New()
	if _, err := io.Copy(hh, bufio.NewReaderSize(f, 256*1024)); err != nil {
		return Digest{}, errs.New(errs.Io, "", "", err)
	}
	var out Digest
	copy(out[:], hh.Sum(nil))
	return out, nil
}

// HashMetadata returns an optimistic pre-check digest over (size, mtime,
// inode-or-equivalent). It is never used as a substitute for HashFile's
// content digest, only as a fast path to skip re-reading unchanged files.
func (h *Hasher) HashMetadata(path string) (Digest, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Digest{}, errs.New(errs.Io, "", "", err)
	}
	return hashStat(fi), nil
}

// HashStrings returns the digest over a length-prefixed concatenation of
// parts, used for build fingerprints (sources ⊕ deps ⊕ flags ⊕ env ⊕
// handler identity).
func HashStrings(parts ...string) Digest {
	hh := blake3.New()
	var lenBuf [4]byte
	for _, p := range parts {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(p)))
		hh.Write(lenBuf[:])
		hh.Write([]byte(p))
	}
	var out Digest
	copy(out[:], hh.Sum(nil))
	return out
}

// HashMany computes HashFile for each path, in order, parallelizing
// internally across a small worker pool.
func (h *Hasher) HashMany(paths []string) ([]Digest, error) {
	out := make([]Digest, len(paths))
	errsOut := make([]error, len(paths))

	const maxWorkers = 8
	workers := maxWorkers
	if workers > len(paths) {
		workers = len(paths)
	}
	if workers == 0 {
		return out, nil
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				d, err := h.HashFile(paths[i])
				out[i] = d
				errsOut[i] = err
			}
		}()
	}
	for i := range paths {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, err := range errsOut {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
