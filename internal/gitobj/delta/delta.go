// Package delta encodes and applies Git ref-deltas: the compact
// copy/insert instruction streams a pack file stores for an object that
// closely resembles an earlier one. Base selection is rsync-shaped: a
// weak rolling hash finds candidate windows cheaply, a strong hash
// confirms them before the byte-level match is extended.
package delta

import (
	"fmt"

	"github.com/zeebo/xxh3"

	"github.com/eduardosm/svn2git/internal/gitobj"
)

// windowSize is the granularity of base indexing and target scanning.
const windowSize = 64

// hashBits is the width of the cyclic-polynomial rolling hash. The hash
// value lives in a 23-bit ring, so single-bit rotation has period 23 and
// never degenerates for the 64-byte window (64 mod 23 != 0).
const hashBits = 23

const hashMask = (1 << hashBits) - 1

// outRotate is how far the outgoing byte's contribution has been rotated
// by the time it leaves a 64-byte window: 64 mod 23.
const outRotate = windowSize % hashBits

var byteTable [256]uint32

func init() {
	// Deterministic splitmix32-filled substitution table. The constants
	// only need to be fixed and well-mixed, not secret.
	state := uint32(0x9e3779b9)
	for i := range byteTable {
		state += 0x9e3779b9
		z := state
		z = (z ^ (z >> 16)) * 0x21f0aaad
		z = (z ^ (z >> 15)) * 0x735a2d97
		z ^= z >> 15
		byteTable[i] = z & hashMask
	}
}

func rotl(v uint32, n uint) uint32 {
	n %= hashBits
	return ((v << n) | (v >> (hashBits - n))) & hashMask
}

// weakHash computes the rolling hash of one full window from scratch.
func weakHash(window []byte) uint32 {
	var h uint32
	for _, b := range window {
		h = rotl(h, 1) ^ byteTable[b]
	}
	return h
}

// roll advances h by one byte: out leaves the window, in enters it.
func roll(h uint32, out, in byte) uint32 {
	return rotl(h, 1) ^ rotl(byteTable[out], outRotate) ^ byteTable[in]
}

// base is one indexed delta-base candidate.
type base struct {
	oid     gitobj.Oid
	payload []byte

	// windows maps weak hash -> offsets of 64-byte windows starting there.
	windows map[uint32][]int
	// strong holds the xxh3 of each indexed window, keyed by offset.
	strong map[int]uint64
}

func indexBase(oid gitobj.Oid, payload []byte) *base {
	b := &base{
		oid:     oid,
		payload: payload,
		windows: make(map[uint32][]int),
		strong:  make(map[int]uint64),
	}
	for off := 0; off+windowSize <= len(payload); off += windowSize {
		w := payload[off : off+windowSize]
		h := weakHash(w)
		b.windows[h] = append(b.windows[h], off)
		b.strong[off] = xxh3.Hash(w)
	}
	return b
}

// Selector keeps a bounded set of recently written blobs as delta-base
// candidates and picks the most similar one for a new blob.
type Selector struct {
	bases  []*base
	budget int64
	used   int64
}

// NewSelector returns a Selector retaining at most budgetBytes of base
// payloads. A non-positive budget disables delta encoding entirely.
func NewSelector(budgetBytes int64) *Selector {
	return &Selector{budget: budgetBytes}
}

// Add registers payload as a future delta-base candidate, evicting the
// oldest bases once over budget.
func (s *Selector) Add(oid gitobj.Oid, payload []byte) {
	if s == nil || s.budget <= 0 || len(payload) < windowSize {
		return
	}
	s.bases = append(s.bases, indexBase(oid, payload))
	s.used += int64(len(payload))
	for s.used > s.budget && len(s.bases) > 1 {
		s.used -= int64(len(s.bases[0].payload))
		s.bases = s.bases[1:]
	}
}

// Best returns the candidate base sharing the most windows with target,
// or false when nothing similar enough is indexed. The similarity bar is
// deliberately low (two confirmed windows); Encode's output size decides
// whether the delta is actually worth storing.
func (s *Selector) Best(target []byte) (gitobj.Oid, []byte, bool) {
	if s == nil || s.budget <= 0 || len(target) < windowSize {
		return "", nil, false
	}
	var bestBase *base
	bestHits := 1
	for _, b := range s.bases {
		hits := 0
		for off := 0; off+windowSize <= len(target); off += windowSize {
			w := target[off : off+windowSize]
			offs, ok := b.windows[weakHash(w)]
			if !ok {
				continue
			}
			strong := xxh3.Hash(w)
			for _, srcOff := range offs {
				if b.strong[srcOff] == strong {
					hits++
					break
				}
			}
		}
		if hits > bestHits {
			bestHits = hits
			bestBase = b
		}
	}
	if bestBase == nil {
		return "", nil, false
	}
	return bestBase.oid, bestBase.payload, true
}

// maxCopyLen is the largest length a single copy instruction can carry:
// three size bytes. Longer runs are split across instructions.
const maxCopyLen = 1<<24 - 1

// maxInsertLen is the largest literal run a single insert instruction can
// carry.
const maxInsertLen = 127

// Encode produces the Git delta stream turning src into dst.
func Encode(src, dst []byte) []byte {
	var out []byte
	out = appendVarint(out, uint64(len(src)))
	out = appendVarint(out, uint64(len(dst)))

	b := indexBase("", src)

	var pendingLit []byte
	flushLit := func() {
		for len(pendingLit) > 0 {
			n := len(pendingLit)
			if n > maxInsertLen {
				n = maxInsertLen
			}
			out = append(out, byte(n))
			out = append(out, pendingLit[:n]...)
			pendingLit = pendingLit[n:]
		}
	}

	pos := 0
	var h uint32
	hValid := false
	for pos < len(dst) {
		if pos+windowSize > len(dst) {
			pendingLit = append(pendingLit, dst[pos])
			pos++
			hValid = false
			continue
		}
		if !hValid {
			h = weakHash(dst[pos : pos+windowSize])
			hValid = true
		}

		srcOff, matchLen := b.findMatch(h, dst, pos)
		if matchLen == 0 {
			pendingLit = append(pendingLit, dst[pos])
			if pos+windowSize < len(dst) {
				h = roll(h, dst[pos], dst[pos+windowSize])
			} else {
				hValid = false
			}
			pos++
			continue
		}

		// Extend the match backwards into the pending literal run; those
		// bytes sit before pos and were already consumed, so they widen
		// the copy without widening the forward advance.
		back := 0
		for len(pendingLit) > 0 && srcOff > 0 && src[srcOff-1] == pendingLit[len(pendingLit)-1] {
			pendingLit = pendingLit[:len(pendingLit)-1]
			srcOff--
			matchLen++
			back++
		}

		flushLit()
		out = appendCopies(out, srcOff, matchLen)
		pos += matchLen - back
		hValid = false
	}
	flushLit()
	return out
}

// findMatch looks up the window hash h at dst[pos:] in the base index,
// confirms a candidate byte-for-byte, and extends it as far forward as
// the two buffers agree.
func (b *base) findMatch(h uint32, dst []byte, pos int) (srcOff, matchLen int) {
	offs, ok := b.windows[h]
	if !ok {
		return 0, 0
	}
	w := dst[pos : pos+windowSize]
	strong := xxh3.Hash(w)
	for _, off := range offs {
		if b.strong[off] != strong {
			continue
		}
		if !bytesEqual(b.payload[off:off+windowSize], w) {
			continue
		}
		n := windowSize
		for off+n < len(b.payload) && pos+n < len(dst) && b.payload[off+n] == dst[pos+n] {
			n++
		}
		if n > matchLen {
			srcOff, matchLen = off, n
		}
	}
	return srcOff, matchLen
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// appendCopies emits copy instructions for src[off:off+n], splitting runs
// longer than a single instruction's three-byte length field can hold.
// Every non-zero size byte is written, the high (third) byte included;
// dropping that byte silently truncates lengths of 2^16 and more and
// corrupts the reconstructed object.
func appendCopies(out []byte, off, n int) []byte {
	for n > 0 {
		chunk := n
		if chunk > maxCopyLen {
			chunk = maxCopyLen
		}
		out = appendCopy(out, off, chunk)
		off += chunk
		n -= chunk
	}
	return out
}

func appendCopy(out []byte, off, n int) []byte {
	cmd := byte(0x80)
	var args []byte
	for i := uint(0); i < 4; i++ {
		if b := byte(off >> (8 * i)); b != 0 {
			cmd |= 1 << i
			args = append(args, b)
		}
	}
	for i := uint(0); i < 3; i++ {
		if b := byte(n >> (8 * i)); b != 0 {
			cmd |= 0x10 << i
			args = append(args, b)
		}
	}
	out = append(out, cmd)
	return append(out, args...)
}

func appendVarint(out []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
		} else {
			return append(out, b)
		}
	}
}

// Apply reconstructs the target object from src and a delta stream.
func Apply(src, d []byte) ([]byte, error) {
	srcSize, d, err := readVarint(d)
	if err != nil {
		return nil, fmt.Errorf("delta source size: %w", err)
	}
	if srcSize != uint64(len(src)) {
		return nil, fmt.Errorf("delta source size %d does not match base size %d", srcSize, len(src))
	}
	dstSize, d, err := readVarint(d)
	if err != nil {
		return nil, fmt.Errorf("delta target size: %w", err)
	}

	out := make([]byte, 0, dstSize)
	for len(d) > 0 {
		cmd := d[0]
		d = d[1:]
		if cmd&0x80 != 0 {
			var off, n int
			for i := uint(0); i < 4; i++ {
				if cmd&(1<<i) != 0 {
					if len(d) == 0 {
						return nil, fmt.Errorf("truncated copy offset")
					}
					off |= int(d[0]) << (8 * i)
					d = d[1:]
				}
			}
			for i := uint(0); i < 3; i++ {
				if cmd&(0x10<<i) != 0 {
					if len(d) == 0 {
						return nil, fmt.Errorf("truncated copy length")
					}
					n |= int(d[0]) << (8 * i)
					d = d[1:]
				}
			}
			if n == 0 {
				n = 0x10000
			}
			if off+n > len(src) {
				return nil, fmt.Errorf("copy %d+%d past base end %d", off, n, len(src))
			}
			out = append(out, src[off:off+n]...)
		} else {
			n := int(cmd)
			if n == 0 {
				return nil, fmt.Errorf("reserved zero instruction")
			}
			if n > len(d) {
				return nil, fmt.Errorf("truncated insert of %d bytes", n)
			}
			out = append(out, d[:n]...)
			d = d[n:]
		}
	}
	if uint64(len(out)) != dstSize {
		return nil, fmt.Errorf("delta produced %d bytes, header promised %d", len(out), dstSize)
	}
	return out, nil
}

func readVarint(d []byte) (uint64, []byte, error) {
	var v uint64
	var shift uint
	for i, b := range d {
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, d[i+1:], nil
		}
		shift += 7
		if shift > 63 {
			break
		}
	}
	return 0, nil, fmt.Errorf("truncated varint")
}
