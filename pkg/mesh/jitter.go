package mesh

import (
	"encoding/binary"
	"hash/crc32"
	"math/rand"
	"os"
	"sync/atomic"
	"time"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// jitterSeq substitutes for a goroutine id in the seed recipe below: Go
// exposes no public goroutine-id equivalent to a thread id, so a
// process-wide counter stands in for it, still giving every call a
// distinct input alongside pid and the current time.
var jitterSeq atomic.Uint64

// newSeededRand returns a PRNG seeded with crc32c (Castagnoli) of
// (goroutine-local id substitute, pid, now), per spec.md's jitter design
// note. It is deliberately never backed by the package-level math/rand
// source: a shared RNG would synchronize jitter across every peer and
// reintroduce the thundering-herd reconnect the jitter exists to avoid.
func newSeededRand() *rand.Rand {
	seq := jitterSeq.Add(1)
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:8], seq)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(os.Getpid()))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(time.Now().UnixNano()))
	seed := crc32.Checksum(buf[:], crc32cTable)
	return rand.New(rand.NewSource(int64(seed)))
}
