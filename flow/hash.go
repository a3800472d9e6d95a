package flow

import "math/bits"

// 32-bit murmur-style mixing. The running value is carried unfinished across
// staged-lookup ranges so consecutive ranges chain into one hash.

const (
	murmurC1 = 0xcc9e2d51
	murmurC2 = 0x1b873593
)

func hashAdd(h, d uint32) uint32 {
	d *= murmurC1
	d = bits.RotateLeft32(d, 15)
	d *= murmurC2
	h ^= d
	h = bits.RotateLeft32(h, 13)
	return h*5 + 0xe6546b64
}

func hashAdd64(h uint32, d uint64) uint32 {
	return hashAdd(hashAdd(h, uint32(d)), uint32(d>>32))
}

func hashFinish(h, n uint32) uint32 {
	h ^= n
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16
	return h
}

// HashUint64 hashes a single 64-bit value, for keying metadata partitions.
func HashUint64(v uint64, basis uint32) uint32 {
	return hashFinish(hashAdd64(basis, v), 8)
}
