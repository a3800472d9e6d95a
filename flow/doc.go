// Package flow models the packet header fields a classifier matches on.
//
// A Flow is a fixed layout of 64-bit words holding the supported header
// fields. A Match pairs flow values with a mask selecting the bits a rule
// constrains. Miniflow and Minimatch are the compressed forms used inside a
// classifier: only the words with mask bits are stored, so hashing and
// comparing a rule costs O(popcount) instead of O(layout).
//
// The word layout is segmented for staged lookup: metadata first, then L2,
// L3 and L4 fields. DefaultSegments gives the boundaries between those
// groups. The Fields table records the geometry of every field, including
// the prefix-key geometry of the fields usable with prefix tries.
package flow
