// Package classifier implements a prioritized flow classifier: a set of
// packet-matching rules, each a (mask, value, priority) triple, answering
// "which rule best matches this packet" while telling the caller which
// header bits the answer depended on.
//
// # Matching
//
// A rule constrains an arbitrary subset of header bits and wins by
// priority. Lookup returns the highest-priority rule matching the flow and
// accumulates a wildcard mask of every bit it had to examine: any packet
// agreeing with the flow on those bits would get the same rule, so the
// (rule, mask) pair can be installed in a downstream exact-match cache as a
// megaflow. The classifier works hard to keep that mask small, because a
// more wildcarded megaflow absorbs more traffic.
//
// Internally rules are grouped into subtables, one per distinct mask, each
// an exact-match hash table over the masked bits. A lookup probes subtables
// in descending order of their best priority and stops as soon as no
// remaining subtable can beat the match in hand. Three optimizations prune
// subtable probes further:
//
//   - Staged lookup splits each subtable's mask at configurable boundaries
//     (metadata / L2 / L3 / L4 with flow.DefaultSegments) and checks a hash
//     membership index per stage, so a flow that cannot match is rejected
//     before its later header fields are ever consulted, keeping them out of
//     the wildcard mask.
//   - Prefix tries (SetPrefixFields) track the address prefixes rules use,
//     letting a lookup skip every subtable whose prefix length cannot match
//     the flow's address while un-wildcarding only the decisive prefix bits.
//   - Metadata partitions map each exact metadata value to the set of
//     subtables holding rules for it, pruning metadata-exact subtables
//     wholesale.
//
// Rules with identical matches but different priorities coexist; lookups
// see only the highest-priority one of each.
//
// # Versioning
//
// Every modification can be tagged with a version, and every lookup names
// the version it wants to see. A rule is visible in the half-open interval
// from the version it was added in to the version it was removed in. A
// batch of changes staged at a future version switches atomically for
// readers the moment they start using that version. Use
// MakeRemovableAfterVersion before Remove to keep a rule matching for
// readers still working at older versions.
//
// # Concurrency
//
// One writer and any number of readers proceed without locks on the read
// side. Writers publish structural changes with atomic pointer swaps;
// readers see the classifier as of some recent instant, and version
// visibility makes batched changes atomic. After removing a rule, postpone
// destruction of the caller's rule state with Postpone so readers still
// holding the rule finish first. Defer and Publish batch the re-sorting of
// the subtable probe order across a burst of modifications.
package classifier
