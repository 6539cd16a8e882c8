// Package transport provides a runnable stand-in for the NoC kernel's
// mailbox and portal primitives (§6 of the spec). The physical substrate
// itself is explicitly out of scope for this module — the kernel, the HAL
// barriers, and the per-platform topology constants are external
// collaborators — but every server and client stub in this module is built
// strictly against the Mailbox/Portal/NodeNum interfaces defined here, so a
// future hardware binding can replace this package without touching
// internal/nameservice, internal/rmem or internal/sysv.
//
// The substrate is adapted from the teacher's internal/meshage: a node
// dials or accepts TCP links to its neighbors, gob-encodes frames over
// each link, and forwards along a shortest path when a destination isn't
// directly linked, using the same effective-network/route computation as
// meshage/route.go. On top of that substrate, mailbox and portal add the
// request/reply and one-shot-bulk semantics the spec actually calls out.
package transport
