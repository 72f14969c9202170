// Package ir provides the canonical value and operation types shared by every
// replica of a Canopy tree.
//
// This package contains type definitions and codecs only. All other internal
// packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Field values are a sealed union: Absent (tombstone), Int, String
//   - NO float types anywhere - counters and timestamps are int64
//   - Wire JSON uses the short keys id/key/value/peer/timestamp
//   - Strings crossing the wire boundary are NFC normalized so that peers
//     comparing ids byte-wise agree on ordering
package ir
