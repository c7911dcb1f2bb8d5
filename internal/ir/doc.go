// Package ir provides the value model, action and trace record types
// shared by every Marty package.
//
// All other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - use int64 for numbers
//   - Snapshots are deep clones (Clone), never aliases of live state
//   - Canonical JSON (MarshalCanonical) is the only serialization for
//     golden traces, digests and persisted columns
package ir
