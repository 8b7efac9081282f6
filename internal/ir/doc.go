// Package ir provides the canonical data types shared by every mudbridge
// package: world configuration, component records, update notifications and
// action results.
//
// This package contains type definitions and their serialization only. All
// other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - on-chain field types are integers
//   - All JSON tags use snake_case
//   - Ordering comes from logical sequence numbers and record versions,
//     never from wall-clock timestamps
package ir
