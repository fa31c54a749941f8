// Package monitor owns the live ingestion pipeline of the viewer.
//
// Ownership boundary:
// - Selection: identifiers the operator is tracking
// - Cache: latest known state per identifier
// - Reader: background receive loop (filter -> decode -> cache)
// - Builder/Refresher: periodic immutable snapshots for renderers
// - Session: connect/receive/disconnect state machine
//
// Lifecycle order:
// - disconnected -> connecting -> connected -> receiving -> disconnecting -> disconnected
//
// - a failed connect returns to disconnected.
//
// - selection and cache outlive a disconnect unless ResetOnDisconnect is set.
//
// Only the Reader writes the Cache. Snapshots copy out of it and never hold
// a reference into live state.
package monitor
