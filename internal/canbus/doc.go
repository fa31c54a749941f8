// Package canbus owns the bus-facing contracts of the viewer.
//
// Ownership boundary:
// - classic CAN frame model and identifier validation
// - Transport port (adapter open/close, receive-with-timeout, send)
// - Decoder port (identifier -> named signal values)
// - candump text codec shared by the replay transport and tests
//
// Concrete adapters live in subpackages (slcan, socketcan, replay).
package canbus
