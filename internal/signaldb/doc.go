// Package signaldb implements canbus.Decoder over a signal database file.
//
// A database lists messages by identifier and, per message, the bit layout
// of each signal (DBC-style Intel or Motorola bit numbering, scale/offset,
// optional value labels). It is loaded from DBC, TOML or YAML; the codec is
// chosen by file extension.
package signaldb
