// Package tools provides host command helpers.
//
// Transports use it to configure interfaces they cannot set up through
// their own driver API.
package tools
