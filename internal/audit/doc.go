// Package audit records administrative actions against controllers and
// sites: registry edits and the gate, display and payment commands sent to
// devices. Entries are append-only and listed newest first.
package audit
