// Package site models facilities and derives their status from the
// controllers installed there.
//
// Site status is a pure function of member controller statuses (see
// DeriveStatus). The value stored in the sites table is a cache refreshed
// by Service.RecalculateStatus after controller status changes.
package site
