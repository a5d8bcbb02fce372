// Package controller models the physical device controllers installed at
// facility sites and persists them in SQLite.
//
// A controller's Code names its wire protocol and is resolved to an adapter
// by the adapter package. Status is written by the health-check scheduler
// only when an observation disagrees with the stored value.
package controller
