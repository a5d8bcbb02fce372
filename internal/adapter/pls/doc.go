// Package pls implements the adapter contract for PLS parking lane
// controllers.
//
// PLS controllers speak a framed binary protocol over TCP. Every request
// opens a fresh connection, writes one frame and reads one response:
//
//	+-----+-----+------+---------+---------+----------------+-----+
//	| STX | cmd | lane | len(BE) | payload | crc16 MODBUS LE| ETX |
//	| 02  | 1B  | 1B   | 2B      | len B   | 2B             | 03  |
//	+-----+-----+------+---------+---------+----------------+-----+
//
// The checksum covers cmd through payload. A response echoes the request
// command with the high bit set (cmd|0x80) and carries a one-byte result
// code as the first payload byte. Health is probed with a PING frame on
// lane 0.
//
// Display lines and car numbers are encoded in the controller's configured
// charset: UTF-8 by default, EUC-KR for older Korean signage.
package pls
