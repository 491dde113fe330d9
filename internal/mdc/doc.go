// Package mdc implements the subset of the Samsung Multiple Display Control
// (MDC) protocol used by the AV bridge.
//
// MDC is a binary request/response protocol spoken over TCP (port 1515) or
// RS-232. Every request is a single frame:
//
//	0xAA | command | display id | data length | data... | checksum
//
// and the display answers with an ACK or NAK frame:
//
//	0xAA | 0xFF | display id | data length | 'A'/'N' | command | values... | checksum
//
// The checksum is the low byte of the sum of all bytes after the header.
//
// The Client keeps one connection open and reopens it lazily on the next
// request after Close. Requests are serialised; the connection is not safe
// for interleaved frames.
package mdc
