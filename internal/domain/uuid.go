package domain

import (
	"crypto/rand"
	"encoding/hex"
	"io"
)

// NewUUID returns a random version 4 UUID in the canonical dashed form.
func NewUUID() string {
	var raw [16]byte
	if _, err := io.ReadFull(rand.Reader, raw[:]); err != nil {
		// IDs back the dedup ledger and the vector index; running without
		// entropy would silently corrupt both.
		panic("domain: crypto/rand unavailable: " + err.Error())
	}
	raw[6] = raw[6]&0x0f | 0x40 // version 4
	raw[8] = raw[8]&0x3f | 0x80 // RFC 4122 variant

	var buf [36]byte
	hex.Encode(buf[:8], raw[:4])
	buf[8] = '-'
	hex.Encode(buf[9:13], raw[4:6])
	buf[13] = '-'
	hex.Encode(buf[14:18], raw[6:8])
	buf[18] = '-'
	hex.Encode(buf[19:23], raw[8:10])
	buf[23] = '-'
	hex.Encode(buf[24:], raw[10:])
	return string(buf[:])
}
