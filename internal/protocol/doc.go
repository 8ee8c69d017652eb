// Package protocol implements the wire codec for exhibit controller boxes.
//
// Two framings exist and are kept strictly apart:
//
//   - Hex-string frames are the canonical device-control path. A command is
//     built as an upper-case hex string, its checksum is the sum of the ASCII
//     values of the preceding characters mod 256, and the string is converted
//     to bytes before transmission.
//   - Binary frames carry a 4-byte command reference, a numeric device id and a
//     JSON parameter blob, protected by a 16-bit byte sum.
//
// Hex-string layouts:
//
//	single:  AA | id(4) | cmd(2) | param(2) | 55 | sum(2)
//	batch:   BB | id(4)... | cmd(2) | 55 | sum(2)
//	status:  CC000000000055 | sum(2)
//
// Binary layouts:
//
//	command:  AA | ref(4) | id(2) | type(1) | action(1) | plen(2) | params | sum(2) | 55
//	response: AA | ref(4) | id(2) | status(1) | mlen(2) | msg | dlen(2) | data | sum(2) | 55
//
// Every function in this package is pure: no I/O and no shared state.
// Decoders verify delimiters and checksums before reading any field and
// never return a partially populated value alongside an error.
package protocol
