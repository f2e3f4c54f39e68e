// Package protocol implements the rowstream wire format.
//
// A session is a single TCP byte stream. The client sends one JSON request,
// the server answers with length-prefixed frames and closes the connection:
//
//	u16 count                       (0 = rejected before streaming)
//	u16 len | header line           (only when count > 0)
//	u16 len | data line             (count times, or one tagged error line)
//	u16 len | "done!"               (always, exactly once)
//
// All integers are big-endian and unsigned. A line length is the UTF-8 byte
// length of its payload, so a single frame carries at most 65,535 bytes.
//
// # Writing
//
//	enc := protocol.NewEncoder(conn, logger)
//	enc.SendCount(uint16(len(items)))
//	enc.SendLine(header)
//	enc.SendLine(protocol.TerminalMarker)
//
// The Encoder is not safe for concurrent use. Write failures are sticky: once
// the peer is gone every later send is skipped and returns the first error.
//
// # Reading
//
//	stream, err := protocol.ReadStream(conn)
//	if err != nil {
//		return err
//	}
//	for _, line := range stream.Lines {
//		fmt.Println(line)
//	}
//
// # Errors
//
// Failures travel in-band as a line prefixed with one of the Tag constants,
// e.g. "-- 422 UNPROCESSABLE CONTENT -- invalid field: bingus".
package protocol
