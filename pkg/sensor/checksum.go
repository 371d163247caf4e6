package sensor

import (
	"errors"
	"fmt"

	"github.com/sigurn/crc8"
)

// crcTable is CRC-8 with polynomial 0x07 and zero init, as used by
// SMBus-style fuel gauges (LC709203F).
var crcTable = crc8.MakeTable(crc8.CRC8)

// ChecksumError reports a corrupted register read. It is never retried by
// the core; the integrator decides how to supervise the driver.
type ChecksumError struct {
	Register byte
	Want     byte
	Got      byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch on register 0x%02x: want 0x%02x, got 0x%02x", e.Register, e.Want, e.Got)
}

// IsChecksum reports whether err is (or wraps) a ChecksumError.
func IsChecksum(err error) bool {
	var ce *ChecksumError
	return errors.As(err, &ce)
}

// Checksum computes the CRC-8 of data.
func Checksum(data ...byte) byte {
	return crc8.Checksum(data, crcTable)
}

// VerifyWord checks a little-endian word read from register on the device
// at the 7-bit bus address and returns its value.
func VerifyWord(address, register byte, frame [3]byte) (uint16, error) {
	want := Checksum(address<<1, register, address<<1|1, frame[0], frame[1])
	if want != frame[2] {
		return 0, &ChecksumError{Register: register, Want: want, Got: frame[2]}
	}
	return uint16(frame[1])<<8 | uint16(frame[0]), nil
}

// EncodeWord builds the register, lsb, msb, crc frame written to the device
// at the 7-bit bus address.
func EncodeWord(address, register byte, value uint16) [4]byte {
	lsb, msb := byte(value), byte(value>>8)
	return [4]byte{register, lsb, msb, Checksum(address<<1, register, lsb, msb)}
}
