package protocol

import "github.com/sigurn/crc16"

// CRC16 parameters are CRC-16/CCITT-FALSE: poly 0x1021, init 0xFFFF,
// no reflection, no final xor. Both ends of a link must agree on them.
var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// CRC16 calculates the frame checksum over data
func CRC16(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}
