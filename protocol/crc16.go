package protocol

// CRC16Init is the initial register value for an incremental CRC16 run
const CRC16Init uint16 = 0x0000

// crc16Poly is 0x8005 bit-reversed (CRC-16/ARC, reflected in and out)
const crc16Poly uint16 = 0xA001

var crc16Table = makeCRC16Table()

func makeCRC16Table() (table [256]uint16) {
	for i := range table {
		crc := uint16(i)
		for bit := 0; bit < 8; bit++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ crc16Poly
			} else {
				crc >>= 1
			}
		}
		table[i] = crc
	}
	return table
}

// CRC16Update folds one byte into a running CRC16 value.
// Start from CRC16Init; no final XOR is applied.
func CRC16Update(crc uint16, b byte) uint16 {
	return (crc >> 8) ^ crc16Table[byte(crc)^b]
}

// CRC16 calculates the packet checksum over data.
// The frame checksum covers the payload bytes only; for an empty payload it
// is CRC16Init.
func CRC16(data []byte) uint16 {
	crc := CRC16Init
	for _, b := range data {
		crc = CRC16Update(crc, b)
	}
	return crc
}
