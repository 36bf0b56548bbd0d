package esp3

// crc8Poly is the ESP3 CRC8 polynomial x^8 + x^2 + x + 1
const crc8Poly byte = 0x07

var crc8Table = makeCrc8Table()

func makeCrc8Table() (t [256]byte) {
	for i := 0; i < 256; i++ {
		crc := byte(i)
		for bit := 0; bit < 8; bit++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ crc8Poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}

// Crc8 computes the ESP3 checksum (initial value 0, no final XOR)
func Crc8(b []byte) byte {
	crc := byte(0)
	for i := 0; i < len(b); i++ {
		crc = crc8Table[crc^b[i]]
	}
	return crc
}
