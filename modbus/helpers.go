package modbus

/*
this file contains some utility functions
*/

import "fmt"

func checkPanic(to string, val int, max int) {
	if val < 0 {
		panic(fmt.Sprintf("Unable to convert %v to %v - negative", val, to))
	}
	if val > max {
		panic(fmt.Sprintf("Unable to convert %v to %v - exceeds max value %v", val, to, max))
	}
}

func wordPanic(val int) uint16 {
	checkPanic("uint16", val, 65535)
	return uint16(val)
}

func bytePanic(val int) byte {
	checkPanic("byte", val, 255)
	return byte(val)
}

// getWord retrieves a 16-bit word in standard Modbus layout (bigendian) from a byte slice.
func getWord(data []byte, index int) uint16 {
	return uint16(data[index])<<8 | uint16(data[index+1])
}

// iGetWord retrieves a 16-bit word in standard Modbus layout (bigendian) from a byte slice.
// Returns the value as an int instead of a uint16 (reduces casting in some use cases)
func iGetWord(data []byte, index int) int {
	return int(getWord(data, index))
}

// setWord sets a 16-bit word in standard Modbus layout (bigendian) in a byte slice.
func setWord(data []byte, index int, value uint16) {
	data[index] = byte(value >> 8)
	data[index+1] = byte(value & 0xFF)
}

// iSetWord sets a 16-bit word in standard Modbus layout (bigendian) in a byte slice.
// The value is supplied as an int for convenience
func iSetWord(data []byte, index int, value int) {
	setWord(data, index, wordPanic(value))
}

// getWordLE retrieves a 16-bit word in Little-endian layout (only used for CRC) from a byte slice.
func getWordLE(data []byte, index int) (word uint16) {
	word = uint16(data[index]) | uint16(data[index+1])<<8
	return
}

// setWordLE sets a 16-bit word in standard Little-endian layout (only used for CRC) in a byte slice.
func setWordLE(data []byte, index int, value uint16) {
	data[index] = byte(value & 0xFF)
	data[index+1] = byte(value >> 8)
}

func computeCRC16(data []byte) (crc uint16) {
	crc = 0xFFFF
	for _, d := range data {
		crc ^= uint16(d)
		for b := 0; b < 8; b++ {
			if crc&0x1 == 1 {
				crc >>= 1
				crc ^= 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return
}

// S32ToRegs splits a signed 32-bit value in to the two 16-bit registers that
// carry it on the wire, high word first. Values outside the int32 range panic.
func S32ToRegs(value int) (hi, lo int) {
	if value < -2147483648 || value > 2147483647 {
		panic(fmt.Sprintf("Unable to convert %v to int32 register pair - out of range", value))
	}
	u := uint32(int32(value))
	return int(u >> 16), int(u & 0xFFFF)
}

// RegsToS32 reassembles a signed 32-bit value from the register pair that
// carries it, high word first.
func RegsToS32(hi, lo int) int {
	u := uint32(wordPanic(hi))<<16 | uint32(wordPanic(lo))
	return int(int32(u))
}

// serverCheckAddress validates that an address and length is covered by the available data
func serverCheckAddress(name string, address, count, limit int) error {
	if address+count <= limit {
		return nil
	}
	plural := "s"
	if count == 1 {
		plural = ""
	}
	return IllegalAddressErrorF("%v: unable to get %v item%v from %v with limit of %v", name, count, plural, address, limit)
}
