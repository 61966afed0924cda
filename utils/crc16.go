package utils

import (
	"github.com/howeyc/crc16"
)

// Fingerprint is a short checksum used to tell replica replies apart in logs.
func Fingerprint(data []byte) uint16 {
	return crc16.Checksum(data, crc16.IBMTable)
}
