package segment

import (
	"encoding/binary"
	"os"
)

// New segment files must not already exist; scanning decides part numbers, so
// colliding with an existing file means the channel directory is inconsistent.
const createFlags = os.O_RDWR | os.O_CREATE | os.O_EXCL

func putInt32(b []byte, v int32) {
	binary.LittleEndian.PutUint32(b, uint32(v))
}

func getInt32(b []byte) int32 {
	return int32(binary.LittleEndian.Uint32(b))
}

func putInt64(b []byte, v int64) {
	binary.LittleEndian.PutUint64(b, uint64(v))
}

func getInt64(b []byte) int64 {
	return int64(binary.LittleEndian.Uint64(b))
}
