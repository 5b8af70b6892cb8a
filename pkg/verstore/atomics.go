package verstore

import (
	"sync/atomic"
	"unsafe"
)

// The blob is a single contiguous []byte arena; every block-structured
// field that readers and the writer share lock-free is accessed through
// these helpers instead of ad-hoc unsafe casts scattered through the
// codebase.

func atomicLoadU64(data []byte, off uint32) uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&data[off])))
}

func atomicStoreU64(data []byte, off uint32, v uint64) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&data[off])), v)
}

func atomicLoadU32(data []byte, off uint32) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&data[off])))
}

func atomicStoreU32(data []byte, off uint32, v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&data[off])), v)
}

func atomicAddU32(data []byte, off uint32, delta int32) uint32 {
	return atomic.AddUint32((*uint32)(unsafe.Pointer(&data[off])), uint32(delta))
}

// loadU64 / storeU64 / loadU32 / storeU32 are plain (non-atomic) accessors
// used for fields that are only ever touched while holding the writer
// mutex, where the extra synchronization would be pure overhead.

func loadU64(data []byte, off uint32) uint64 {
	return *(*uint64)(unsafe.Pointer(&data[off]))
}

func storeU64(data []byte, off uint32, v uint64) {
	*(*uint64)(unsafe.Pointer(&data[off])) = v
}

func loadU32(data []byte, off uint32) uint32 {
	return *(*uint32)(unsafe.Pointer(&data[off]))
}

func storeU32(data []byte, off uint32, v uint32) {
	*(*uint32)(unsafe.Pointer(&data[off])) = v
}
