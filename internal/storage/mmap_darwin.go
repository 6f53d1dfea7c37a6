//go:build darwin

package storage

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func mmapFile(fd uintptr, offset int64, length int, prot, flags int) ([]byte, error) {
	return syscall.Mmap(int(fd), offset, length, prot, flags)
}

func unmapFile(data []byte) error {
	return syscall.Munmap(data)
}

func fallocateFile(fd uintptr, offset int64, length int64) error {
	// darwin has no fallocate; the file itself is extended via ftruncate.
	return unix.Ftruncate(int(fd), offset+length)
}

func pwriteFile(fd uintptr, data []byte, offset int64) (int, error) {
	return syscall.Pwrite(int(fd), data, offset)
}
