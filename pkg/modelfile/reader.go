package modelfile

import (
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// File is a read-only view of a model file's bytes.
type File struct {
	Path string

	mu      sync.Mutex
	data    []byte
	mmapped bool
}

// Open maps path read-only and shared. If mmap is unavailable it falls back
// to reading the file into memory. The returned file must be closed to
// release the mapping.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := stat.Size()
	if size64 == 0 {
		return nil, ErrEmptyFile
	}
	if size64 < 0 || size64 > int64(int(^uint(0)>>1)) {
		return nil, ErrTooLarge
	}
	size := int(size64)

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		return &File{Path: path, data: data, mmapped: true}, nil
	}

	data, err = readAllAt(f, size)
	if err != nil {
		return nil, err
	}
	return &File{Path: path, data: data}, nil
}

// Bytes returns the mapped contents. The slice must not be used after Close.
func (f *File) Bytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data
}

func (f *File) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data)
}

// Mapped reports whether the contents are backed by mmap rather than a heap copy.
func (f *File) Mapped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mmapped
}

// Close unmaps the file. Calling Close more than once is a no-op.
func (f *File) Close() error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = unix.Munmap(f.data)
	}
	f.data = nil
	f.mmapped = false
	return err
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}
