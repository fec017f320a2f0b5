// Package cirfile implements a bounded circular file. The file retains at
// most maxsize bytes of a logical byte stream; older bytes are dropped as
// new data arrives. A fixed-size header records where the retained window
// starts in the logical stream, so readers always learn the real offset of
// the data they get back.
//
// Layout: 256-byte header, then up to maxsize data bytes stored as a ring
// (physical position = logical offset mod maxsize).
package cirfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
)

const (
	headerLen    = 256
	headerFormat = "cirfile v1 %19d %19d %19d\n"
)

// Stat describes a circular file: its size bound, the logical offset of the
// first retained byte, and how many bytes are retained.
type Stat struct {
	MaxSize    int64
	FileOffset int64
	DataSize   int64
}

// File is an open circular file. Operations are safe for concurrent use
// within one process; cross-process writers are not supported.
type File struct {
	lock       sync.Mutex
	osFile     *os.File
	maxSize    int64
	fileOffset int64
	dataSize   int64
}

// CreateCirFile creates fileName with the given bound. Fails if the file
// already exists.
func CreateCirFile(fileName string, maxSize int64) (*File, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("invalid maxsize %d", maxSize)
	}
	fd, err := os.OpenFile(fileName, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, err
	}
	f := &File{osFile: fd, maxSize: maxSize}
	if err := f.writeHeader(); err != nil {
		fd.Close()
		return nil, err
	}
	return f, nil
}

// OpenCirFile opens an existing circular file and validates its header.
func OpenCirFile(fileName string) (*File, error) {
	fd, err := os.OpenFile(fileName, os.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}
	f := &File{osFile: fd}
	if err := f.readHeader(); err != nil {
		fd.Close()
		return nil, err
	}
	return f, nil
}

// StatCirFile stats fileName without keeping it open.
func StatCirFile(ctx context.Context, fileName string) (*Stat, error) {
	f, err := OpenCirFile(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Stat(ctx)
}

func (f *File) Close() error {
	return f.osFile.Close()
}

func (f *File) Stat(ctx context.Context) (*Stat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	return &Stat{MaxSize: f.maxSize, FileOffset: f.fileOffset, DataSize: f.dataSize}, nil
}

// WriteAt writes data at logical offset pos. Gaps between the current end
// and pos are zero-filled. Bytes that land below the retained window are
// dropped; writes that overflow the bound advance the window.
func (f *File) WriteAt(ctx context.Context, data []byte, pos int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if pos < 0 {
		return fmt.Errorf("invalid write position %d", pos)
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.writeAtLocked(data, pos)
}

func (f *File) writeAtLocked(data []byte, pos int64) error {
	endPos := f.fileOffset + f.dataSize
	if pos > endPos {
		if err := f.zeroFill(endPos, pos); err != nil {
			return err
		}
		endPos = pos
		f.dataSize = endPos - f.fileOffset
		f.advanceWindow(endPos)
	}
	writePos := pos
	writeData := data
	if writePos < f.fileOffset {
		skip := f.fileOffset - writePos
		if skip >= int64(len(writeData)) {
			return f.writeHeader()
		}
		writeData = writeData[skip:]
		writePos = f.fileOffset
	}
	if err := f.writeRing(writePos, writeData); err != nil {
		return err
	}
	newEnd := pos + int64(len(data))
	if newEnd > endPos {
		f.dataSize = newEnd - f.fileOffset
		f.advanceWindow(newEnd)
	}
	return f.writeHeader()
}

// AppendData writes data at the current logical end.
func (f *File) AppendData(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.writeAtLocked(data, f.fileOffset+f.dataSize)
}

// ReadNext fills buf starting at logical offset. Offsets below the retained
// window are advanced to the window start; the returned realOffset says
// where the data actually came from.
func (f *File) ReadNext(ctx context.Context, buf []byte, offset int64) (int64, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	if offset < 0 {
		return 0, 0, fmt.Errorf("invalid read offset %d", offset)
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	realOffset := offset
	if realOffset < f.fileOffset {
		realOffset = f.fileOffset
	}
	endPos := f.fileOffset + f.dataSize
	if realOffset >= endPos {
		return realOffset, 0, nil
	}
	amt := endPos - realOffset
	if amt > int64(len(buf)) {
		amt = int64(len(buf))
	}
	if err := f.readRing(realOffset, buf[:amt]); err != nil {
		return 0, 0, err
	}
	return realOffset, int(amt), nil
}

// ReadAll returns the full retained window and its real starting offset.
func (f *File) ReadAll(ctx context.Context) (int64, []byte, error) {
	f.lock.Lock()
	size := f.dataSize
	f.lock.Unlock()
	buf := make([]byte, size)
	realOffset, nr, err := f.ReadNext(ctx, buf, 0)
	if err != nil {
		return 0, nil, err
	}
	return realOffset, buf[:nr], nil
}

// ReadAtWithMax reads at most maxSize bytes starting at offset.
func (f *File) ReadAtWithMax(ctx context.Context, offset int64, maxSize int64) (int64, []byte, error) {
	if maxSize < 0 {
		return 0, nil, fmt.Errorf("invalid maxsize %d", maxSize)
	}
	buf := make([]byte, maxSize)
	realOffset, nr, err := f.ReadNext(ctx, buf, offset)
	if err != nil {
		return 0, nil, err
	}
	return realOffset, buf[:nr], nil
}

// Clear drops all retained data, keeping the size bound.
func (f *File) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	if err := f.osFile.Truncate(headerLen); err != nil {
		return err
	}
	f.fileOffset = 0
	f.dataSize = 0
	return f.writeHeader()
}

// advanceWindow drops the oldest bytes once dataSize exceeds maxSize.
// Caller holds the lock and has already set dataSize relative to the old
// fileOffset.
func (f *File) advanceWindow(endPos int64) {
	if f.dataSize > f.maxSize {
		f.fileOffset = endPos - f.maxSize
		f.dataSize = f.maxSize
	}
}

// writeRing writes data at the physical ring positions for logical pos.
// Caller guarantees len(data) <= maxSize and holds the lock.
func (f *File) writeRing(pos int64, data []byte) error {
	if int64(len(data)) > f.maxSize {
		skip := int64(len(data)) - f.maxSize
		data = data[skip:]
		pos += skip
	}
	for len(data) > 0 {
		phys := pos % f.maxSize
		chunk := f.maxSize - phys
		if chunk > int64(len(data)) {
			chunk = int64(len(data))
		}
		if _, err := f.osFile.WriteAt(data[:chunk], headerLen+phys); err != nil {
			return err
		}
		data = data[chunk:]
		pos += chunk
	}
	return nil
}

func (f *File) readRing(pos int64, buf []byte) error {
	for len(buf) > 0 {
		phys := pos % f.maxSize
		chunk := f.maxSize - phys
		if chunk > int64(len(buf)) {
			chunk = int64(len(buf))
		}
		if _, err := f.osFile.ReadAt(buf[:chunk], headerLen+phys); err != nil {
			return err
		}
		buf = buf[chunk:]
		pos += chunk
	}
	return nil
}

var zeroBuf = make([]byte, 4096)

func (f *File) zeroFill(from int64, to int64) error {
	for from < to {
		amt := to - from
		if amt > int64(len(zeroBuf)) {
			amt = int64(len(zeroBuf))
		}
		if err := f.writeRing(from, zeroBuf[:amt]); err != nil {
			return err
		}
		from += amt
	}
	return nil
}

func (f *File) writeHeader() error {
	str := fmt.Sprintf(headerFormat, f.maxSize, f.fileOffset, f.dataSize)
	if len(str) > headerLen {
		return errors.New("invalid header (too long)")
	}
	buf := make([]byte, headerLen)
	copy(buf, str)
	_, err := f.osFile.WriteAt(buf, 0)
	return err
}

func (f *File) readHeader() error {
	buf := make([]byte, headerLen)
	if _, err := f.osFile.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("cannot read cirfile header: %w", err)
	}
	var maxSize, fileOffset, dataSize int64
	n, err := fmt.Sscanf(string(buf), headerFormat, &maxSize, &fileOffset, &dataSize)
	if err != nil || n != 3 {
		return errors.New("invalid cirfile header")
	}
	if maxSize <= 0 || fileOffset < 0 || dataSize < 0 || dataSize > maxSize {
		return errors.New("invalid cirfile header values")
	}
	f.maxSize = maxSize
	f.fileOffset = fileOffset
	f.dataSize = dataSize
	return nil
}
