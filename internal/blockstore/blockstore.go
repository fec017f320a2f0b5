// Package blockstore is a versioned file store keyed by (blockid, name).
// File contents are chunked into fixed-size parts held in a process-global
// write-back cache and flushed to SQLite on a timer. Files can be bounded
// and circular, in which case writes wrap and overwrite the oldest parts.
package blockstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const PartSize = int64(128 * 1024)
const DefaultFlushTimeout = 1 * time.Second

// ErrMaxSizeExceeded is returned by writes that would grow a bounded,
// non-circular file past its maxsize. The write is applied up to the bound.
var ErrMaxSizeExceeded = errors.New("write exceeds file maxsize")

type FileOptsType struct {
	MaxSize  int64 `json:"maxsize,omitempty"`
	Circular bool  `json:"circular,omitempty"`
	IJson    bool  `json:"ijson,omitempty"`
}

type FileMeta = map[string]any

type FileInfo struct {
	BlockId   string
	Name      string
	Size      int64
	CreatedTs int64
	ModTs     int64
	Opts      FileOptsType
	Meta      FileMeta
}

type CacheBlock struct {
	data  []byte
	size  int
	dirty bool
}

type CacheEntry struct {
	Lock       *sync.Mutex
	CacheTs    int64
	Info       *FileInfo
	DataBlocks []*CacheBlock
	Refs       int64
}

func makeCacheEntry(info *FileInfo) *CacheEntry {
	return &CacheEntry{
		Lock:       &sync.Mutex{},
		CacheTs:    time.Now().UnixMilli(),
		Info:       info,
		DataBlocks: []*CacheBlock{},
	}
}

// appendLock serializes AppendData calls so concurrent appends cannot
// interleave within a file (stat + write must be atomic).
var appendLock = &sync.Mutex{}

// MakeFile creates the file row synchronously (no cache). Creating the same
// file twice is an error; the first writer wins.
func MakeFile(ctx context.Context, blockId string, name string, meta FileMeta, opts FileOptsType) error {
	if opts.Circular && opts.MaxSize <= 0 {
		return fmt.Errorf("circular file requires maxsize")
	}
	curTs := time.Now().UnixMilli()
	fInfo := FileInfo{BlockId: blockId, Name: name, Size: 0, CreatedTs: curTs, ModTs: curTs, Opts: opts, Meta: meta}
	return insertFileIntoDB(ctx, fInfo)
}

// WriteFile creates the file if needed and replaces its contents with data.
func WriteFile(ctx context.Context, blockId string, name string, meta FileMeta, opts FileOptsType, data []byte) (int, error) {
	err := MakeFile(ctx, blockId, name, meta, opts)
	if err != nil && !IsFileExistsError(err) {
		return 0, err
	}
	if err := truncateFile(ctx, blockId, name); err != nil {
		return 0, err
	}
	return AppendData(ctx, blockId, name, data)
}

// AppendData writes p at the current end of the file. The global append
// lock makes concurrent appends serialize without interleaving.
func AppendData(ctx context.Context, blockId string, name string, p []byte) (int, error) {
	appendLock.Lock()
	defer appendLock.Unlock()
	fInfo, err := Stat(ctx, blockId, name)
	if err != nil {
		return 0, fmt.Errorf("append stat error: %w", err)
	}
	return WriteAt(ctx, blockId, name, p, fInfo.Size)
}

// WriteAt writes p at logical offset off. Gaps between the current part end
// and off are zero-filled. Bounded non-circular files truncate the write at
// maxsize and return ErrMaxSizeExceeded; circular files wrap (offset mod
// maxsize) and overwrite the oldest data.
func WriteAt(ctx context.Context, blockId string, name string, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("invalid write offset %d", off)
	}
	fInfo, err := Stat(ctx, blockId, name)
	if err != nil {
		return 0, fmt.Errorf("WriteAt stat error: %w", err)
	}
	maxSize := fInfo.Opts.MaxSize
	if fInfo.Opts.Circular && off >= maxSize {
		off = off % maxSize
	}
	written := 0
	for len(p) > 0 {
		if maxSize > 0 && off >= maxSize {
			if !fInfo.Opts.Circular {
				return written, ErrMaxSizeExceeded
			}
			off = 0
		}
		partIdx := off / PartSize
		partOff := off % PartSize
		amt := PartSize - partOff
		if maxSize > 0 && maxSize-off < amt {
			amt = maxSize - off
		}
		if int64(len(p)) < amt {
			amt = int64(len(p))
		}
		if err := writeToPart(ctx, blockId, name, int(partIdx), int(partOff), p[:amt]); err != nil {
			return written, err
		}
		written += int(amt)
		off += amt
		p = p[amt:]
	}
	return written, nil
}

// writeToPart writes data into one cached part, zero-padding when the write
// starts past the current part end, and updates the file size.
func writeToPart(ctx context.Context, blockId string, name string, partIdx int, partOff int, data []byte) error {
	entry, err := getCacheEntryOrPopulate(ctx, blockId, name)
	if err != nil {
		return err
	}
	entry.IncRefs()
	defer entry.DecRefs()
	entry.Lock.Lock()
	defer entry.Lock.Unlock()
	// a full-part overwrite does not need the old part contents
	pullFromDB := !(partOff == 0 && int64(len(data)) == PartSize)
	block, err := getCacheBlockLocked(ctx, entry, partIdx, pullFromDB)
	if err != nil {
		return fmt.Errorf("error getting cache block: %w", err)
	}
	if partOff > len(block.data) {
		block.data = append(block.data, make([]byte, partOff-len(block.data))...)
	}
	needLen := partOff + len(data)
	if needLen > len(block.data) {
		block.data = append(block.data, make([]byte, needLen-len(block.data))...)
	}
	copy(block.data[partOff:], data)
	block.size = len(block.data)
	block.dirty = true
	endOff := int64(partIdx)*PartSize + int64(len(block.data))
	if endOff > entry.Info.Size {
		entry.Info.Size = endOff
	}
	entry.Info.ModTs = time.Now().UnixMilli()
	return nil
}

// ReadAt fills p from logical offset off, pulling missing parts from the
// DB. Reading past the end of the file is an error; circular offsets beyond
// maxsize wrap first.
func ReadAt(ctx context.Context, blockId string, name string, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("invalid read offset %d", off)
	}
	fInfo, err := Stat(ctx, blockId, name)
	if err != nil {
		return 0, fmt.Errorf("ReadAt stat error: %w", err)
	}
	maxSize := fInfo.Opts.MaxSize
	if fInfo.Opts.Circular && off >= maxSize {
		off = off % maxSize
	}
	if off > fInfo.Size {
		return 0, fmt.Errorf("ReadAt error: tried to read past the end of the file")
	}
	bytesToRead := fInfo.Size - off
	if fInfo.Opts.Circular && fInfo.Size == maxSize {
		// full ring: the readable window wraps through offset 0
		bytesToRead = maxSize
	}
	if int64(len(p)) < bytesToRead {
		bytesToRead = int64(len(p))
	}
	bytesRead := 0
	for bytesToRead > 0 {
		if fInfo.Opts.Circular && off >= maxSize {
			off = 0
		}
		partIdx := off / PartSize
		partOff := off % PartSize
		amt := PartSize - partOff
		if fInfo.Opts.Circular && maxSize-off < amt {
			amt = maxSize - off
		}
		if amt > bytesToRead {
			amt = bytesToRead
		}
		n, err := readFromPart(ctx, blockId, name, int(partIdx), int(partOff), p[bytesRead:bytesRead+int(amt)])
		bytesRead += n
		bytesToRead -= int64(n)
		off += int64(n)
		if err != nil {
			return bytesRead, err
		}
		if n < int(amt) {
			// sparse part, no more data stored here
			break
		}
	}
	return bytesRead, nil
}

func readFromPart(ctx context.Context, blockId string, name string, partIdx int, partOff int, dest []byte) (int, error) {
	entry, err := getCacheEntryOrPopulate(ctx, blockId, name)
	if err != nil {
		return 0, err
	}
	entry.IncRefs()
	defer entry.DecRefs()
	entry.Lock.Lock()
	defer entry.Lock.Unlock()
	block, err := getCacheBlockLocked(ctx, entry, partIdx, true)
	if err != nil {
		return 0, fmt.Errorf("error getting cache block: %w", err)
	}
	if partOff >= len(block.data) {
		return 0, nil
	}
	return copy(dest, block.data[partOff:]), nil
}

// ReadFile returns the full file contents.
func ReadFile(ctx context.Context, blockId string, name string) ([]byte, error) {
	fInfo, err := Stat(ctx, blockId, name)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, fInfo.Size)
	n, err := ReadAt(ctx, blockId, name, buf, 0)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Stat returns a deep copy of the file info, populating the cache entry on
// a miss.
func Stat(ctx context.Context, blockId string, name string) (*FileInfo, error) {
	if entry, found := getCacheEntry(blockId, name); found {
		entry.Lock.Lock()
		defer entry.Lock.Unlock()
		return deepCopyFileInfo(entry.Info), nil
	}
	fInfo, err := getFileInfo(ctx, blockId, name)
	if err != nil {
		return nil, err
	}
	entry := makeCacheEntry(fInfo)
	setCacheEntry(cacheKey{BlockId: blockId, Name: name}, entry)
	return deepCopyFileInfo(fInfo), nil
}

func deepCopyFileInfo(fInfo *FileInfo) *FileInfo {
	metaCopy := make(FileMeta, len(fInfo.Meta))
	for k, v := range fInfo.Meta {
		metaCopy[k] = v
	}
	rtn := *fInfo
	rtn.Meta = metaCopy
	return &rtn
}

// WriteMeta replaces the file meta in the cache; the new meta reaches the
// DB on the next flush.
func WriteMeta(ctx context.Context, blockId string, name string, meta FileMeta) error {
	if _, err := Stat(ctx, blockId, name); err != nil {
		return err
	}
	entry, found := getCacheEntry(blockId, name)
	if !found {
		return fmt.Errorf("WriteMeta error: cache entry not found")
	}
	entry.Lock.Lock()
	defer entry.Lock.Unlock()
	entry.Info.Meta = meta
	entry.Info.ModTs = time.Now().UnixMilli()
	return nil
}

// DeleteFile removes the file from cache and DB.
func DeleteFile(ctx context.Context, blockId string, name string) error {
	deleteCacheEntry(blockId, name)
	return deleteFileFromDB(ctx, blockId, name)
}

// DeleteBlock removes every file belonging to blockId.
func DeleteBlock(ctx context.Context, blockId string) error {
	deleteBlockFromCache(blockId)
	return deleteBlockFromDB(ctx, blockId)
}

func ListFiles(ctx context.Context, blockId string) []*FileInfo {
	fInfoArr, err := getAllFilesForBlockId(ctx, blockId)
	if err != nil {
		return nil
	}
	return fInfoArr
}

func ListAllFiles(ctx context.Context) []*FileInfo {
	fInfoArr, err := getAllFiles(ctx)
	if err != nil {
		return nil
	}
	return fInfoArr
}

func GetAllBlockIds(ctx context.Context) []string {
	rtn, err := getAllBlockIdsFromDB(ctx)
	if err != nil {
		return nil
	}
	return rtn
}

// FlushCache writes every dirty part and file info to the DB, drops the
// flushed part data, and evicts entries that are fully flushed and
// unreferenced.
func FlushCache(ctx context.Context) error {
	for _, entry := range getAllCacheEntries() {
		entry.Lock.Lock()
		err := writeFileToDB(ctx, *entry.Info)
		if err != nil {
			entry.Lock.Unlock()
			return err
		}
		clearEntry := true
		for idx, block := range entry.DataBlocks {
			if block == nil {
				continue
			}
			if !block.dirty {
				clearEntry = false
				continue
			}
			if err := writeDataBlockToDB(ctx, entry.Info.BlockId, entry.Info.Name, idx, block.data); err != nil {
				entry.Lock.Unlock()
				return err
			}
			entry.DataBlocks[idx] = nil
		}
		blockId, name := entry.Info.BlockId, entry.Info.Name
		refs := entry.Refs
		entry.Lock.Unlock()
		if clearEntry && refs <= 0 {
			deleteCacheEntry(blockId, name)
		}
	}
	return nil
}

func (e *CacheEntry) IncRefs() {
	e.Lock.Lock()
	defer e.Lock.Unlock()
	e.Refs++
}

func (e *CacheEntry) DecRefs() {
	e.Lock.Lock()
	defer e.Lock.Unlock()
	e.Refs--
}

// getCacheBlockLocked returns the cached part, loading it from the DB (or
// creating it empty) on a miss. Caller holds the entry lock.
func getCacheBlockLocked(ctx context.Context, entry *CacheEntry, partIdx int, pullFromDB bool) (*CacheBlock, error) {
	for len(entry.DataBlocks) < partIdx+1 {
		entry.DataBlocks = append(entry.DataBlocks, nil)
	}
	if entry.DataBlocks[partIdx] != nil {
		return entry.DataBlocks[partIdx], nil
	}
	block := &CacheBlock{data: []byte{}}
	if pullFromDB {
		data, err := getDataBlockFromDB(ctx, entry.Info.BlockId, entry.Info.Name, partIdx)
		if err != nil {
			return nil, err
		}
		block.data = data
		block.size = len(data)
	}
	entry.DataBlocks[partIdx] = block
	return block, nil
}
