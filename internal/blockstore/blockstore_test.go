package blockstore

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/tribixbite/waveterm/internal/store"
)

func setupTestStore(t *testing.T) {
	t.Helper()
	db, err := store.Open(t.TempDir() + "/blockstore.db")
	if err != nil {
		t.Fatalf("cannot open test db: %v", err)
	}
	if err := db.RunMigrations(context.Background(), migrations); err != nil {
		t.Fatalf("cannot run migrations: %v", err)
	}
	old := resetDBForTest(db)
	clearCache()
	t.Cleanup(func() {
		clearCache()
		resetDBForTest(old)
		if err := db.Close(); err != nil {
			t.Errorf("cannot close test db: %v", err)
		}
	})
}

func TestMakeFileDuplicate(t *testing.T) {
	setupTestStore(t)
	ctx := context.Background()
	blockId := uuid.New().String()

	err := MakeFile(ctx, blockId, "ptyout", nil, FileOptsType{})
	if err != nil {
		t.Fatalf("MakeFile failed: %v", err)
	}
	err = MakeFile(ctx, blockId, "ptyout", nil, FileOptsType{})
	if err == nil {
		t.Fatal("expected duplicate MakeFile to fail")
	}
	if !IsFileExistsError(err) {
		t.Fatalf("expected file-exists error, got %v", err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	setupTestStore(t)
	ctx := context.Background()
	blockId := uuid.New().String()

	if err := MakeFile(ctx, blockId, "ptyout", FileMeta{"k": "v"}, FileOptsType{}); err != nil {
		t.Fatalf("MakeFile failed: %v", err)
	}
	data := []byte("hello block world")
	n, err := AppendData(ctx, blockId, "ptyout", data)
	if err != nil {
		t.Fatalf("AppendData failed: %v", err)
	}
	if n != len(data) {
		t.Fatalf("expected %d bytes written, got %d", len(data), n)
	}
	rtn, err := ReadFile(ctx, blockId, "ptyout")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(rtn, data) {
		t.Fatalf("round trip mismatch: got %q", rtn)
	}
	fInfo, err := Stat(ctx, blockId, "ptyout")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if fInfo.Size != int64(len(data)) {
		t.Fatalf("expected size %d, got %d", len(data), fInfo.Size)
	}
	if fInfo.Meta["k"] != "v" {
		t.Fatalf("meta did not round trip: %v", fInfo.Meta)
	}
}

func TestMultiPartWrite(t *testing.T) {
	setupTestStore(t)
	ctx := context.Background()
	blockId := uuid.New().String()

	if err := MakeFile(ctx, blockId, "big", nil, FileOptsType{}); err != nil {
		t.Fatalf("MakeFile failed: %v", err)
	}
	data := make([]byte, PartSize*2+100)
	for i := range data {
		data[i] = byte(i % 251)
	}
	n, err := AppendData(ctx, blockId, "big", data)
	if err != nil {
		t.Fatalf("AppendData failed: %v", err)
	}
	if n != len(data) {
		t.Fatalf("expected %d bytes written, got %d", len(data), n)
	}
	rtn, err := ReadFile(ctx, blockId, "big")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(rtn, data) {
		t.Fatal("multi-part round trip mismatch")
	}
}

func TestSparseWriteZeroFill(t *testing.T) {
	setupTestStore(t)
	ctx := context.Background()
	blockId := uuid.New().String()

	if err := MakeFile(ctx, blockId, "sparse", nil, FileOptsType{}); err != nil {
		t.Fatalf("MakeFile failed: %v", err)
	}
	if _, err := WriteAt(ctx, blockId, "sparse", []byte("end"), 100); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	rtn, err := ReadFile(ctx, blockId, "sparse")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(rtn) != 103 {
		t.Fatalf("expected 103 bytes, got %d", len(rtn))
	}
	for i := 0; i < 100; i++ {
		if rtn[i] != 0 {
			t.Fatalf("expected zero fill at %d, got %d", i, rtn[i])
		}
	}
	if string(rtn[100:]) != "end" {
		t.Fatalf("expected trailing data, got %q", rtn[100:])
	}
}

func TestReadPastEnd(t *testing.T) {
	setupTestStore(t)
	ctx := context.Background()
	blockId := uuid.New().String()

	if err := MakeFile(ctx, blockId, "f", nil, FileOptsType{}); err != nil {
		t.Fatalf("MakeFile failed: %v", err)
	}
	if _, err := AppendData(ctx, blockId, "f", []byte("12345")); err != nil {
		t.Fatalf("AppendData failed: %v", err)
	}
	buf := make([]byte, 10)
	if _, err := ReadAt(ctx, blockId, "f", buf, 6); err == nil {
		t.Fatal("expected read past end to fail")
	}
}

func TestMaxSizeNonCircular(t *testing.T) {
	setupTestStore(t)
	ctx := context.Background()
	blockId := uuid.New().String()

	if err := MakeFile(ctx, blockId, "bounded", nil, FileOptsType{MaxSize: 10}); err != nil {
		t.Fatalf("MakeFile failed: %v", err)
	}
	n, err := AppendData(ctx, blockId, "bounded", []byte("0123456789abcdef"))
	if err != ErrMaxSizeExceeded {
		t.Fatalf("expected ErrMaxSizeExceeded, got %v", err)
	}
	if n != 10 {
		t.Fatalf("expected 10 bytes written before the bound, got %d", n)
	}
}

func TestCircularWrap(t *testing.T) {
	setupTestStore(t)
	ctx := context.Background()
	blockId := uuid.New().String()

	if err := MakeFile(ctx, blockId, "circ", nil, FileOptsType{MaxSize: 300, Circular: true}); err != nil {
		t.Fatalf("MakeFile failed: %v", err)
	}
	fInfo, err := Stat(ctx, blockId, "circ")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if fInfo.Opts.MaxSize != 300 {
		t.Fatalf("expected maxsize 300, got %d", fInfo.Opts.MaxSize)
	}

	// 350 bytes into a 300-byte ring: the first 50 bytes fall off
	data := make([]byte, 350)
	for i := range data {
		data[i] = byte(i % 251)
	}
	if _, err := AppendData(ctx, blockId, "circ", data); err != nil {
		t.Fatalf("wrap append failed: %v", err)
	}
	fInfo, err = Stat(ctx, blockId, "circ")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if fInfo.Size != 300 {
		t.Fatalf("expected size capped at 300, got %d", fInfo.Size)
	}

	// the surviving window starts at logical offset 50 and wraps
	// through the start of the ring
	buf := make([]byte, 300)
	n, err := ReadAt(ctx, blockId, "circ", buf, 50)
	if err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if n != 300 {
		t.Fatalf("expected 300 bytes read, got %d", n)
	}
	if !bytes.Equal(buf, data[50:]) {
		t.Fatalf("wrapped read mismatch: got %v..., want %v...", buf[:8], data[50:58])
	}
}

func TestFlushCachePersists(t *testing.T) {
	setupTestStore(t)
	ctx := context.Background()
	blockId := uuid.New().String()

	if err := MakeFile(ctx, blockId, "f", nil, FileOptsType{}); err != nil {
		t.Fatalf("MakeFile failed: %v", err)
	}
	data := []byte("flushed data")
	if _, err := AppendData(ctx, blockId, "f", data); err != nil {
		t.Fatalf("AppendData failed: %v", err)
	}
	if err := FlushCache(ctx); err != nil {
		t.Fatalf("FlushCache failed: %v", err)
	}
	// entry should be evicted; next read repopulates from the DB
	if _, found := getCacheEntry(blockId, "f"); found {
		t.Fatal("expected cache entry to be evicted after flush")
	}
	rtn, err := ReadFile(ctx, blockId, "f")
	if err != nil {
		t.Fatalf("ReadFile after flush failed: %v", err)
	}
	if !bytes.Equal(rtn, data) {
		t.Fatalf("expected %q after flush, got %q", data, rtn)
	}
	// second flush with nothing dirty is a no-op
	if err := FlushCache(ctx); err != nil {
		t.Fatalf("second FlushCache failed: %v", err)
	}
	rtn, err = ReadFile(ctx, blockId, "f")
	if err != nil {
		t.Fatalf("ReadFile after second flush failed: %v", err)
	}
	if !bytes.Equal(rtn, data) {
		t.Fatal("data changed after idempotent flush")
	}
}

func TestConcurrentAppendOrdering(t *testing.T) {
	setupTestStore(t)
	ctx := context.Background()
	blockId := uuid.New().String()

	if err := MakeFile(ctx, blockId, "f", nil, FileOptsType{}); err != nil {
		t.Fatalf("MakeFile failed: %v", err)
	}
	var wg sync.WaitGroup
	numWriters := 8
	chunk := 64
	for i := 0; i < numWriters; i++ {
		wg.Add(1)
		go func(val byte) {
			defer wg.Done()
			data := bytes.Repeat([]byte{val}, chunk)
			if _, err := AppendData(ctx, blockId, "f", data); err != nil {
				t.Errorf("AppendData failed: %v", err)
			}
		}(byte('a' + i))
	}
	wg.Wait()
	rtn, err := ReadFile(ctx, blockId, "f")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(rtn) != numWriters*chunk {
		t.Fatalf("expected %d bytes, got %d", numWriters*chunk, len(rtn))
	}
	// appends must not interleave: each chunk-sized run is homogeneous
	for i := 0; i < numWriters; i++ {
		run := rtn[i*chunk : (i+1)*chunk]
		for _, b := range run {
			if b != run[0] {
				t.Fatalf("append chunks interleaved at run %d", i)
			}
		}
	}
}

func TestWriteFileReplaces(t *testing.T) {
	setupTestStore(t)
	ctx := context.Background()
	blockId := uuid.New().String()

	if _, err := WriteFile(ctx, blockId, "f", nil, FileOptsType{}, []byte("first contents")); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := WriteFile(ctx, blockId, "f", nil, FileOptsType{}, []byte("second")); err != nil {
		t.Fatalf("second WriteFile failed: %v", err)
	}
	rtn, err := ReadFile(ctx, blockId, "f")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(rtn) != "second" {
		t.Fatalf("expected replaced contents, got %q", rtn)
	}
}

func TestDeleteBlock(t *testing.T) {
	setupTestStore(t)
	ctx := context.Background()
	blockId := uuid.New().String()

	if err := MakeFile(ctx, blockId, "a", nil, FileOptsType{}); err != nil {
		t.Fatalf("MakeFile failed: %v", err)
	}
	if err := MakeFile(ctx, blockId, "b", nil, FileOptsType{}); err != nil {
		t.Fatalf("MakeFile failed: %v", err)
	}
	if got := len(ListFiles(ctx, blockId)); got != 2 {
		t.Fatalf("expected 2 files, got %d", got)
	}
	if err := DeleteBlock(ctx, blockId); err != nil {
		t.Fatalf("DeleteBlock failed: %v", err)
	}
	if got := len(ListFiles(ctx, blockId)); got != 0 {
		t.Fatalf("expected 0 files after delete, got %d", got)
	}
	if ids := GetAllBlockIds(ctx); len(ids) != 0 {
		t.Fatalf("expected no block ids, got %v", ids)
	}
}

func TestWriteMetaSurvivesFlush(t *testing.T) {
	setupTestStore(t)
	ctx := context.Background()
	blockId := uuid.New().String()

	if err := MakeFile(ctx, blockId, "f", FileMeta{"a": "1"}, FileOptsType{}); err != nil {
		t.Fatalf("MakeFile failed: %v", err)
	}
	if err := WriteMeta(ctx, blockId, "f", FileMeta{"a": "2", "b": "3"}); err != nil {
		t.Fatalf("WriteMeta failed: %v", err)
	}
	if err := FlushCache(ctx); err != nil {
		t.Fatalf("FlushCache failed: %v", err)
	}
	clearCache()
	fInfo, err := Stat(ctx, blockId, "f")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if fInfo.Meta["a"] != "2" || fInfo.Meta["b"] != "3" {
		t.Fatalf("meta did not persist through flush: %v", fInfo.Meta)
	}
}
