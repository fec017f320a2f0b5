package cirfile

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func makeFile(t *testing.T, maxSize int64) (*File, string) {
	t.Helper()
	fileName := filepath.Join(t.TempDir(), "test.cf")
	f, err := CreateCirFile(fileName, maxSize)
	if err != nil {
		t.Fatalf("creating cirfile: %v", err)
	}
	t.Cleanup(func() {
		f.Close()
	})
	return f, fileName
}

func TestCreateOpenStat(t *testing.T) {
	ctx := context.Background()
	f, fileName := makeFile(t, 100)

	if err := f.AppendData(ctx, []byte("hello")); err != nil {
		t.Fatalf("appending: %v", err)
	}

	// create refuses an existing file
	if _, err := CreateCirFile(fileName, 100); err == nil {
		t.Fatalf("expected create to fail on existing file")
	}

	// reopen sees the same state
	f2, err := OpenCirFile(fileName)
	if err != nil {
		t.Fatalf("opening: %v", err)
	}
	defer f2.Close()
	stat, err := f2.Stat(ctx)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if stat.MaxSize != 100 || stat.FileOffset != 0 || stat.DataSize != 5 {
		t.Fatalf("unexpected stat %+v", stat)
	}

	stat2, err := StatCirFile(ctx, fileName)
	if err != nil || stat2.DataSize != 5 {
		t.Fatalf("statcirfile: %+v (err %v)", stat2, err)
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := OpenCirFile(filepath.Join(t.TempDir(), "nope.cf"))
	if !os.IsNotExist(err) {
		t.Fatalf("expected os.IsNotExist error, got %v", err)
	}
}

func TestOpenGarbageHeader(t *testing.T) {
	fileName := filepath.Join(t.TempDir(), "garbage.cf")
	if err := os.WriteFile(fileName, bytes.Repeat([]byte("x"), 300), 0600); err != nil {
		t.Fatalf("writing garbage: %v", err)
	}
	_, err := OpenCirFile(fileName)
	if err == nil || !strings.Contains(err.Error(), "invalid cirfile header") {
		t.Fatalf("expected header error, got %v", err)
	}
}

func TestWriteAtZeroFillsGap(t *testing.T) {
	ctx := context.Background()
	f, _ := makeFile(t, 100)

	if err := f.WriteAt(ctx, []byte("abc"), 10); err != nil {
		t.Fatalf("writing: %v", err)
	}
	offset, data, err := f.ReadAll(ctx)
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if offset != 0 || len(data) != 13 {
		t.Fatalf("expected 13 bytes at offset 0, got %d at %d", len(data), offset)
	}
	if !bytes.Equal(data[:10], make([]byte, 10)) {
		t.Fatalf("expected zero-filled gap, got %q", data[:10])
	}
	if !bytes.Equal(data[10:], []byte("abc")) {
		t.Fatalf("expected abc at end, got %q", data[10:])
	}
}

func TestRingWrapDropsOldest(t *testing.T) {
	ctx := context.Background()
	f, _ := makeFile(t, 10)

	if err := f.AppendData(ctx, []byte("0123456789")); err != nil {
		t.Fatalf("appending: %v", err)
	}
	if err := f.AppendData(ctx, []byte("abcde")); err != nil {
		t.Fatalf("appending: %v", err)
	}
	offset, data, err := f.ReadAll(ctx)
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if offset != 5 {
		t.Fatalf("expected window start 5, got %d", offset)
	}
	if string(data) != "56789abcde" {
		t.Fatalf("unexpected window %q", data)
	}

	// a single write larger than the bound keeps only the tail
	if err := f.AppendData(ctx, bytes.Repeat([]byte("z"), 25)); err != nil {
		t.Fatalf("appending: %v", err)
	}
	offset, data, _ = f.ReadAll(ctx)
	if offset != 30 || string(data) != "zzzzzzzzzz" {
		t.Fatalf("expected tail-only window at 30, got %q at %d", data, offset)
	}
}

func TestReadNextClampsToWindow(t *testing.T) {
	ctx := context.Background()
	f, _ := makeFile(t, 10)

	if err := f.AppendData(ctx, []byte("0123456789abcde")); err != nil {
		t.Fatalf("appending: %v", err)
	}
	// window is now [5, 15)

	buf := make([]byte, 4)
	realOffset, nr, err := f.ReadNext(ctx, buf, 0)
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if realOffset != 5 || nr != 4 || string(buf[:nr]) != "5678" {
		t.Fatalf("expected 5678 at 5, got %q at %d", buf[:nr], realOffset)
	}

	// reading past the end returns no data
	realOffset, nr, err = f.ReadNext(ctx, buf, 100)
	if err != nil || nr != 0 || realOffset != 100 {
		t.Fatalf("expected empty read at 100, got %d bytes at %d (err %v)", nr, realOffset, err)
	}

	realOffset, data, err := f.ReadAtWithMax(ctx, 12, 2)
	if err != nil || realOffset != 12 || string(data) != "cd" {
		t.Fatalf("expected cd at 12, got %q at %d (err %v)", data, realOffset, err)
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	f, fileName := makeFile(t, 50)

	if err := f.AppendData(ctx, []byte("some data")); err != nil {
		t.Fatalf("appending: %v", err)
	}
	if err := f.Clear(ctx); err != nil {
		t.Fatalf("clearing: %v", err)
	}
	stat, _ := f.Stat(ctx)
	if stat.FileOffset != 0 || stat.DataSize != 0 || stat.MaxSize != 50 {
		t.Fatalf("unexpected stat after clear %+v", stat)
	}
	offset, data, err := f.ReadAll(ctx)
	if err != nil || offset != 0 || len(data) != 0 {
		t.Fatalf("expected empty read after clear, got %d bytes (err %v)", len(data), err)
	}

	// appends start fresh after a clear
	if err := f.AppendData(ctx, []byte("new")); err != nil {
		t.Fatalf("appending after clear: %v", err)
	}
	_, data, _ = f.ReadAll(ctx)
	if string(data) != "new" {
		t.Fatalf("expected new, got %q", data)
	}

	stat2, err := StatCirFile(ctx, fileName)
	if err != nil || stat2.DataSize != 3 {
		t.Fatalf("expected persisted header, got %+v (err %v)", stat2, err)
	}
}

func TestCanceledContext(t *testing.T) {
	f, _ := makeFile(t, 50)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.AppendData(ctx, []byte("x")); err == nil {
		t.Fatalf("expected context error on write")
	}
	if _, _, err := f.ReadNext(ctx, make([]byte, 1), 0); err == nil {
		t.Fatalf("expected context error on read")
	}
}
