package sstore

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tribixbite/waveterm/internal/cirfile"
	"github.com/tribixbite/waveterm/internal/scbase"
	"golang.org/x/sync/singleflight"
)

// MaxDBFileSize bounds pty payloads that may be mirrored into the
// blockstore instead of a standalone file.
const MaxDBFileSize = 10 * 1024

const DefaultMaxPtySize = 256 * 1024
const DeleteScreenDirTimeout = 60 * time.Second

var screenDirLock = &sync.Mutex{}
var screenDirCache = make(map[string]string)
var screenDirGroup singleflight.Group

// EnsureScreenDir creates (once) and returns the on-disk directory holding
// a screen's pty files.
func EnsureScreenDir(screenId string) (string, error) {
	if screenId == "" {
		return "", fmt.Errorf("cannot get screen dir for blank screenid")
	}
	screenDirLock.Lock()
	sdir, ok := screenDirCache[screenId]
	screenDirLock.Unlock()
	if ok {
		return sdir, nil
	}
	rtn, err, _ := screenDirGroup.Do(screenId, func() (any, error) {
		sdir := filepath.Join(scbase.GetScreensDir(), screenId)
		if err := os.MkdirAll(sdir, 0700); err != nil {
			return "", fmt.Errorf("cannot make screen dir %q: %w", sdir, err)
		}
		screenDirLock.Lock()
		screenDirCache[screenId] = sdir
		screenDirLock.Unlock()
		return sdir, nil
	})
	if err != nil {
		return "", err
	}
	return rtn.(string), nil
}

// PtyOutFile returns the path of a line's pty output file.
func PtyOutFile(screenId string, lineId string) (string, error) {
	sdir, err := EnsureScreenDir(screenId)
	if err != nil {
		return "", err
	}
	if lineId == "" {
		return "", fmt.Errorf("cannot get ptyout file for blank lineid")
	}
	return filepath.Join(sdir, lineId+".ptyout.cf"), nil
}

// PtyDataUpdate streams pty output to clients; the payload is base64.
type PtyDataUpdate struct {
	ScreenId   string `json:"screenid,omitempty"`
	LineId     string `json:"lineid,omitempty"`
	PtyPos     int64  `json:"ptypos"`
	PtyData64  string `json:"ptydata64"`
	PtyDataLen int64  `json:"ptydatalen"`
}

func (PtyDataUpdate) GetType() string {
	return "pty"
}

// MakePtyDataUpdate base64-encodes a pty output chunk into an update item.
func MakePtyDataUpdate(screenId string, lineId string, pos int64, data []byte) *PtyDataUpdate {
	return &PtyDataUpdate{
		ScreenId:   screenId,
		LineId:     lineId,
		PtyPos:     pos,
		PtyData64:  base64.StdEncoding.EncodeToString(data),
		PtyDataLen: int64(len(data)),
	}
}

// CreateCmdPtyFile makes the circular pty file for a new command.
func CreateCmdPtyFile(ctx context.Context, screenId string, lineId string, maxSize int64) error {
	ptyOutFileName, err := PtyOutFile(screenId, lineId)
	if err != nil {
		return err
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxPtySize
	}
	f, err := cirfile.CreateCirFile(ptyOutFileName, maxSize)
	if err != nil {
		return err
	}
	return f.Close()
}

// AppendToCmdPtyBlob writes pty output at pos and returns the update
// packet to broadcast. New output is also noted in the persistent update
// log.
func AppendToCmdPtyBlob(ctx context.Context, screenId string, lineId string, data []byte, pos int64) (*PtyDataUpdate, error) {
	if screenId == "" || lineId == "" {
		return nil, fmt.Errorf("cannot append to pty blob, screenid or lineid is empty")
	}
	if pos < 0 {
		return nil, fmt.Errorf("invalid pty pos %d (append not supported)", pos)
	}
	ptyOutFileName, err := PtyOutFile(screenId, lineId)
	if err != nil {
		return nil, err
	}
	f, err := cirfile.OpenCirFile(ptyOutFileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := f.WriteAt(ctx, data, pos); err != nil {
		return nil, err
	}
	update := MakePtyDataUpdate(screenId, lineId, pos, data)
	if err := MaybeInsertPtyPosUpdate(ctx, screenId, lineId); err != nil {
		// the write itself succeeded, just log the bookkeeping failure
		log.Printf("[sstore] error inserting ptypos update %s/%s: %v", screenId, lineId, err)
	}
	return update, nil
}

// ReadFullPtyOutFile returns the whole retained window of a line's pty
// file plus the real offset of its first byte.
func ReadFullPtyOutFile(ctx context.Context, screenId string, lineId string) (int64, []byte, error) {
	ptyOutFileName, err := PtyOutFile(screenId, lineId)
	if err != nil {
		return 0, nil, err
	}
	f, err := cirfile.OpenCirFile(ptyOutFileName)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()
	return f.ReadAll(ctx)
}

// ReadPtyOutFile reads up to maxSize bytes starting at offset.
func ReadPtyOutFile(ctx context.Context, screenId string, lineId string, offset int64, maxSize int64) (int64, []byte, error) {
	ptyOutFileName, err := PtyOutFile(screenId, lineId)
	if err != nil {
		return 0, nil, err
	}
	f, err := cirfile.OpenCirFile(ptyOutFileName)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()
	return f.ReadAtWithMax(ctx, offset, maxSize)
}

// StatCmdPtyFile returns the pty file's size window, or nil when the file
// does not exist yet.
func StatCmdPtyFile(ctx context.Context, screenId string, lineId string) (*cirfile.Stat, error) {
	ptyOutFileName, err := PtyOutFile(screenId, lineId)
	if err != nil {
		return nil, err
	}
	stat, err := cirfile.StatCirFile(ctx, ptyOutFileName)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return stat, err
}

// ClearCmdPtyFile truncates the pty file (for command restarts) and resets
// the update log entry for the line.
func ClearCmdPtyFile(ctx context.Context, screenId string, lineId string) error {
	ptyOutFileName, err := PtyOutFile(screenId, lineId)
	if err != nil {
		return err
	}
	f, err := cirfile.OpenCirFile(ptyOutFileName)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Clear(ctx); err != nil {
		return err
	}
	if err := DeleteWebPtyPos(ctx, screenId, lineId); err != nil {
		return err
	}
	return MaybeInsertPtyPosUpdate(ctx, screenId, lineId)
}

// DeletePtyOutFile removes a line's pty file and its saved web position.
// A missing file is not an error.
func DeletePtyOutFile(ctx context.Context, screenId string, lineId string) error {
	ptyOutFileName, err := PtyOutFile(screenId, lineId)
	if err != nil {
		return err
	}
	if err := os.Remove(ptyOutFileName); err != nil && !os.IsNotExist(err) {
		return err
	}
	return DeleteWebPtyPos(ctx, screenId, lineId)
}

// TryConvertPtyFile is reserved for migrating small blockstore-resident
// pty payloads out to circular files. Currently a no-op.
func TryConvertPtyFile(ctx context.Context, screenId string, lineId string) error {
	return nil
}

// GoDeleteScreenDirs removes screen dirs in the background after the rows
// are gone.
func GoDeleteScreenDirs(screenIds ...string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), DeleteScreenDirTimeout)
		defer cancel()
		for _, screenId := range screenIds {
			if err := deleteScreenDir(ctx, screenId); err != nil {
				log.Printf("[sstore] error deleting screen dir %s: %v", screenId, err)
			}
		}
	}()
}

func deleteScreenDir(ctx context.Context, screenId string) error {
	screenDirLock.Lock()
	delete(screenDirCache, screenId)
	screenDirLock.Unlock()
	sdir := filepath.Join(scbase.GetScreensDir(), screenId)
	return os.RemoveAll(sdir)
}

// Web pty positions track how far a remote viewer has read each line's
// output.

func GetWebPtyPos(ctx context.Context, screenId string, lineId string) (int64, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) (int64, error) {
		return tx.GetInt64(`SELECT ptypos FROM webptypos WHERE screenid = ? AND lineid = ?`, screenId, lineId), nil
	})
}

func SetWebPtyPos(ctx context.Context, screenId string, lineId string, ptyPos int64) error {
	return WithTx(ctx, func(tx *TxWrap) error {
		if tx.Exists(`SELECT screenid FROM webptypos WHERE screenid = ? AND lineid = ?`, screenId, lineId) {
			tx.Exec(`UPDATE webptypos SET ptypos = ? WHERE screenid = ? AND lineid = ?`, ptyPos, screenId, lineId)
		} else {
			tx.Exec(`INSERT INTO webptypos (screenid, lineid, ptypos) VALUES (?, ?, ?)`, screenId, lineId, ptyPos)
		}
		return tx.Err
	})
}

func DeleteWebPtyPos(ctx context.Context, screenId string, lineId string) error {
	return WithTx(ctx, func(tx *TxWrap) error {
		tx.Exec(`DELETE FROM webptypos WHERE screenid = ? AND lineid = ?`, screenId, lineId)
		return tx.Err
	})
}
