package blockstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tribixbite/waveterm/internal/store"
)

var dbLock = &sync.Mutex{}
var globalDB *store.Database

var migrations = []store.Migration{
	{Version: 1, Name: "init", SQL: `
CREATE TABLE block_file (
    blockid varchar(36) NOT NULL,
    name varchar(200) NOT NULL,
    size bigint NOT NULL,
    createdts bigint NOT NULL,
    modts bigint NOT NULL,
    opts json NOT NULL,
    meta json NOT NULL,
    PRIMARY KEY (blockid, name)
);

CREATE TABLE block_data (
    blockid varchar(36) NOT NULL,
    name varchar(200) NOT NULL,
    partidx int NOT NULL,
    data blob NOT NULL,
    PRIMARY KEY (blockid, name, partidx)
);
`},
}

// InitBlockstore opens (or creates) the blockstore DB and applies
// migrations. Call StartFlushTimer afterwards to enable background flushes.
func InitBlockstore(ctx context.Context, dbPath string) error {
	dbLock.Lock()
	defer dbLock.Unlock()
	if globalDB != nil {
		return fmt.Errorf("blockstore already initialized")
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	if err := db.RunMigrations(ctx, migrations); err != nil {
		db.Close()
		return err
	}
	globalDB = db
	return nil
}

// CloseBlockstore flushes and closes the blockstore DB.
func CloseBlockstore(ctx context.Context) error {
	StopFlushTimer()
	if err := FlushCache(ctx); err != nil {
		return err
	}
	dbLock.Lock()
	defer dbLock.Unlock()
	if globalDB == nil {
		return nil
	}
	err := globalDB.Close()
	globalDB = nil
	return err
}

func getDB() *store.Database {
	dbLock.Lock()
	defer dbLock.Unlock()
	if globalDB == nil {
		panic("blockstore not initialized")
	}
	return globalDB
}

// resetDBForTest swaps in a test database (tests only).
func resetDBForTest(db *store.Database) *store.Database {
	dbLock.Lock()
	defer dbLock.Unlock()
	old := globalDB
	globalDB = db
	return old
}

func (f *FileInfo) ToMap() map[string]any {
	return map[string]any{
		"blockid":   f.BlockId,
		"name":      f.Name,
		"size":      f.Size,
		"createdts": f.CreatedTs,
		"modts":     f.ModTs,
		"opts":      store.QuickJson(f.Opts),
		"meta":      store.QuickJson(f.Meta),
	}
}

func (f *FileInfo) FromMap(m map[string]any) bool {
	store.QuickSetStr(&f.BlockId, m, "blockid")
	store.QuickSetStr(&f.Name, m, "name")
	store.QuickSetInt64(&f.Size, m, "size")
	store.QuickSetInt64(&f.CreatedTs, m, "createdts")
	store.QuickSetInt64(&f.ModTs, m, "modts")
	store.QuickSetJson(&f.Opts, m, "opts")
	store.QuickSetJson(&f.Meta, m, "meta")
	return f.BlockId != ""
}

// IsFileExistsError reports whether err came from creating a file that
// already exists.
func IsFileExistsError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already exists")
}

func insertFileIntoDB(ctx context.Context, fInfo FileInfo) error {
	db := getDB()
	return db.WithTx(ctx, func(tx *store.TxWrap) error {
		query := `SELECT blockid FROM block_file WHERE blockid = ? AND name = ?`
		if tx.Exists(query, fInfo.BlockId, fInfo.Name) {
			return fmt.Errorf("file %s:%s already exists", fInfo.BlockId, fInfo.Name)
		}
		query = `INSERT INTO block_file (blockid, name, size, createdts, modts, opts, meta)
                          VALUES (:blockid,:name,:size,:createdts,:modts,:opts,:meta)`
		tx.NamedExec(query, fInfo.ToMap())
		return tx.Err
	})
}

func writeFileToDB(ctx context.Context, fInfo FileInfo) error {
	db := getDB()
	return db.WithTx(ctx, func(tx *store.TxWrap) error {
		query := `UPDATE block_file SET size = ?, modts = ?, opts = ?, meta = ? WHERE blockid = ? AND name = ?`
		tx.Exec(query, fInfo.Size, fInfo.ModTs, store.QuickJson(fInfo.Opts), store.QuickJson(fInfo.Meta), fInfo.BlockId, fInfo.Name)
		return tx.Err
	})
}

func writeDataBlockToDB(ctx context.Context, blockId string, name string, partIdx int, data []byte) error {
	db := getDB()
	return db.WithTx(ctx, func(tx *store.TxWrap) error {
		query := `REPLACE INTO block_data (blockid, name, partidx, data) VALUES (?, ?, ?, ?)`
		tx.Exec(query, blockId, name, partIdx, data)
		return tx.Err
	})
}

func getFileInfo(ctx context.Context, blockId string, name string) (*FileInfo, error) {
	db := getDB()
	fInfo, err := store.WithTxRtn(ctx, db, func(tx *store.TxWrap) (*FileInfo, error) {
		query := `SELECT * FROM block_file WHERE blockid = ? AND name = ?`
		return store.GetMapGen[FileInfo](tx, query, blockId, name), nil
	})
	if err != nil {
		return nil, err
	}
	if fInfo == nil {
		return nil, fmt.Errorf("file not found %s:%s", blockId, name)
	}
	return fInfo, nil
}

func getDataBlockFromDB(ctx context.Context, blockId string, name string, partIdx int) ([]byte, error) {
	db := getDB()
	return store.WithTxRtn(ctx, db, func(tx *store.TxWrap) ([]byte, error) {
		m := tx.GetMap(`SELECT data FROM block_data WHERE blockid = ? AND name = ? AND partidx = ?`, blockId, name, partIdx)
		if m == nil {
			return []byte{}, nil
		}
		var data []byte
		store.QuickSetBytes(&data, m, "data")
		return data, nil
	})
}

// truncateFile resets the file to zero length: part rows are deleted and
// any cached entry is cleared back to empty.
func truncateFile(ctx context.Context, blockId string, name string) error {
	db := getDB()
	err := db.WithTx(ctx, func(tx *store.TxWrap) error {
		tx.Exec(`DELETE FROM block_data WHERE blockid = ? AND name = ?`, blockId, name)
		tx.Exec(`UPDATE block_file SET size = 0 WHERE blockid = ? AND name = ?`, blockId, name)
		return tx.Err
	})
	if err != nil {
		return err
	}
	if entry, found := getCacheEntry(blockId, name); found {
		entry.Lock.Lock()
		entry.Info.Size = 0
		entry.DataBlocks = []*CacheBlock{}
		entry.Lock.Unlock()
	}
	return nil
}

func deleteFileFromDB(ctx context.Context, blockId string, name string) error {
	db := getDB()
	return db.WithTx(ctx, func(tx *store.TxWrap) error {
		tx.Exec(`DELETE FROM block_data WHERE blockid = ? AND name = ?`, blockId, name)
		tx.Exec(`DELETE FROM block_file WHERE blockid = ? AND name = ?`, blockId, name)
		return tx.Err
	})
}

func deleteBlockFromDB(ctx context.Context, blockId string) error {
	db := getDB()
	return db.WithTx(ctx, func(tx *store.TxWrap) error {
		tx.Exec(`DELETE FROM block_data WHERE blockid = ?`, blockId)
		tx.Exec(`DELETE FROM block_file WHERE blockid = ?`, blockId)
		return tx.Err
	})
}

func getAllFilesForBlockId(ctx context.Context, blockId string) ([]*FileInfo, error) {
	db := getDB()
	return store.WithTxRtn(ctx, db, func(tx *store.TxWrap) ([]*FileInfo, error) {
		query := `SELECT * FROM block_file WHERE blockid = ? ORDER BY name`
		return store.SelectMapsGen[FileInfo](tx, query, blockId), nil
	})
}

func getAllFiles(ctx context.Context) ([]*FileInfo, error) {
	db := getDB()
	return store.WithTxRtn(ctx, db, func(tx *store.TxWrap) ([]*FileInfo, error) {
		query := `SELECT * FROM block_file ORDER BY blockid, name`
		return store.SelectMapsGen[FileInfo](tx, query), nil
	})
}

func getAllBlockIdsFromDB(ctx context.Context) ([]string, error) {
	db := getDB()
	return store.WithTxRtn(ctx, db, func(tx *store.TxWrap) ([]string, error) {
		return tx.SelectStrings(`SELECT DISTINCT blockid FROM block_file ORDER BY blockid`), nil
	})
}
