// Package scbase resolves the wave home directory layout and owns the
// process-level lock file.
package scbase

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

const (
	HomeVarName      = "WAVETERM_HOME"
	WaveHomeDirName  = ".waveterm"
	ScreensDirName   = "screens"
	SessionsDirName  = "sessions"
	WaveLockFileName = "wavesrv.lock"
	MainDBName       = "wavesrv.db"
	BlockstoreDBName = "blockstore.db"
	WaveLogFileName  = "wavesrv.log"
)

var homeDirOnce sync.Once
var homeDirCached string

// GetWaveHomeDir resolves the wave home: --home flag / WAVETERM_HOME via
// viper, falling back to ~/.waveterm. Resolved once per process.
func GetWaveHomeDir() string {
	homeDirOnce.Do(func() {
		hd := viper.GetString("home")
		if hd == "" {
			hd = os.Getenv(HomeVarName)
		}
		if hd == "" {
			osHome, err := os.UserHomeDir()
			if err != nil {
				osHome = "."
			}
			hd = path.Join(osHome, WaveHomeDirName)
		}
		homeDirCached = hd
	})
	return homeDirCached
}

func EnsureWaveHomeDir() error {
	return ensureDir(GetWaveHomeDir())
}

func GetScreensDir() string {
	return path.Join(GetWaveHomeDir(), ScreensDirName)
}

func GetSessionsDir() string {
	return path.Join(GetWaveHomeDir(), SessionsDirName)
}

func GetMainDBPath() string {
	return path.Join(GetWaveHomeDir(), MainDBName)
}

func GetBlockstoreDBPath() string {
	return path.Join(GetWaveHomeDir(), BlockstoreDBName)
}

func GetLogFilePath() string {
	return path.Join(GetWaveHomeDir(), WaveLogFileName)
}

func EnsureSessionDir(sessionId string) (string, error) {
	if sessionId == "" {
		return "", errors.New("cannot get session dir for blank sessionid")
	}
	sdir := path.Join(GetSessionsDir(), sessionId)
	if err := ensureDir(sdir); err != nil {
		return "", err
	}
	return sdir, nil
}

func ensureDir(dirName string) error {
	info, err := os.Stat(dirName)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dirName, 0700); err != nil {
			return err
		}
		info, err = os.Stat(dirName)
		if err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dirName)
	}
	return nil
}

func GenWaveUUID() string {
	for {
		rtn := uuid.New().String()
		// an all-digit 8-char prefix is ambiguous with line-number args
		if _, err := strconv.Atoi(rtn[0:8]); err == nil {
			continue
		}
		return rtn
	}
}

// WaveLock is the exclusive per-home lock held by the running server.
type WaveLock struct {
	fileName string
}

// AcquireWaveLock creates the pid lock file with O_EXCL. A lock held by a
// dead process is taken over.
func AcquireWaveLock() (*WaveLock, error) {
	if err := EnsureWaveHomeDir(); err != nil {
		return nil, err
	}
	lockFile := path.Join(GetWaveHomeDir(), WaveLockFileName)
	for attempt := 0; attempt < 2; attempt++ {
		fd, err := os.OpenFile(lockFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err == nil {
			fmt.Fprintf(fd, "%d\n", os.Getpid())
			fd.Close()
			return &WaveLock{fileName: lockFile}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
		pid, perr := readLockPid(lockFile)
		if perr == nil && processAlive(pid) {
			return nil, fmt.Errorf("wavesrv already running (pid %d, lock %s)", pid, lockFile)
		}
		// stale lock, remove and retry once
		if rerr := os.Remove(lockFile); rerr != nil {
			return nil, fmt.Errorf("cannot remove stale lock %s: %w", lockFile, rerr)
		}
	}
	return nil, fmt.Errorf("cannot acquire lock %s", lockFile)
}

func (l *WaveLock) Release() error {
	if l == nil {
		return nil
	}
	return os.Remove(l.fileName)
}

func readLockPid(lockFile string) (int, error) {
	barr, err := os.ReadFile(lockFile)
	if err != nil {
		return 0, err
	}
	str := string(barr)
	for i, ch := range str {
		if ch < '0' || ch > '9' {
			str = str[:i]
			break
		}
	}
	return strconv.Atoi(str)
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
