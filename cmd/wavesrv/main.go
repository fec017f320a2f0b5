package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tribixbite/waveterm/internal/blockstore"
	"github.com/tribixbite/waveterm/internal/bus"
	"github.com/tribixbite/waveterm/internal/scbase"
	"github.com/tribixbite/waveterm/internal/sstore"
)

var (
	Version = "v0.1.0"
	Build   = "dev"
)

const initTimeout = 10 * time.Second

var (
	homeDirFlag string
	stderrLog   bool
)

func init() {
	viper.SetEnvPrefix("WAVETERM")
	viper.AutomaticEnv()

	rootCmd.PersistentFlags().StringVar(&homeDirFlag, "home", "", "Wave home directory (default: $WAVETERM_HOME or ~/.waveterm)")
	rootCmd.PersistentFlags().BoolVar(&stderrLog, "stderr", false, "Log to stderr instead of the rotating log file")
	rootCmd.Flags().BoolP("version", "V", false, "Print version information")
}

var rootCmd = &cobra.Command{
	Use:   "wavesrv",
	Short: "wavesrv - terminal workbench server",
	Long:  `Persistence and update server for the terminal workbench: sessions, screens, command lines, shell state, and pty output.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("wavesrv version %s (%s)\n", Version, Build)
			return nil
		}
		return runServer()
	},
	SilenceUsage: true,
}

func setupLogging() io.Closer {
	if stderrLog {
		return nil
	}
	logWriter := &lumberjack.Logger{
		Filename:   scbase.GetLogFilePath(),
		MaxSize:    50, // MB
		MaxBackups: 3,
		MaxAge:     30, // days
		Compress:   true,
	}
	log.SetOutput(logWriter)
	return logWriter
}

func runServer() error {
	if homeDirFlag != "" {
		viper.Set("home", homeDirFlag)
	}
	if err := scbase.EnsureWaveHomeDir(); err != nil {
		return fmt.Errorf("cannot create wave home dir: %w", err)
	}
	if logCloser := setupLogging(); logCloser != nil {
		defer logCloser.Close()
	}
	log.Printf("[wavesrv] starting version %s (%s), home %s", Version, Build, scbase.GetWaveHomeDir())

	waveLock, err := scbase.AcquireWaveLock()
	if err != nil {
		return fmt.Errorf("cannot acquire wavesrv lock (another instance running?): %w", err)
	}
	defer waveLock.Release()

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := sstore.InitDB(ctx, scbase.GetMainDBPath()); err != nil {
		return fmt.Errorf("cannot initialize database: %w", err)
	}
	defer sstore.CloseDB()
	if err := blockstore.InitBlockstore(ctx, scbase.GetBlockstoreDBPath()); err != nil {
		return fmt.Errorf("cannot initialize blockstore: %w", err)
	}

	// any cmd still marked running did not survive the restart
	if err := sstore.HangupAllRunningCmds(ctx); err != nil {
		return fmt.Errorf("cannot reset running cmds: %w", err)
	}
	clientData, err := sstore.EnsureClientData(ctx)
	if err != nil {
		return fmt.Errorf("cannot initialize client data: %w", err)
	}
	log.Printf("[wavesrv] clientid %s", clientData.ClientId)
	if err := sstore.EnsureLocalRemote(ctx); err != nil {
		return fmt.Errorf("cannot initialize local remote: %w", err)
	}
	if err := sstore.EnsureOneSession(ctx); err != nil {
		return fmt.Errorf("cannot initialize default session: %w", err)
	}

	if err := blockstore.StartFlushTimer(blockstore.DefaultFlushTimeout); err != nil {
		return fmt.Errorf("cannot start blockstore flush timer: %w", err)
	}
	go sstore.RunUpdateWriter(&busDispatcher{})
	sstore.NotifyUpdateWriter()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("[wavesrv] got signal %v, shutting down", sig)

	sstore.StopUpdateWriter()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), initTimeout)
	defer shutdownCancel()
	if err := blockstore.CloseBlockstore(shutdownCtx); err != nil {
		log.Printf("[wavesrv] error closing blockstore: %v", err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "[error] %v\n", err)
		os.Exit(1)
	}
}

// busDispatcher drains the persistent update log onto the in-memory bus so
// connected clients see changes that were written while they were away.
type busDispatcher struct{}

func (d *busDispatcher) DispatchScreenUpdate(ctx context.Context, su *sstore.ScreenUpdateType) error {
	switch su.UpdateType {
	case sstore.UpdateType_PtyPos:
		return d.dispatchPtyData(ctx, su.ScreenId, su.LineId)
	case sstore.UpdateType_ScreenNew, sstore.UpdateType_ScreenName, sstore.UpdateType_ScreenSelectedLine:
		screen, err := sstore.GetScreenById(ctx, su.ScreenId)
		if err != nil {
			return err
		}
		if screen != nil {
			update := bus.MakeUpdatePacket()
			update.AddUpdate(*screen)
			bus.MainBus.DoUpdate(update)
		}
		return nil
	case sstore.UpdateType_ScreenDel:
		update := bus.MakeUpdatePacket()
		update.AddUpdate(sstore.ScreenType{ScreenId: su.ScreenId, Remove: true})
		bus.MainBus.DoUpdate(update)
		return nil
	default:
		// line:* and cmd:* entries all broadcast the current line/cmd pair
		line, cmd, err := sstore.GetLineCmdByLineId(ctx, su.ScreenId, su.LineId)
		if err != nil {
			return err
		}
		update := bus.MakeUpdatePacket()
		if line == nil {
			update.AddUpdate(sstore.LineType{ScreenId: su.ScreenId, LineId: su.LineId, Remove: true})
		} else {
			update.AddUpdate(*line)
			if cmd != nil {
				update.AddUpdate(*cmd)
			}
		}
		bus.MainBus.DoUpdate(update)
		return nil
	}
}

// dispatchPtyData sends pty output written since the last dispatched
// position and advances the saved position.
func (d *busDispatcher) dispatchPtyData(ctx context.Context, screenId string, lineId string) error {
	lastPos, err := sstore.GetWebPtyPos(ctx, screenId, lineId)
	if err != nil {
		return err
	}
	realOffset, data, err := sstore.ReadPtyOutFile(ctx, screenId, lineId, lastPos, sstore.MaxDBFileSize)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	update := sstore.MakePtyDataUpdate(screenId, lineId, realOffset, data)
	busUpdate := bus.MakeUpdatePacket()
	busUpdate.AddUpdate(*update)
	bus.MainBus.DoUpdate(busUpdate)
	return sstore.SetWebPtyPos(ctx, screenId, lineId, realOffset+int64(len(data)))
}
