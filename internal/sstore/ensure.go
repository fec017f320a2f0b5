package sstore

import (
	"context"
	"fmt"
	"os/user"

	"github.com/google/uuid"
	"github.com/tribixbite/waveterm/internal/scbase"
)

const (
	RemoteTypeSsh    = "ssh"
	RemoteTypeOpenAI = "openai"
)

// EnsureClientData creates the singleton client row (with a fresh ECDSA
// keypair) on first startup and returns it.
func EnsureClientData(ctx context.Context) (*ClientData, error) {
	numRows, err := WithTxRtn(ctx, func(tx *TxWrap) (int, error) {
		return tx.GetInt(`SELECT count(*) FROM client`), nil
	})
	if err != nil {
		return nil, err
	}
	if numRows > 1 {
		return nil, fmt.Errorf("invalid client database, multiple (%d) client records", numRows)
	}
	if numRows == 0 {
		privBytes, pubBytes, err := generateUserKeys()
		if err != nil {
			return nil, err
		}
		cdata := &ClientData{
			ClientId:            uuid.New().String(),
			UserId:              uuid.New().String(),
			UserPrivateKeyBytes: privBytes,
			UserPublicKeyBytes:  pubBytes,
			ActiveSessionId:     "",
			WinSize:             ClientWinSizeType{},
		}
		err = WithTx(ctx, func(tx *TxWrap) error {
			query := `INSERT INTO client ( clientid, userid, activesessionid, userpublickeybytes, userprivatekeybytes, winsize, clientopts, feopts, releaseinfo)
                               VALUES (:clientid,:userid,:activesessionid,:userpublickeybytes,:userprivatekeybytes,:winsize,:clientopts,:feopts,:releaseinfo)`
			tx.NamedExec(query, cdata.ToMap())
			return tx.Err
		})
		if err != nil {
			return nil, err
		}
	}
	return GetClientData(ctx)
}

// EnsureLocalRemote creates the "local" and "sudo" remotes on first
// startup.
func EnsureLocalRemote(ctx context.Context) error {
	localRemote, err := GetRemoteByAlias(ctx, LocalRemoteAlias)
	if err != nil {
		return err
	}
	curUser, err := user.Current()
	if err != nil {
		return fmt.Errorf("cannot get current user: %w", err)
	}
	if localRemote == nil {
		localRemote = &RemoteType{
			RemoteId:            scbase.GenWaveUUID(),
			RemoteType:          RemoteTypeSsh,
			RemoteAlias:         LocalRemoteAlias,
			RemoteCanonicalName: fmt.Sprintf("%s@local", curUser.Username),
			RemoteUser:          curUser.Username,
			RemoteHost:          "local",
			ConnectMode:         ConnectModeStartup,
			AutoInstall:         true,
			SSHOpts:             &SSHOpts{Local: true},
			Local:               true,
			SSHConfigSrc:        SSHConfigSrcTypeManual,
			ShellPref:           ShellTypePrefDetect,
		}
		if err := UpsertRemote(ctx, localRemote); err != nil {
			return fmt.Errorf("cannot create local remote: %w", err)
		}
	}
	sudoRemote, err := GetRemoteByAlias(ctx, SudoRemoteAlias)
	if err != nil {
		return err
	}
	if sudoRemote == nil {
		sudoRemote = &RemoteType{
			RemoteId:            scbase.GenWaveUUID(),
			RemoteType:          RemoteTypeSsh,
			RemoteAlias:         SudoRemoteAlias,
			RemoteCanonicalName: "sudo@local",
			RemoteUser:          "root",
			RemoteHost:          "local",
			ConnectMode:         ConnectModeManual,
			AutoInstall:         true,
			SSHOpts:             &SSHOpts{Local: true, SSHOptsStr: "sudo"},
			RemoteOpts:          &RemoteOptsType{Color: "red"},
			Local:               true,
			SSHConfigSrc:        SSHConfigSrcTypeManual,
			ShellPref:           ShellTypePrefDetect,
		}
		if err := UpsertRemote(ctx, sudoRemote); err != nil {
			return fmt.Errorf("cannot create sudo remote: %w", err)
		}
	}
	return nil
}

// EnsureOneSession makes sure at least one session exists and the client
// points at a valid active session.
func EnsureOneSession(ctx context.Context) error {
	numSessions, err := GetSessionCount(ctx)
	if err != nil {
		return err
	}
	if numSessions == 0 {
		if _, err := InsertSessionWithName(ctx, DefaultSessionName, true); err != nil {
			return err
		}
		return nil
	}
	activeSessionId, err := GetActiveSessionId(ctx)
	if err != nil {
		return err
	}
	if activeSessionId == "" {
		firstSessionId, err := GetFirstSessionId(ctx)
		if err != nil {
			return err
		}
		if firstSessionId != "" {
			return SetActiveSessionId(ctx, firstSessionId)
		}
	}
	return nil
}
