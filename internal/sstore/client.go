package sstore

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"fmt"

	"github.com/tribixbite/waveterm/internal/store"
)

type ClientWinSizeType struct {
	Width      int  `json:"width"`
	Height     int  `json:"height"`
	Top        int  `json:"top"`
	Left       int  `json:"left"`
	FullScreen bool `json:"fullscreen,omitempty"`
}

type ClientOptsType struct {
	NoTelemetry    bool  `json:"notelemetry,omitempty"`
	NoReleaseCheck bool  `json:"noreleasecheck,omitempty"`
	AcceptedTos    int64 `json:"acceptedtos,omitempty"`
	ConfirmFlags   map[string]bool `json:"confirmflags,omitempty"`
}

type FeOptsType struct {
	TermFontSize int `json:"termfontsize,omitempty"`
}

type ReleaseInfoType struct {
	LatestVersion string `json:"latestversion,omitempty"`
}

type ClientData struct {
	ClientId            string              `json:"clientid"`
	UserId              string              `json:"userid"`
	UserPrivateKeyBytes []byte              `json:"-"`
	UserPublicKeyBytes  []byte              `json:"-"`
	UserPrivateKey      *ecdsa.PrivateKey   `json:"-"`
	UserPublicKey       *ecdsa.PublicKey    `json:"-"`
	ActiveSessionId     string              `json:"activesessionid"`
	WinSize             ClientWinSizeType   `json:"winsize"`
	ClientOpts          ClientOptsType      `json:"clientopts"`
	FeOpts              FeOptsType          `json:"feopts"`
	ReleaseInfo         ReleaseInfoType     `json:"releaseinfo"`
}

func (ClientData) GetType() string {
	return "clientdata"
}

func (c *ClientData) ToMap() map[string]any {
	return map[string]any{
		"clientid":            c.ClientId,
		"userid":              c.UserId,
		"activesessionid":     c.ActiveSessionId,
		"userpublickeybytes":  c.UserPublicKeyBytes,
		"userprivatekeybytes": c.UserPrivateKeyBytes,
		"winsize":             store.QuickJson(c.WinSize),
		"clientopts":          store.QuickJson(c.ClientOpts),
		"feopts":              store.QuickJson(c.FeOpts),
		"releaseinfo":         store.QuickJson(c.ReleaseInfo),
	}
}

func (c *ClientData) FromMap(m map[string]any) bool {
	store.QuickSetStr(&c.ClientId, m, "clientid")
	store.QuickSetStr(&c.UserId, m, "userid")
	store.QuickSetStr(&c.ActiveSessionId, m, "activesessionid")
	store.QuickSetBytes(&c.UserPublicKeyBytes, m, "userpublickeybytes")
	store.QuickSetBytes(&c.UserPrivateKeyBytes, m, "userprivatekeybytes")
	store.QuickSetJson(&c.WinSize, m, "winsize")
	store.QuickSetJson(&c.ClientOpts, m, "clientopts")
	store.QuickSetJson(&c.FeOpts, m, "feopts")
	store.QuickSetJson(&c.ReleaseInfo, m, "releaseinfo")
	return c.ClientId != ""
}

// generateUserKeys makes the client's ECDSA P-384 keypair (DER encoded for
// storage).
func generateUserKeys() (privBytes []byte, pubBytes []byte, err error) {
	privKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating user keypair: %w", err)
	}
	privBytes, err = x509.MarshalECPrivateKey(privKey)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling private key: %w", err)
	}
	pubBytes, err = x509.MarshalPKIXPublicKey(&privKey.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling public key: %w", err)
	}
	return privBytes, pubBytes, nil
}

func (c *ClientData) decodeKeys() error {
	if len(c.UserPrivateKeyBytes) == 0 || len(c.UserPublicKeyBytes) == 0 {
		return fmt.Errorf("client keys not set")
	}
	privKey, err := x509.ParseECPrivateKey(c.UserPrivateKeyBytes)
	if err != nil {
		return fmt.Errorf("parsing private key: %w", err)
	}
	pubKeyIf, err := x509.ParsePKIXPublicKey(c.UserPublicKeyBytes)
	if err != nil {
		return fmt.Errorf("parsing public key: %w", err)
	}
	pubKey, ok := pubKeyIf.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("public key has wrong type %T", pubKeyIf)
	}
	c.UserPrivateKey = privKey
	c.UserPublicKey = pubKey
	return nil
}

// GetClientData returns the singleton client row with keys decoded.
func GetClientData(ctx context.Context) (*ClientData, error) {
	rtn, err := WithTxRtn(ctx, func(tx *TxWrap) (*ClientData, error) {
		cdata := store.GetMapGen[ClientData](tx, `SELECT * FROM client LIMIT 1`)
		if cdata == nil {
			return nil, fmt.Errorf("no client data found")
		}
		return cdata, nil
	})
	if err != nil {
		return nil, err
	}
	if err := rtn.decodeKeys(); err != nil {
		return nil, err
	}
	return rtn, nil
}

func SetActiveSessionId(ctx context.Context, sessionId string) error {
	return WithTx(ctx, func(tx *TxWrap) error {
		if sessionId != "" {
			if !tx.Exists(`SELECT sessionid FROM session WHERE sessionid = ?`, sessionId) {
				return fmt.Errorf("cannot switch to session, not found")
			}
		}
		tx.Exec(`UPDATE client SET activesessionid = ?`, sessionId)
		return tx.Err
	})
}

func GetActiveSessionId(ctx context.Context) (string, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) (string, error) {
		return tx.GetString(`SELECT activesessionid FROM client`), nil
	})
}

func SetWinSize(ctx context.Context, winSize ClientWinSizeType) error {
	return WithTx(ctx, func(tx *TxWrap) error {
		tx.Exec(`UPDATE client SET winsize = ?`, store.QuickJson(winSize))
		return tx.Err
	})
}

func SetClientOpts(ctx context.Context, clientOpts ClientOptsType) error {
	return WithTx(ctx, func(tx *TxWrap) error {
		tx.Exec(`UPDATE client SET clientopts = ?`, store.QuickJson(clientOpts))
		return tx.Err
	})
}

func UpdateClientFeOpts(ctx context.Context, feOpts FeOptsType) error {
	return WithTx(ctx, func(tx *TxWrap) error {
		tx.Exec(`UPDATE client SET feopts = ?`, store.QuickJson(feOpts))
		return tx.Err
	})
}

func SetReleaseInfo(ctx context.Context, releaseInfo ReleaseInfoType) error {
	return WithTx(ctx, func(tx *TxWrap) error {
		tx.Exec(`UPDATE client SET releaseinfo = ?`, store.QuickJson(releaseInfo))
		return tx.Err
	})
}
