package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"go.mau.fi/util/dbutil"
	"maunium.net/go/mautrix/crypto/cryptohelper"
	_ "modernc.org/sqlite"
)

// EncryptionConfig enables end-to-end encryption for the bot device.
type EncryptionConfig struct {
	// PickleKey encrypts the olm account and sessions at rest.
	PickleKey string
	// Database is the SQLite file holding olm sessions and room state.
	Database string
}

// WithEncryption decrypts history and encrypts messages to encrypted rooms
// through a crypto helper backed by a local SQLite store. Init must be
// called before the first sync.
func WithEncryption(cfg EncryptionConfig) Option {
	return func(c *Client) {
		c.encryption = &cfg
	}
}

// cryptoDSN opens the crypto store with foreign keys, WAL and immediate
// write transactions, matching what the mautrix stores expect from SQLite.
func cryptoDSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

func (c *Client) setupEncryption(cfg EncryptionConfig) error {
	if cfg.PickleKey == "" {
		return errors.New("matrix: encryption requires a pickle key")
	}
	if cfg.Database == "" {
		return errors.New("matrix: encryption requires a database path")
	}
	if c.cli.DeviceID == "" {
		return errors.New("matrix: encryption requires a device id")
	}

	db, err := sql.Open("sqlite", cryptoDSN(cfg.Database))
	if err != nil {
		return fmt.Errorf("open crypto store: %w", err)
	}
	store, err := dbutil.NewWithDB(db, "sqlite3")
	if err != nil {
		db.Close()
		return fmt.Errorf("open crypto store: %w", err)
	}
	helper, err := cryptohelper.NewCryptoHelper(c.cli, []byte(cfg.PickleKey), store)
	if err != nil {
		db.Close()
		return fmt.Errorf("create crypto helper: %w", err)
	}
	c.crypto = helper
	c.cli.Crypto = helper
	return nil
}

// Init loads the olm account and registers the encryption sync handlers.
// It is a no-op when encryption is disabled.
func (c *Client) Init(ctx context.Context) error {
	if c.crypto == nil {
		return nil
	}
	if err := c.crypto.Init(ctx); err != nil {
		return fmt.Errorf("init encryption: %w", err)
	}
	c.logger.Info("end-to-end encryption enabled", slog.String("device_id", c.cli.DeviceID.String()))
	return nil
}

// Close releases the crypto store.
func (c *Client) Close() error {
	if c.crypto == nil {
		return nil
	}
	return c.crypto.Close()
}
