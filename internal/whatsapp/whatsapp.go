// Package whatsapp sends admissions desk notifications through a linked
// WhatsApp account using whatsmeow.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/phone"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

const (
	// DefaultSQLitePath is the default whatsmeow device database.
	DefaultSQLitePath = "/var/lib/leadpipe/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID server for regular users.
	JIDSuffix = "s.whatsapp.net"
)

var (
	// ErrNotConnected is returned when sending through a client that never logged in.
	ErrNotConnected = errors.New("whatsapp client not initialized")
	// ErrEmptyRecipient is returned for a blank recipient.
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	// ErrEmptyBody is returned for a blank message body.
	ErrEmptyBody = errors.New("message body cannot be empty")
)

// Opts holds the whatsmeow database and login settings.
type Opts struct {
	DBDSN       string // whatsmeow device store DSN
	QRPath      string // file to write the login QR code to; stdout when empty
	NumericCode bool   // print the raw pairing code instead of a QR code
}

// Option configures a Client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput writes the login QR code to path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode prints the pairing code instead of a QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// Client sends plain text messages over a logged-in whatsmeow session.
type Client struct {
	waClient *whatsmeow.Client
}

// driverFor picks the database/sql driver for dsn and warns when SQLite
// foreign keys look disabled.
func driverFor(dsn string) string {
	if store.DetectDSNType(dsn) == "postgres" {
		return "postgres"
	}
	if !strings.Contains(dsn, "foreign_keys") {
		slog.Warn("WhatsApp SQLite store does not enable foreign keys; add '?_foreign_keys=on' to the DSN",
			"dsn_example", "file:"+dsn+"?_foreign_keys=on")
	}
	return "sqlite3"
}

// NewClient opens the device store, logs in (printing a QR code when no
// device is paired yet) and connects.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	dsn := cfg.DBDSN
	if dsn == "" {
		dsn = DefaultSQLitePath
	}
	driver := driverFor(dsn)
	slog.Debug("whatsapp.NewClient: opening device store", "driver", driver, "qr_to_file", cfg.QRPath != "", "numeric_code", cfg.NumericCode)

	container, err := sqlstore.New(ctx, driver, dsn, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}
	waClient := whatsmeow.NewClient(device, waLog.Stdout("Client", "INFO", true))

	if waClient.Store.ID != nil {
		if err := waClient.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
		slog.Info("whatsapp.NewClient: connected")
		return &Client{waClient: waClient}, nil
	}

	slog.Info("whatsapp.NewClient: login required, starting QR flow")
	qrChan, err := waClient.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open WhatsApp QR channel: %w", err)
	}
	if err := waClient.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}
	w := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			waClient.Disconnect()
			return nil, fmt.Errorf("failed to create QR file: %w", err)
		}
		defer f.Close()
		w = f
	}
	for evt := range qrChan {
		if evt.Event != "code" {
			slog.Info("whatsapp.NewClient: login event", "event", evt.Event)
			continue
		}
		writeLoginCode(w, evt.Code, cfg.NumericCode)
	}
	slog.Info("whatsapp.NewClient: connected")
	return &Client{waClient: waClient}, nil
}

func writeLoginCode(w io.Writer, code string, numeric bool) {
	if numeric {
		fmt.Fprintln(w, code)
		return
	}
	qrterminal.GenerateHalfBlock(code, qrterminal.L, w)
}

// RecipientJID converts a phone number into a WhatsApp user JID. Numbers the
// phone validator accepts are rewritten to international digits; anything
// else is used as given, minus a leading '+'.
func RecipientJID(to string) (types.JID, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return types.JID{}, ErrEmptyRecipient
	}
	user := strings.TrimPrefix(phone.Clean(to), "+")
	if r := phone.Validate(to); r.IsValid {
		if f, err := phone.Format(r); err == nil {
			user = strings.TrimPrefix(f.International, "+")
		}
	}
	return types.NewJID(user, JIDSuffix), nil
}

// SendMessage sends body to the given phone number.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c == nil || c.waClient == nil || c.waClient.Store == nil {
		return ErrNotConnected
	}
	if body == "" {
		return ErrEmptyBody
	}
	jid, err := RecipientJID(to)
	if err != nil {
		return err
	}
	if _, err := c.waClient.SendMessage(ctx, jid, &waE2E.Message{Conversation: &body}); err != nil {
		return fmt.Errorf("failed to send WhatsApp message: %w", err)
	}
	slog.Debug("Client.SendMessage: sent", "body_length", len(body))
	return nil
}

// Close disconnects from WhatsApp.
func (c *Client) Close() error {
	if c != nil && c.waClient != nil {
		c.waClient.Disconnect()
	}
	return nil
}
