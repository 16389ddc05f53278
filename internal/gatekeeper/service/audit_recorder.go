package service

import (
	"context"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/credential"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/policy"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store"
)

// AuditRecorder writes the audit trail inside the event's transaction.
type AuditRecorder struct{}

func NewAuditRecorder() *AuditRecorder {
	return &AuditRecorder{}
}

func (a *AuditRecorder) RecordAccess(
	ctx context.Context,
	w store.AuditWriter,
	user store.User,
	reader store.Reader,
	at time.Time,
	d policy.Decision,
) error {
	err := w.AppendAccessLog(ctx, store.AccessLogEntry{
		CardNumber: user.CardNumber,
		Time:       at,
		ReaderID:   reader.ID,
		UserID:     user.ID,
		Access:     d.Granted,
	})
	if err != nil {
		return fmt.Errorf("record access: %w", err)
	}
	return nil
}

// RecordUnknown logs a card read that resolved to nobody.  chip is empty
// when the payload could not be decoded.
func (a *AuditRecorder) RecordUnknown(
	ctx context.Context,
	w store.AuditWriter,
	raw []byte,
	chip credential.ChipID,
	at time.Time,
) error {
	err := w.AppendUnknownLog(ctx, store.UnknownCredentialLogEntry{
		Time: at,
		Text: UnknownCardText(raw, chip),
	})
	if err != nil {
		return fmt.Errorf("record unknown credential: %w", err)
	}
	return nil
}

// UnknownCardText is the logdata text for an unresolved card read.
func UnknownCardText(raw []byte, chip credential.ChipID) string {
	decoded := chip.String()
	if decoded == "" {
		decoded = "<undecodable>"
	}
	return fmt.Sprintf("unknown card %s raw=%q", decoded, raw)
}
