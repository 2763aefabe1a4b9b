// Package messaging records completed conversations as leads and notifies the
// admissions desk about them.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/google/uuid"
)

// ErrNoStore is returned when a LeadRecorder is built without a store.
var ErrNoStore = errors.New("lead recorder requires a store")

// Sender delivers a text message to a recipient (phone number without prefix).
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// LeadRecorder implements flow.LeadSink. It persists one lead per completed
// session and, when a sender and a recipient are configured, forwards a short
// summary to the admissions desk.
type LeadRecorder struct {
	store    store.Store
	sender   Sender
	notifyTo string
	now      func() time.Time
}

// NewLeadRecorder creates a LeadRecorder. sender may be nil, in which case
// leads are only stored.
func NewLeadRecorder(st store.Store, sender Sender, notifyTo string) (*LeadRecorder, error) {
	if st == nil {
		return nil, ErrNoStore
	}
	return &LeadRecorder{store: st, sender: sender, notifyTo: notifyTo, now: time.Now}, nil
}

var _ flow.LeadSink = (*LeadRecorder)(nil)

// OnSessionComplete stores the lead for s and notifies the admissions desk.
// The lead is stored even when the notification fails.
func (r *LeadRecorder) OnSessionComplete(ctx context.Context, s models.Session) error {
	lead := BuildLead(s, r.now())
	if err := r.store.SaveLead(ctx, lead); err != nil {
		return fmt.Errorf("failed to save lead for session %s: %w", s.ID, err)
	}
	slog.Info("LeadRecorder.OnSessionComplete: lead saved", "sessionID", s.ID, "leadID", lead.ID, "qualified", lead.Qualified, "network", lead.Network)

	if r.sender == nil || r.notifyTo == "" {
		return nil
	}
	if err := r.sender.SendMessage(ctx, r.notifyTo, FormatLead(lead)); err != nil {
		slog.Warn("LeadRecorder.OnSessionComplete: notification failed", "error", err, "sessionID", s.ID)
		return fmt.Errorf("failed to notify admissions desk: %w", err)
	}
	slog.Debug("LeadRecorder.OnSessionComplete: admissions desk notified", "sessionID", s.ID)
	return nil
}

// BuildLead derives the lead record for a completed session.
func BuildLead(s models.Session, at time.Time) models.Lead {
	d := s.UserData
	return models.Lead{
		ID:          uuid.NewString(),
		SessionID:   s.ID,
		UserID:      s.UserID,
		DisplayName: s.DisplayName,
		Major:       d[models.DataKeyMajor],
		Phone:       d[models.DataKeyPhoneStandardized],
		Network:     d[models.DataKeyPhoneNetwork],
		Channel:     d[models.DataKeyChannel],
		Timeslot:    d[models.DataKeyTimeslot],
		Qualified:   flow.IsQualified(d),
		CreatedAt:   at.UTC(),
	}
}

// FormatLead renders the admissions desk notification. The phone number is
// masked except for its last three digits.
func FormatLead(l models.Lead) string {
	var b strings.Builder
	if l.Qualified {
		b.WriteString("New qualified lead")
	} else {
		b.WriteString("New partial lead")
	}
	name := l.DisplayName
	if name == "" {
		name = l.UserID
	}
	fmt.Fprintf(&b, ": %s\n", name)
	writeField(&b, "Major", l.Major)
	if l.Phone != "" {
		writeField(&b, "Phone", MaskPhone(l.Phone)+networkSuffix(l.Network))
	}
	writeField(&b, "Channel", l.Channel)
	writeField(&b, "Timeslot", l.Timeslot)
	fmt.Fprintf(&b, "Ref: %s", l.SessionID)
	return b.String()
}

func writeField(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, value)
}

func networkSuffix(network string) string {
	if network == "" {
		return ""
	}
	return " (" + network + ")"
}

// MaskPhone replaces all but the last three digits of number with '*'.
func MaskPhone(number string) string {
	const visible = 3
	if len(number) <= visible {
		return strings.Repeat("*", len(number))
	}
	return strings.Repeat("*", len(number)-visible) + number[len(number)-visible:]
}
