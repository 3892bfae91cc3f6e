package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/emberassist/ember/internal/observe"
	"github.com/emberassist/ember/pkg/store"
	"github.com/emberassist/ember/pkg/types"
)

var (
	// ErrNoContacts means the user has no caregiver contacts on file.
	ErrNoContacts = errors.New("alerts: no caregiver contacts configured")

	// ErrNoChannels means contacts exist but none is reachable over a
	// configured channel.
	ErrNoChannels = errors.New("alerts: no reachable alert channel")

	// ErrNotDelivered means every attempted channel failed.
	ErrNotDelivered = errors.New("alerts: alert not delivered")
)

// Service fans an emergency alert out to every caregiver contact over every
// configured channel: Twilio SMS, Twilio voice call, and Pushover push.
type Service struct {
	contacts store.ContactStore
	twilio   *TwilioClient
	pushover *PushoverClient
	metrics  *observe.Metrics
}

// ServiceOption configures a [Service].
type ServiceOption func(*Service)

// WithTwilio wires the SMS and voice-call channels.
func WithTwilio(c *TwilioClient) ServiceOption {
	return func(s *Service) { s.twilio = c }
}

// WithPushover wires the push channel.
func WithPushover(c *PushoverClient) ServiceOption {
	return func(s *Service) { s.pushover = c }
}

// WithMetrics records per-channel delivery counters.
func WithMetrics(m *observe.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService creates an alert service over the caregiver contact store.
// Channels left unwired are skipped silently.
func NewService(contacts store.ContactStore, opts ...ServiceOption) *Service {
	s := &Service{contacts: contacts}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Notify delivers alert to all of the user's caregiver contacts
// concurrently. Any single successful channel counts as delivered: partial
// failures are logged and counted but do not produce an error. The returned
// error is non-nil only when nothing could be delivered at all.
func (s *Service) Notify(ctx context.Context, alert types.Alert) error {
	contacts, err := s.contacts.List(ctx, alert.UserID)
	if err != nil {
		return fmt.Errorf("alerts: list contacts: %w", err)
	}
	if len(contacts) == 0 {
		return ErrNoContacts
	}

	text := alertMessage(alert)
	spoken := spokenMessage(alert)

	var (
		attempted atomic.Int32
		delivered atomic.Int32
		mu        sync.Mutex
		failures  []error
	)
	report := func(channel, contactName string, err error) {
		if err != nil {
			s.count(ctx, channel, "error")
			mu.Lock()
			failures = append(failures, fmt.Errorf("%s to %s: %w", channel, contactName, err))
			mu.Unlock()
			slog.Warn("alert channel failed",
				slog.String("channel", channel),
				slog.String("contact", contactName),
				slog.String("user_id", alert.UserID),
				slog.String("error", err.Error()))
			return
		}
		delivered.Add(1)
		s.count(ctx, channel, "ok")
		slog.Info("alert delivered",
			slog.String("channel", channel),
			slog.String("contact", contactName),
			slog.String("user_id", alert.UserID))
	}

	var eg errgroup.Group
	for _, contact := range contacts {
		if s.twilio.Configured() && contact.Phone != "" {
			attempted.Add(2)
			eg.Go(func() error {
				report("sms", contact.Name, s.twilio.SendSMS(ctx, contact.Phone, text))
				return nil
			})
			eg.Go(func() error {
				report("call", contact.Name, s.twilio.PlaceCall(ctx, contact.Phone, spoken))
				return nil
			})
		}
		if s.pushover.Configured() && contact.PushoverKey != "" {
			attempted.Add(1)
			eg.Go(func() error {
				report("push", contact.Name, s.pushover.Push(ctx, contact.PushoverKey, "Ember emergency", text))
				return nil
			})
		}
	}
	_ = eg.Wait() // goroutines report failures instead of returning them

	if attempted.Load() == 0 {
		return ErrNoChannels
	}
	if delivered.Load() == 0 {
		mu.Lock()
		defer mu.Unlock()
		return errors.Join(append([]error{ErrNotDelivered}, failures...)...)
	}

	slog.Info("alert fan-out complete",
		slog.String("user_id", alert.UserID),
		slog.String("trigger", alert.Trigger),
		slog.Int("delivered", int(delivered.Load())),
		slog.Int("attempted", int(attempted.Load())))
	return nil
}

func (s *Service) count(ctx context.Context, channel, status string) {
	if s.metrics != nil {
		s.metrics.RecordAlert(ctx, channel, status)
	}
}

// alertMessage renders the SMS and push body.
func alertMessage(a types.Alert) string {
	when := a.OccurredAt
	if when.IsZero() {
		when = time.Now()
	}
	return fmt.Sprintf("EMBER EMERGENCY at %s: the user said %q. Please check on them.",
		when.Format("15:04"), a.Text)
}

// spokenMessage renders the text read aloud on a voice call. It avoids
// abbreviations and quoting so text-to-speech stays intelligible.
func spokenMessage(a types.Alert) string {
	return fmt.Sprintf("This is an automated emergency call from Ember, an assistive communication app. The user said: %s. Please check on them.", a.Text)
}
