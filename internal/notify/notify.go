// Package notify routes incident notifications to delivery channels.
// The router decides who hears about an incident; senders in the
// subpackages deliver to one channel each.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/incident-warden/internal/domain"
)

// Notification is one message addressed to a single target.
type Notification struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers notifications over one channel type.
type Sender interface {
	Send(ctx context.Context, n Notification) error
	Type() domain.ChannelType
}

// retryable is implemented by sender errors that are worth retrying.
type retryable interface {
	IsRetryable() bool
}

// IsRetryable reports whether a send error is temporary.
func IsRetryable(err error) bool {
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

// Dispatcher fans a notification out to senders by channel type.
type Dispatcher struct {
	senders map[domain.ChannelType]Sender
}

// NewDispatcher creates a dispatcher from the configured senders.
func NewDispatcher(senders ...Sender) *Dispatcher {
	senderMap := make(map[domain.ChannelType]Sender)
	for _, s := range senders {
		senderMap[s.Type()] = s
	}
	return &Dispatcher{senders: senderMap}
}

// Send delivers one notification to one target. A missing sender for
// the target's channel is an error: the directory promised a channel
// the deployment does not carry.
func (d *Dispatcher) Send(ctx context.Context, target domain.RecipientTarget, subject, body string) error {
	sender, ok := d.senders[target.Channel]
	if !ok {
		return fmt.Errorf("no sender configured for channel %q", target.Channel)
	}

	start := time.Now()
	err := sender.Send(ctx, Notification{
		To:      target.Address,
		Subject: subject,
		Body:    body,
	})
	recordSendDuration(string(target.Channel), time.Since(start))

	if err != nil {
		recordSent(string(target.Channel), "failed")
		return err
	}
	recordSent(string(target.Channel), "sent")
	return nil
}

// HasSender reports whether a sender is configured for the channel.
func (d *Dispatcher) HasSender(c domain.ChannelType) bool {
	_, ok := d.senders[c]
	return ok
}

// DispatchReport summarizes one broadcast: which targets got the
// message and which did not. One failing target never blocks the rest.
type DispatchReport struct {
	Sent   []domain.RecipientTarget
	Failed []FailedDelivery
}

// FailedDelivery is one target the broadcast could not reach.
type FailedDelivery struct {
	Target domain.RecipientTarget
	Err    error
}

// Broadcast sends the same message to every target, isolating
// per-target failures.
func (d *Dispatcher) Broadcast(ctx context.Context, targets []domain.RecipientTarget, subject, body string) *DispatchReport {
	report := &DispatchReport{}
	for _, t := range targets {
		if err := d.Send(ctx, t, subject, body); err != nil {
			slog.Error("notification delivery failed",
				"channel", t.Channel,
				"label", t.Label,
				"error", err,
			)
			report.Failed = append(report.Failed, FailedDelivery{Target: t, Err: err})
			continue
		}
		report.Sent = append(report.Sent, t)
	}
	return report
}
