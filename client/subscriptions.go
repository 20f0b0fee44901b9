package client

import (
	"context"
	"sync"

	"github.com/bleq/bleq/client/identifiers"
	"github.com/bleq/bleq/client/logger"
	"github.com/bleq/bleq/client/multierr"
	"github.com/bleq/bleq/client/transport"
	"github.com/juju/errors"
)

// Subscription is a long-lived stream of unsolicited value changes for one
// characteristic. Values are delivered on a buffered channel which is
// closed, without error, when the subscription is torn down or the
// connection disconnects.
type Subscription struct {
	conn           *Conn
	characteristic identifiers.CharacteristicID
	valuesCh       chan []byte
	closeOnce      sync.Once
}

// Characteristic returns the subscribed characteristic id.
func (s *Subscription) Characteristic() identifiers.CharacteristicID {
	return s.characteristic
}

// Values returns the channel of notification payloads. The channel closes
// when the subscription ends; it never errors.
func (s *Subscription) Values() <-chan []byte {
	return s.valuesCh
}

// Unsubscribe tears the subscription down with a queued notify-disable
// operation. Safe to call after a disconnect already completed the
// subscription, in which case it is a no-op.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	op := s.conn.newOperation(transport.KindNotifyDisable)
	op.characteristic = s.characteristic
	op.sub = s

	_, err := s.conn.submit(op).Wait(ctx)

	if multierr.Is(err, ErrDisconnected) || multierr.Is(err, ErrClosed) {
		// The disconnect flush already completed this subscription.
		return nil
	}

	return errors.Trace(err)
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		close(s.valuesCh)
	})
}

// SubscribeNotifications enables notifications for the characteristic. The
// enable request is itself a queued operation; the returned subscription is
// live once it completes. Multiple concurrent subscriptions per
// characteristic are permitted, each receiving every value.
func (c *Conn) SubscribeNotifications(
	ctx context.Context,
	characteristic identifiers.CharacteristicID,
) (*Subscription, error) {
	op := c.newOperation(transport.KindNotifyEnable)
	op.characteristic = characteristic

	value, err := c.submit(op).Wait(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}

	sub, ok := value.(*Subscription)
	if !ok {
		return nil, errors.Errorf("unexpected notify enable result: %T", value)
	}

	return sub, nil
}

// addSubscription is called by the event loop when a notify-enable
// operation succeeds.
func (c *Conn) addSubscription(characteristic identifiers.CharacteristicID) *Subscription {
	sub := &Subscription{
		conn:           c,
		characteristic: characteristic,
		valuesCh:       make(chan []byte, subscriptionBufferSize),
	}

	c.subs[characteristic] = append(c.subs[characteristic], sub)

	c.log.Debug("Notification subscription established", logger.Ctx{
		"characteristic": characteristic,
	})

	return sub
}

// removeSubscriptions is called by the event loop when a notify-disable
// operation succeeds.
func (c *Conn) removeSubscriptions(op *Operation) {
	subs := c.subs[op.characteristic]

	if op.sub == nil {
		for _, sub := range subs {
			sub.close()
		}

		delete(c.subs, op.characteristic)

		return
	}

	remaining := subs[:0]

	for _, sub := range subs {
		if sub == op.sub {
			sub.close()

			continue
		}

		remaining = append(remaining, sub)
	}

	if len(remaining) == 0 {
		delete(c.subs, op.characteristic)
	} else {
		c.subs[op.characteristic] = remaining
	}
}
