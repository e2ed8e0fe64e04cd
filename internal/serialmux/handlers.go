package serialmux

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/stopline/internal/monitoring"
	"github.com/banshee-data/stopline/internal/stopline"
)

// Submitter accepts decoded events. *stopline.Dispatcher implements it.
type Submitter interface {
	Submit(context.Context, stopline.Event) error
}

// HandleEvent decodes one line and submits the resulting event. Blank lines
// and lines starting with '#' are ignored.
func HandleEvent(ctx context.Context, sub Submitter, payload string) error {
	payload = strings.TrimSpace(payload)
	if payload == "" || strings.HasPrefix(payload, "#") {
		return nil
	}
	ev, err := DecodeEvent(payload)
	if err != nil {
		return fmt.Errorf("failed to handle %s event: %w", ClassifyPayload(payload), err)
	}
	if err := sub.Submit(ctx, ev); err != nil {
		return fmt.Errorf("failed to submit %s event: %w", ClassifyPayload(payload), err)
	}
	return nil
}

// Forward subscribes to mux and hands every line to HandleEvent until ctx is
// done or the mux closes the subscription. Lines that fail to decode are
// logged and skipped.
func Forward(ctx context.Context, mux SerialMuxInterface, sub Submitter) error {
	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)
	return ForwardFrom(ctx, lines, sub)
}

// ForwardFrom is Forward over an existing subscription. Subscribing before
// the mux starts monitoring guarantees no line is missed.
func ForwardFrom(ctx context.Context, lines <-chan string, sub Submitter) error {
	decodeLog := monitoring.Throttle{Every: 100}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := HandleEvent(ctx, sub, line); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				decodeLog.Logf("[serialmux] dropped line: %v", err)
			}
		}
	}
}
