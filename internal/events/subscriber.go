package events

import "context"

// Subscriber receives events from the event bus.
type Subscriber interface {
	// Subscribe delivers raw event payloads on the returned channel.
	// Call the returned cancel function to unsubscribe and close the channel.
	Subscribe(topic string) (<-chan []byte, func(), error)
	Close() error
}

// Triggers subscribes to topic and turns its messages into refresh signals.
// Bursts collapse: while a signal is pending, further messages are dropped.
// The returned channel is closed when ctx is done.
func Triggers(ctx context.Context, sub Subscriber, topic string) (<-chan struct{}, error) {
	msgs, cancel, err := sub.Subscribe(topic)
	if err != nil {
		return nil, err
	}
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}
