// Package subscription turns a Redis pub/sub change feed into per-user live
// snapshot streams.
package subscription

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// ErrDisconnected is reported to listeners while the feed reconnects.
var ErrDisconnected = errors.New("change feed disconnected")

// Change announces that a user's collection was written.
type Change struct {
	UserID     string `json:"UserId"`
	Collection string `json:"Collection"`
}

// Hub owns the Redis subscription and fans changes out to listeners.
type Hub struct {
	rc      *redis.Client
	channel string
	retry   time.Duration

	mu        sync.Mutex
	listeners map[*Listener]struct{}
	ready     chan struct{}
	readyOnce sync.Once
}

func NewHub(rc *redis.Client, channel string) *Hub {
	return &Hub{
		rc:        rc,
		channel:   channel,
		retry:     time.Second,
		listeners: make(map[*Listener]struct{}),
		ready:     make(chan struct{}),
	}
}

// Ready is closed once the first subscription is established.
func (h *Hub) Ready() <-chan struct{} { return h.ready }

// Publish announces a change to every process listening on the channel.
func (h *Hub) Publish(ctx context.Context, c Change) error {
	data, err := sonic.Marshal(c)
	if err != nil {
		return err
	}
	return h.rc.Publish(ctx, h.channel, data).Err()
}

// Run listens for changes until ctx ends, reconnecting when the channel
// closes. Listeners see ErrDisconnected on every drop and a refresh after
// every reconnect so no change is missed.
func (h *Hub) Run(ctx context.Context) {
	for {
		sub := h.rc.Subscribe(ctx, h.channel)
		if _, err := sub.Receive(ctx); err != nil {
			_ = sub.Close()
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).WithField("channel", h.channel).Error("subscribe change feed")
			h.broadcastErr(ErrDisconnected)
			if !sleep(ctx, h.retry) {
				return
			}
			continue
		}
		h.readyOnce.Do(func() { close(h.ready) })
		h.wakeAll()

		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var c Change
				if err := sonic.Unmarshal([]byte(msg.Payload), &c); err != nil {
					log.WithError(err).Warn("unable to parse change")
					continue
				}
				h.wake(c)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		log.WithField("channel", h.channel).Error("pubsub channel closed, reconnecting")
		h.broadcastErr(ErrDisconnected)
		if !sleep(ctx, h.retry) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (h *Hub) wake(c Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for l := range h.listeners {
		if l.userID == c.UserID && l.collection == c.Collection {
			l.signal()
		}
	}
}

func (h *Hub) wakeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for l := range h.listeners {
		l.signal()
	}
}

func (h *Hub) broadcastErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for l := range h.listeners {
		select {
		case l.errs <- err:
		default:
		}
	}
}

// Listener is one live stream. Refreshes run on a single goroutine so
// snapshots reach the handler in order.
type Listener struct {
	userID     string
	collection string
	wakeCh     chan struct{}
	errs       chan error
	stop       chan struct{}
	once       sync.Once
	wg         sync.WaitGroup
}

func (l *Listener) signal() {
	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
}

// Stop ends the stream; no callback runs after it returns.
func (l *Listener) Stop() {
	l.once.Do(func() { close(l.stop) })
	l.wg.Wait()
}

// Subscribe registers a listener for one user's collection. refresh is called
// once immediately and again after every matching change; its errors and feed
// disconnects go to onError.
func (h *Hub) Subscribe(userID, collection string, refresh func(ctx context.Context) error, onError func(error)) *Listener {
	l := &Listener{
		userID:     userID,
		collection: collection,
		wakeCh:     make(chan struct{}, 1),
		errs:       make(chan error, 1),
		stop:       make(chan struct{}),
	}
	h.mu.Lock()
	h.listeners[l] = struct{}{}
	h.mu.Unlock()
	l.signal()

	ctx, cancel := context.WithCancel(context.Background())
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer cancel()
		defer func() {
			h.mu.Lock()
			delete(h.listeners, l)
			h.mu.Unlock()
		}()
		go func() {
			select {
			case <-l.stop:
				cancel()
			case <-ctx.Done():
			}
		}()
		for {
			select {
			case <-l.stop:
				return
			case <-l.wakeCh:
				if err := refresh(ctx); err != nil && ctx.Err() == nil && onError != nil {
					onError(err)
				}
			case err := <-l.errs:
				if onError != nil {
					onError(err)
				}
			}
		}
	}()
	return l
}
