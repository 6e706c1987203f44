package room

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/glossalabs/glossa-core/internal/delivery"
	"github.com/glossalabs/glossa-core/internal/lang"
)

// Subscriber is one connected listener: a generated id, a chosen target
// language, and the exclusive delivery channel its messages flow through.
type Subscriber struct {
	ID      string
	Channel *delivery.Channel

	mu       sync.RWMutex
	language string
}

// Language returns the subscriber's current target language.
func (s *Subscriber) Language() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.language
}

// SetLanguage switches the target language in place, without reconnecting.
func (s *Subscriber) SetLanguage(code string) error {
	if !lang.Supported(code) {
		return lang.ErrUnsupported{Code: code}
	}
	s.mu.Lock()
	s.language = code
	s.mu.Unlock()
	return nil
}

// Registry is the process-wide table of rooms and their subscribers. Rooms
// come into being on first join and vanish on the last leave. Safe for
// concurrent use from any number of session and subscriber lifecycles.
type Registry struct {
	log       *slog.Logger
	mu        sync.RWMutex
	rooms     map[string]map[string]*Subscriber
	meter     metric.Meter
	roomGauge metric.Int64ObservableGauge
	subGauge  metric.Int64ObservableGauge

	onRoomEmpty func(roomKey string)
}

func NewRegistry(log *slog.Logger) *Registry {
	r := &Registry{
		log:   log.With(slog.String("component", "room-registry")),
		rooms: make(map[string]map[string]*Subscriber),
		meter: otel.Meter("github.com/glossalabs/glossa-core/room"),
	}
	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return r
}

// SetOnRoomEmpty installs a callback fired after a room loses its last
// subscriber, outside the registry lock. Set once during wiring.
func (r *Registry) SetOnRoomEmpty(fn func(roomKey string)) {
	r.onRoomEmpty = fn
}

// Normalize folds a room key to its canonical, case-insensitive form.
func Normalize(room string) string {
	return strings.ToLower(strings.TrimSpace(room))
}

// Join registers a new subscriber in room with the given target language.
// An unsupported language is rejected outright; the subscriber's channel is
// attached by the caller once the transport is ready.
func (r *Registry) Join(roomKey, language string, ch *delivery.Channel) (*Subscriber, error) {
	if !lang.Supported(language) {
		return nil, lang.ErrUnsupported{Code: language}
	}
	key := Normalize(roomKey)
	if key == "" {
		return nil, fmt.Errorf("room key must not be empty")
	}

	sub := &Subscriber{
		ID:       uuid.NewString(),
		Channel:  ch,
		language: language,
	}

	r.mu.Lock()
	subs := r.rooms[key]
	if subs == nil {
		subs = make(map[string]*Subscriber)
		r.rooms[key] = subs
	}
	subs[sub.ID] = sub
	r.mu.Unlock()

	r.log.Info("subscriber joined",
		slog.String("room", key),
		slog.String("subscriber", sub.ID),
		slog.String("language", language))
	return sub, nil
}

// Leave removes a subscriber. Unknown pairs are a no-op; the room itself is
// dropped the moment its last subscriber leaves.
func (r *Registry) Leave(roomKey, subscriberID string) {
	key := Normalize(roomKey)

	r.mu.Lock()
	subs, ok := r.rooms[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	sub, ok := subs[subscriberID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(subs, subscriberID)
	emptied := len(subs) == 0
	if emptied {
		delete(r.rooms, key)
	}
	r.mu.Unlock()

	sub.Channel.Close()
	if emptied && r.onRoomEmpty != nil {
		r.onRoomEmpty(key)
	}
	r.log.Info("subscriber left",
		slog.String("room", key),
		slog.String("subscriber", subscriberID))
}

// Snapshot returns the live subscriber set of a room. The slice is a copy;
// the subscribers themselves are shared.
func (r *Registry) Snapshot(roomKey string) []*Subscriber {
	key := Normalize(roomKey)

	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := r.rooms[key]
	if len(subs) == 0 {
		return nil
	}
	out := make([]*Subscriber, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub)
	}
	return out
}

// Get looks up one subscriber.
func (r *Registry) Get(roomKey, subscriberID string) (*Subscriber, bool) {
	key := Normalize(roomKey)

	r.mu.RLock()
	defer r.mu.RUnlock()
	subs, ok := r.rooms[key]
	if !ok {
		return nil, false
	}
	sub, ok := subs[subscriberID]
	return sub, ok
}

// Rooms enumerates the keys of rooms that currently have subscribers.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.rooms))
	for key := range r.rooms {
		keys = append(keys, key)
	}
	return keys
}

func (r *Registry) initMetrics() error {
	roomGauge, err := r.meter.Int64ObservableGauge("glossa.rooms.active",
		metric.WithDescription("Number of rooms with at least one subscriber"))
	if err != nil {
		return err
	}
	subGauge, err := r.meter.Int64ObservableGauge("glossa.rooms.subscribers",
		metric.WithDescription("Total connected subscribers"))
	if err != nil {
		return err
	}
	r.roomGauge = roomGauge
	r.subGauge = subGauge
	_, err = r.meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		rooms, subs := r.counts()
		obs.ObserveInt64(roomGauge, rooms)
		obs.ObserveInt64(subGauge, subs)
		return nil
	}, roomGauge, subGauge)
	return err
}

func (r *Registry) counts() (int64, int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var subs int64
	for _, members := range r.rooms {
		subs += int64(len(members))
	}
	return int64(len(r.rooms)), subs
}
