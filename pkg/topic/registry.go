package topic

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/posebridge/posebridge-go/pkg/wire"
)

// Registry errors.
var (
	ErrTypeConflict         = errors.New("topic already published with a different type")
	ErrEmptyName            = errors.New("topic name is empty")
	ErrInvalidPeriod        = errors.New("periodic must be positive unless all is set")
	ErrNoTopics             = errors.New("subscription has no topics")
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// Publisher is a topic the client publishes values to.
type Publisher struct {
	Name       string
	Type       wire.Type
	Properties map[string]any

	// UID is the publisher identifier on the current session.
	UID int64
}

// Options configures delivery for a subscription.
type Options struct {
	// Periodic is the delivery period in seconds. Required unless All is set.
	Periodic float64

	// All delivers every value change; values are queued rather than
	// overwritten.
	All bool

	// Prefix treats the subscription's topics as name prefixes.
	Prefix bool

	// TopicsOnly requests announcements without values.
	TopicsOnly bool
}

// Validate checks the periodic/all invariant.
func (o Options) Validate() error {
	if !o.All && o.Periodic <= 0 {
		return fmt.Errorf("%w: periodic=%v", ErrInvalidPeriod, o.Periodic)
	}
	return nil
}

func (o Options) wire() wire.SubscribeOptions {
	return wire.SubscribeOptions{
		Periodic:   o.Periodic,
		All:        o.All,
		Prefix:     o.Prefix,
		TopicsOnly: o.TopicsOnly,
	}
}

// Subscription is a set of topic names or prefixes the client receives.
type Subscription struct {
	Topics  []string
	Options Options

	// UID is the subscription identifier on the current session.
	UID int64
}

// Matches reports whether name is covered by the subscription.
func (s *Subscription) Matches(name string) bool {
	for _, t := range s.Topics {
		if s.Options.Prefix {
			if strings.HasPrefix(name, t) {
				return true
			}
		} else if name == t {
			return true
		}
	}
	return false
}

// Announced is a topic the peer has announced on the current session.
type Announced struct {
	Name       string
	ID         int64
	Type       wire.Type
	Properties map[string]any
}

// Registry maps topic names to identifiers and tracks publish/subscribe
// state. It is safe for concurrent use.
type Registry struct {
	mu sync.RWMutex

	// nextUID is the process-local identifier counter. It starts at zero and
	// only grows, so it never produces wire.ClockSyncTopicID.
	nextUID int64

	publishers      []*Publisher
	publisherByName map[string]*Publisher

	subscriptions []*Subscription

	announced     map[int64]*Announced
	announcedName map[string]*Announced
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		publisherByName: make(map[string]*Publisher),
		announced:       make(map[int64]*Announced),
		announcedName:   make(map[string]*Announced),
	}
}

func (r *Registry) allocUID() int64 {
	uid := r.nextUID
	r.nextUID++
	return uid
}

// Publish declares a publisher. Publishing the same name again with the
// same type returns the existing publisher with created=false.
func (r *Registry) Publish(name string, t wire.Type, props map[string]any) (pub Publisher, created bool, err error) {
	if name == "" {
		return Publisher{}, false, ErrEmptyName
	}
	if !t.Valid() {
		return Publisher{}, false, fmt.Errorf("%w: %d", wire.ErrUnknownType, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.publisherByName[name]; ok {
		if existing.Type != t {
			return Publisher{}, false, fmt.Errorf("%w: %s is %s, not %s", ErrTypeConflict, name, existing.Type, t)
		}
		return *existing, false, nil
	}

	p := &Publisher{
		Name:       name,
		Type:       t,
		Properties: copyProps(props),
		UID:        r.allocUID(),
	}
	r.publishers = append(r.publishers, p)
	r.publisherByName[name] = p
	return *p, true, nil
}

// Unpublish removes a publisher. It returns the removed definition.
func (r *Registry) Unpublish(name string) (Publisher, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.publisherByName[name]
	if !ok {
		return Publisher{}, false
	}
	delete(r.publisherByName, name)
	for i, q := range r.publishers {
		if q == p {
			r.publishers = append(r.publishers[:i], r.publishers[i+1:]...)
			break
		}
	}
	return *p, true
}

// Publisher returns the publisher for name.
func (r *Registry) Publisher(name string) (Publisher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.publisherByName[name]
	if !ok {
		return Publisher{}, false
	}
	return *p, true
}

// Publishers returns all publishers in registration order.
func (r *Registry) Publishers() []Publisher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Publisher, len(r.publishers))
	for i, p := range r.publishers {
		out[i] = *p
	}
	return out
}

// Subscribe declares a subscription.
func (r *Registry) Subscribe(topics []string, opts Options) (Subscription, error) {
	if len(topics) == 0 {
		return Subscription{}, ErrNoTopics
	}
	if err := opts.Validate(); err != nil {
		return Subscription{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := &Subscription{
		Topics:  append([]string(nil), topics...),
		Options: opts,
		UID:     r.allocUID(),
	}
	r.subscriptions = append(r.subscriptions, s)
	return *s, nil
}

// Unsubscribe removes the subscription with the given UID.
func (r *Registry) Unsubscribe(uid int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.subscriptions {
		if s.UID == uid {
			r.subscriptions = append(r.subscriptions[:i], r.subscriptions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %d", ErrSubscriptionNotFound, uid)
}

// Subscriptions returns all subscriptions in registration order.
func (r *Registry) Subscriptions() []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Subscription, len(r.subscriptions))
	for i, s := range r.subscriptions {
		out[i] = *s
	}
	return out
}

// Queued reports whether values for name should be queued rather than
// overwritten, i.e. whether an all-changes subscription covers it.
func (r *Registry) Queued(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.subscriptions {
		if s.Options.All && s.Matches(name) {
			return true
		}
	}
	return false
}

// Rebind prepares the registry for a new session. It forgets every peer
// announcement, assigns fresh identifiers to all definitions, and returns
// the publish and subscribe messages that re-announce them, publishers
// first, each in registration order.
func (r *Registry) Rebind() []wire.ControlMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.announced)
	clear(r.announcedName)

	msgs := make([]wire.ControlMessage, 0, len(r.publishers)+len(r.subscriptions))
	for _, p := range r.publishers {
		p.UID = r.allocUID()
		msgs = append(msgs, wire.Publish(p.Name, p.UID, p.Type, p.Properties))
	}
	for _, s := range r.subscriptions {
		s.UID = r.allocUID()
		msgs = append(msgs, wire.Subscribe(s.UID, s.Topics, s.Options.wire()))
	}
	return msgs
}

// Announce records a topic announced by the peer.
func (r *Registry) Announce(p wire.AnnounceParams) (Announced, error) {
	t, err := wire.ParseType(p.Type)
	if err != nil {
		return Announced{}, err
	}
	if p.ID == wire.ClockSyncTopicID {
		return Announced{}, fmt.Errorf("announce %s: id %d is reserved", p.Name, p.ID)
	}

	a := &Announced{
		Name:       p.Name,
		ID:         p.ID,
		Type:       t,
		Properties: copyProps(p.Properties),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.announcedName[p.Name]; ok && old.ID != p.ID {
		delete(r.announced, old.ID)
	}
	r.announced[a.ID] = a
	r.announcedName[a.Name] = a
	return *a, nil
}

// Unannounce forgets a peer topic.
func (r *Registry) Unannounce(id int64) (Announced, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.announced[id]
	if !ok {
		return Announced{}, false
	}
	delete(r.announced, id)
	if cur := r.announcedName[a.Name]; cur == a {
		delete(r.announcedName, a.Name)
	}
	return *a, true
}

// UpdateProperties merges a property update into an announced topic.
// A nil value deletes the property.
func (r *Registry) UpdateProperties(name string, update map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.announcedName[name]
	if !ok {
		return false
	}
	if a.Properties == nil {
		a.Properties = make(map[string]any)
	}
	for k, v := range update {
		if v == nil {
			delete(a.Properties, k)
		} else {
			a.Properties[k] = v
		}
	}
	return true
}

// Lookup returns the announced topic with the given peer ID.
func (r *Registry) Lookup(id int64) (Announced, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.announced[id]
	if !ok {
		return Announced{}, false
	}
	return *a, true
}

// LookupName returns the announced topic with the given name.
func (r *Registry) LookupName(name string) (Announced, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.announcedName[name]
	if !ok {
		return Announced{}, false
	}
	return *a, true
}

func copyProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
