// Package flow provides the trigger cards and published tokens that user
// automations subscribe to.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	CardEventStarts         = "event_starts"
	CardEventStartsCalendar = "event_starts_calendar"
	CardEventStops          = "event_stops"
	CardEventStartsIn       = "event_starts_in"
	CardEventStopsIn        = "event_stops_in"
	CardEventAdded          = "event_added"
	CardCalendarChanged     = "calendar_changed"
)

// CardIDs lists every trigger card, in registration order.
var CardIDs = []string{
	CardEventStarts,
	CardEventStartsCalendar,
	CardEventStops,
	CardEventStartsIn,
	CardEventStopsIn,
	CardEventAdded,
	CardCalendarChanged,
}

var ErrUnknownCard = errors.New("unknown trigger card")

// Args are the arguments a subscriber filled in on a card.
type Args struct {
	When     int    `yaml:"when" json:"when,omitempty"`
	Unit     string `yaml:"unit" json:"unit,omitempty"`
	Calendar string `yaml:"calendar" json:"calendar,omitempty"`
}

// Minutes converts When+Unit (minutes, hours, days, weeks) to minutes.
func (a Args) Minutes() int {
	switch strings.ToLower(a.Unit) {
	case "hours", "hour", "h":
		return a.When * 60
	case "days", "day", "d":
		return a.When * 60 * 24
	case "weeks", "week", "w":
		return a.When * 60 * 24 * 7
	default:
		return a.When
	}
}

// State is what the firing side attaches to a trigger for run listeners to
// compare against.
type State struct {
	When         int
	HasWhen      bool
	CalendarName string
}

func WhenState(minutes int) State {
	return State{When: minutes, HasWhen: true}
}

// Subscription is one user automation listening on a card.
type Subscription struct {
	ID   string `yaml:"id" json:"id"`
	Card string `yaml:"card" json:"card"`
	Args Args   `yaml:"args" json:"args"`
}

// Tokens are the values delivered with a fired trigger.
type Tokens map[string]any

// String renders tokens as sorted key=value pairs.
func (t Tokens) String() string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strconv.Quote(fmt.Sprint(t[k])))
	}
	return strings.Join(parts, " ")
}

// Notification is one delivery of a fired card to one subscription.
type Notification struct {
	Card         string
	Subscription Subscription
	Tokens       Tokens
	State        State
}

// Notifier delivers notifications to the outside world.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Option is one autocomplete result.
type Option struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type (
	RunListener          func(args Args, state State) bool
	AutocompleteListener func(query string) []Option
)

// Card is a named trigger.
type Card struct {
	id       string
	notifier Notifier

	mu           sync.RWMutex
	run          RunListener
	autocomplete AutocompleteListener
	subs         []Subscription
}

func (c *Card) ID() string { return c.id }

func (c *Card) RegisterRunListener(fn RunListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.run = fn
}

func (c *Card) RegisterAutocompleteListener(fn AutocompleteListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autocomplete = fn
}

func (c *Card) Subscribe(sub Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, sub)
}

// Autocomplete answers an argument query; nil without a listener.
func (c *Card) Autocomplete(query string) []Option {
	c.mu.RLock()
	fn := c.autocomplete
	c.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(query)
}

// Trigger evaluates every subscription against state and delivers matching
// ones. It returns the number of deliveries and the joined delivery errors.
func (c *Card) Trigger(ctx context.Context, tokens Tokens, state State) (int, error) {
	c.mu.RLock()
	run := c.run
	subs := append([]Subscription(nil), c.subs...)
	c.mu.RUnlock()

	var (
		delivered int
		errs      []error
	)
	for _, sub := range subs {
		if run != nil && !run(sub.Args, state) {
			continue
		}
		n := Notification{Card: c.id, Subscription: sub, Tokens: tokens, State: state}
		if err := c.notifier.Notify(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s -> %s: %w", c.id, sub.ID, err))
			continue
		}
		delivered++
	}
	return delivered, errors.Join(errs...)
}

// Cards is the registry of trigger cards.
type Cards struct {
	cards map[string]*Card
}

// NewCards creates all cards in CardIDs, delivering through notifier.
func NewCards(notifier Notifier) *Cards {
	cs := &Cards{cards: make(map[string]*Card, len(CardIDs))}
	for _, id := range CardIDs {
		cs.cards[id] = &Card{id: id, notifier: notifier}
	}
	return cs
}

// Get returns a card by id.
func (cs *Cards) Get(id string) (*Card, error) {
	c, ok := cs.cards[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCard, id)
	}
	return c, nil
}

// Subscribe attaches sub to the card it names.
func (cs *Cards) Subscribe(sub Subscription) error {
	c, err := cs.Get(sub.Card)
	if err != nil {
		return err
	}
	c.Subscribe(sub)
	return nil
}
