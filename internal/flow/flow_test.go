package flow

import (
	"context"
	"errors"
	"testing"
)

type recorder struct {
	got  []Notification
	fail map[string]bool
}

func (r *recorder) Notify(_ context.Context, n Notification) error {
	if r.fail[n.Subscription.ID] {
		return errors.New("sink down")
	}
	r.got = append(r.got, n)
	return nil
}

func TestArgsMinutes(t *testing.T) {
	tests := []struct {
		args Args
		want int
	}{
		{Args{When: 30}, 30},
		{Args{When: 30, Unit: "minutes"}, 30},
		{Args{When: 2, Unit: "hours"}, 120},
		{Args{When: 1, Unit: "days"}, 1440},
		{Args{When: 1, Unit: "weeks"}, 10080},
	}
	for _, tt := range tests {
		if got := tt.args.Minutes(); got != tt.want {
			t.Errorf("%+v.Minutes() = %d, want %d", tt.args, got, tt.want)
		}
	}
}

func TestTriggerEvaluatesRunListener(t *testing.T) {
	rec := &recorder{}
	cards := NewCards(rec)
	card, err := cards.Get(CardEventStartsIn)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	card.RegisterRunListener(func(args Args, state State) bool {
		return state.HasWhen && args.Minutes() == state.When
	})
	for _, when := range []int{29, 30, 31} {
		_ = cards.Subscribe(Subscription{ID: "sub", Card: CardEventStartsIn, Args: Args{When: when}})
	}

	n, err := card.Trigger(context.Background(), Tokens{"event_name": "Standup"}, WhenState(30))
	if err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	if n != 1 || len(rec.got) != 1 || rec.got[0].Subscription.Args.When != 30 {
		t.Errorf("delivered = %d, notifications = %+v", n, rec.got)
	}
}

func TestTriggerJoinsDeliveryErrors(t *testing.T) {
	rec := &recorder{fail: map[string]bool{"broken": true}}
	cards := NewCards(rec)
	_ = cards.Subscribe(Subscription{ID: "broken", Card: CardEventStarts})
	_ = cards.Subscribe(Subscription{ID: "fine", Card: CardEventStarts})

	card, _ := cards.Get(CardEventStarts)
	n, err := card.Trigger(context.Background(), Tokens{}, State{})
	if err == nil {
		t.Fatal("expected delivery error")
	}
	if n != 1 || len(rec.got) != 1 || rec.got[0].Subscription.ID != "fine" {
		t.Errorf("sibling delivery aborted: n=%d got=%+v", n, rec.got)
	}
}

func TestSubscribeUnknownCard(t *testing.T) {
	cards := NewCards(&recorder{})
	if err := cards.Subscribe(Subscription{ID: "x", Card: "nope"}); !errors.Is(err, ErrUnknownCard) {
		t.Errorf("err = %v, want ErrUnknownCard", err)
	}
}

func TestAutocomplete(t *testing.T) {
	cards := NewCards(&recorder{})
	card, _ := cards.Get(CardEventStartsCalendar)
	if card.Autocomplete("x") != nil {
		t.Error("expected nil without listener")
	}
	card.RegisterAutocompleteListener(func(q string) []Option {
		return []Option{{ID: q, Name: q}}
	})
	if got := card.Autocomplete("work"); len(got) != 1 || got[0].ID != "work" {
		t.Errorf("Autocomplete() = %+v", got)
	}
}

func TestTokenRegistry(t *testing.T) {
	r := NewTokenRegistry()

	tok, err := r.CreateToken("events_today_count", TokenOptions{Type: TokenNumber, Title: "Today count"})
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}
	if _, err := r.CreateToken("events_today_count", TokenOptions{Type: TokenNumber}); !errors.Is(err, ErrTokenExists) {
		t.Errorf("duplicate create err = %v", err)
	}

	if err := tok.SetValue("three"); !errors.Is(err, ErrTokenType) {
		t.Errorf("string into number token err = %v", err)
	}
	if err := tok.SetValue(3); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}
	if v, ok := r.Value("events_today_count"); !ok || v != 3 {
		t.Errorf("Value() = %v ok=%v", v, ok)
	}

	if err := tok.Unregister(); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if r.Has("events_today_count") {
		t.Error("token still registered")
	}
	if err := tok.SetValue(4); !errors.Is(err, ErrTokenUnregistered) {
		t.Errorf("SetValue after unregister err = %v", err)
	}
	if len(r.Published()) != 0 {
		t.Errorf("published = %+v", r.Published())
	}
}

func TestTokensString(t *testing.T) {
	got := Tokens{"b": 2, "a": "x y"}.String()
	if got != `a="x y" b="2"` {
		t.Errorf("String() = %s", got)
	}
}
