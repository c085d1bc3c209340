package tornago

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Event is one decoded asynchronous (650) control-protocol event.
type Event struct {
	// Keyword is the event's first token (e.g. "CIRC", "STREAM", "STATUS_CLIENT").
	Keyword string
	// Lines holds every line of the event, keyword included on Lines[0].
	Lines []string
}

// Arg returns the text of the event's first line with the keyword removed.
func (e Event) Arg() string {
	if len(e.Lines) == 0 {
		return ""
	}
	return strings.TrimPrefix(strings.TrimPrefix(e.Lines[0], e.Keyword), " ")
}

type subscription struct {
	id      uint64
	keyword string
	fn      func(Event)
}

// eventDispatcher demultiplexes 650 lines by keyword to subscribed
// listeners, and keeps the daemon's active SETEVENTS set equal to the
// aggregate of keywords with at least one live subscriber (Testable
// Properties: Event subscription minimality).
type eventDispatcher struct {
	logger Logger

	mu        sync.Mutex
	subs      map[string][]subscription
	nextID    uint64
	sendSetEvents func(ctx context.Context, keywords []string) error
}

func newEventDispatcher(logger Logger) *eventDispatcher {
	return &eventDispatcher{
		logger: logger,
		subs:   make(map[string][]subscription),
	}
}

// Subscribe registers fn for events whose keyword matches, issuing SETEVENTS
// with the new aggregate keyword set if this is the first subscriber for
// keyword. The returned func unsubscribes, shrinking the SETEVENTS set again
// if this was the last listener for keyword.
func (d *eventDispatcher) Subscribe(ctx context.Context, keyword string, fn func(Event)) (func(), error) {
	keyword = strings.ToUpper(keyword)

	d.mu.Lock()
	isNewKeyword := len(d.subs[keyword]) == 0
	d.nextID++
	id := d.nextID
	d.subs[keyword] = append(d.subs[keyword], subscription{id: id, keyword: keyword, fn: fn})
	keywords := d.aggregateLocked()
	d.mu.Unlock()

	if isNewKeyword && d.sendSetEvents != nil {
		if err := d.sendSetEvents(ctx, keywords); err != nil {
			d.mu.Lock()
			d.removeLocked(keyword, id)
			d.mu.Unlock()
			return nil, err
		}
	}

	return func() { d.unsubscribe(keyword, id) }, nil
}

func (d *eventDispatcher) unsubscribe(keyword string, id uint64) {
	d.mu.Lock()
	wasLast := d.removeLocked(keyword, id) && len(d.subs[keyword]) == 0
	keywords := d.aggregateLocked()
	d.mu.Unlock()

	if wasLast && d.sendSetEvents != nil {
		// Best-effort: failing to shrink SETEVENTS on teardown just means
		// the daemon keeps emitting an event nobody reads locally.
		_ = d.sendSetEvents(context.Background(), keywords)
	}
}

// removeLocked removes subscription id from keyword's list and reports
// whether it was found. Caller holds d.mu.
func (d *eventDispatcher) removeLocked(keyword string, id uint64) bool {
	list := d.subs[keyword]
	for i, s := range list {
		if s.id == id {
			d.subs[keyword] = append(list[:i], list[i+1:]...)
			if len(d.subs[keyword]) == 0 {
				delete(d.subs, keyword)
			}
			return true
		}
	}
	return false
}

// aggregateLocked returns the sorted set of keywords with at least one
// subscriber. Caller holds d.mu.
func (d *eventDispatcher) aggregateLocked() []string {
	keywords := make([]string, 0, len(d.subs))
	for k := range d.subs {
		keywords = append(keywords, k)
	}
	sort.Strings(keywords)
	return keywords
}

// dispatch delivers one decoded event to every matching subscriber,
// synchronously and in registration order. A listener panic is contained
// and logged rather than propagated, since one misbehaving listener must
// not break delivery to the rest or unwind the Engine's read loop.
func (d *eventDispatcher) dispatch(code int, lines []string) {
	if len(lines) == 0 {
		return
	}
	keyword := strings.ToUpper(firstWord(lines[0]))
	event := Event{Keyword: keyword, Lines: lines}

	d.mu.Lock()
	listeners := append([]subscription(nil), d.subs[keyword]...)
	d.mu.Unlock()

	for _, s := range listeners {
		d.invoke(s, event)
	}
}

func (d *eventDispatcher) invoke(s subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Log("error", "event listener panicked", "keyword", s.keyword, "recover", r)
		}
	}()
	s.fn(event)
}
