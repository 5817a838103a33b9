package feedclient

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pscheid92/orderfeed/internal/domain"
)

const DefaultMaxItems = 50

// Item is one line of the feed. Op is the change operation, or "snapshot"
// for records delivered in the init envelope.
type Item struct {
	Op   domain.Operation
	Data json.RawMessage
}

type orderView struct {
	ID           any    `json:"id"`
	CustomerName string `json:"customer_name"`
	ProductName  string `json:"product_name"`
	Status       string `json:"status"`
}

// String renders the item as "INSERT  Order #7 • Ada • Widget • new".
// Missing fields render as placeholders.
func (i Item) String() string {
	var v orderView
	_ = json.Unmarshal(i.Data, &v)

	id := "—"
	if v.ID != nil {
		id = fmt.Sprint(v.ID)
	}
	return fmt.Sprintf("%-8s Order #%s • %s • %s • %s",
		strings.ToUpper(string(i.Op)), id,
		orDefault(v.CustomerName, "Unknown"), orDefault(v.ProductName, "—"), orDefault(v.Status, "—"))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Feed keeps the newest items first, bounded to max entries.
type Feed struct {
	mu    sync.Mutex
	items []Item
	max   int
}

// NewFeed creates an empty feed. A non-positive maxItems uses DefaultMaxItems.
func NewFeed(maxItems int) *Feed {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	return &Feed{max: maxItems}
}

// Apply decodes one server frame into the feed. Init records are prepended
// one at a time, so the oldest of them ends up on top. Unknown envelope
// types are ignored and reported as not applied.
func (f *Feed) Apply(frame []byte) (bool, error) {
	var env domain.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrDecode, err)
	}

	switch env.Type {
	case domain.EnvelopeInit:
		var records []json.RawMessage
		if err := json.Unmarshal(env.Data, &records); err != nil {
			return false, fmt.Errorf("%w: init data must be an array: %w", domain.ErrDecode, err)
		}
		f.mu.Lock()
		for _, r := range records {
			f.prepend(Item{Op: domain.OperationSnapshot, Data: r})
		}
		f.mu.Unlock()
		return true, nil

	case domain.EnvelopeDBEvent:
		f.mu.Lock()
		f.prepend(Item{Op: env.Operation, Data: env.Data})
		f.mu.Unlock()
		return true, nil

	default:
		return false, nil
	}
}

func (f *Feed) prepend(item Item) {
	f.items = append([]Item{item}, f.items...)
	if len(f.items) > f.max {
		f.items = f.items[:f.max]
	}
}

// Items returns a copy of the feed, newest first.
func (f *Feed) Items() []Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Item(nil), f.items...)
}

func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func (f *Feed) Clear() {
	f.mu.Lock()
	f.items = nil
	f.mu.Unlock()
}
