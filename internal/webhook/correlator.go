// Package webhook receives callbacks from the remote agent, verifies and
// normalizes them, and dispatches them to subscribers.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ShayCichocki/courier/pkg/models"
)

// ErrInvalidPayload wraps every validation failure.
var ErrInvalidPayload = errors.New("invalid webhook payload")

// Wildcard subscribes to every event kind.
const Wildcard models.EventKind = "*"

// notifyStep is the progress granularity that is forwarded to reporters.
const notifyStep = 25

const defaultDedupeSize = 4096

// Callback handles a dispatched event.
type Callback func(ctx context.Context, ev models.ProcessedEvent) error

// SubscriptionID identifies a registered callback.
type SubscriptionID uint64

type subscription struct {
	kind models.EventKind
	cb   Callback
}

// Correlator verifies, validates and normalizes webhook events and fans
// them out to subscribers.
type Correlator struct {
	secret []byte
	now    func() time.Time

	// dedupeMu makes the read-then-write on seen atomic.
	dedupeMu sync.Mutex
	// seen remembers the last status per remote task.
	seen *lru.Cache[string, models.RemoteStatus]

	mu     sync.RWMutex
	subs   map[SubscriptionID]subscription
	nextID SubscriptionID
}

// NewCorrelator creates a correlator. An empty secret disables signature
// verification. dedupeSize bounds how many remote tasks are remembered.
func NewCorrelator(secret string, dedupeSize int) (*Correlator, error) {
	if dedupeSize <= 0 {
		dedupeSize = defaultDedupeSize
	}
	seen, err := lru.New[string, models.RemoteStatus](dedupeSize)
	if err != nil {
		return nil, fmt.Errorf("creating dedupe cache: %w", err)
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		log.Printf("[webhook] WARNING: no webhook secret configured; signatures will not be verified")
	}
	return &Correlator{
		secret: []byte(secret),
		now:    time.Now,
		seen:   seen,
		subs:   make(map[SubscriptionID]subscription),
	}, nil
}

// Verify checks an HMAC-SHA256 signature over the raw payload. The
// signature may be bare hex or carry a "sha256=" prefix. With no secret
// configured every payload is accepted.
func (c *Correlator) Verify(payload []byte, signature string) bool {
	if len(c.secret) == 0 {
		log.Printf("[webhook] WARNING: accepting unsigned payload; no secret configured")
		return true
	}
	sig := strings.TrimSpace(signature)
	sig = strings.TrimPrefix(sig, "sha256=")
	got, err := hex.DecodeString(sig)
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, c.secret)
	_, _ = mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the "sha256=<hex>" signature for payload under secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Validate decodes and checks a payload. Every failure wraps
// ErrInvalidPayload.
func (c *Correlator) Validate(body []byte) (*Event, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	switch {
	case ev.Type == "":
		return nil, fmt.Errorf("%w: missing type", ErrInvalidPayload)
	case !ev.Type.Valid():
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidPayload, ev.Type)
	case strings.TrimSpace(ev.TaskID) == "":
		return nil, fmt.Errorf("%w: missing taskId", ErrInvalidPayload)
	case strings.TrimSpace(ev.OrganizationID) == "":
		return nil, fmt.Errorf("%w: missing organizationId", ErrInvalidPayload)
	}
	if p := ev.Data.Progress; p != nil && (p.Percentage < 0 || p.Percentage > 100) {
		return nil, fmt.Errorf("%w: progress percentage %d out of range", ErrInvalidPayload, p.Percentage)
	}
	return &ev, nil
}

// StatusFor maps an event kind onto the normalized remote status.
func StatusFor(kind models.EventKind) models.RemoteStatus {
	switch kind {
	case models.EventKindCompleted:
		return models.RemoteCompleted
	case models.EventKindFailed:
		return models.RemoteFailed
	case models.EventKindCancelled:
		return models.RemoteCancelled
	default:
		return models.RemoteInProgress
	}
}

// ShouldNotify reports whether reporters should hear about an event.
// Terminal events always notify; progress notifies at multiples of 25
// percent; started never does.
func ShouldNotify(kind models.EventKind, progress *models.Progress) bool {
	switch {
	case kind.Terminal():
		return true
	case kind == models.EventKindProgress:
		return progress != nil && progress.Percentage%notifyStep == 0
	default:
		return false
	}
}

// Process normalizes a validated event. Events for a remote task that
// already reached a terminal status are marked Duplicate.
func (c *Correlator) Process(ev *Event) *models.ProcessedEvent {
	if ev == nil {
		return nil
	}
	status := StatusFor(ev.Type)
	pe := &models.ProcessedEvent{
		RemoteTaskID:   ev.TaskID,
		OrganizationID: ev.OrganizationID,
		Kind:           ev.Type,
		Status:         status,
		Progress:       ev.Data.Progress,
		Error:          ev.Data.Error,
		ShouldNotify:   ShouldNotify(ev.Type, ev.Data.Progress),
		ReceivedAt:     c.now(),
	}
	if r := ev.Data.Result; r != nil {
		pe.Result = &models.TaskResult{
			RemoteTaskID: ev.TaskID,
			Output:       r.Summary,
			PRURL:        r.PullRequestURL,
		}
	}

	key := ev.OrganizationID + "/" + ev.TaskID
	c.dedupeMu.Lock()
	if prev, ok := c.seen.Get(key); ok && prev != models.RemoteInProgress {
		pe.Duplicate = true
		pe.ShouldNotify = false
	} else {
		c.seen.Add(key, status)
	}
	c.dedupeMu.Unlock()

	return pe
}

// Subscribe registers cb for one event kind, or every kind with Wildcard.
func (c *Correlator) Subscribe(kind models.EventKind, cb Callback) SubscriptionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.subs[c.nextID] = subscription{kind: kind, cb: cb}
	return c.nextID
}

// Unsubscribe removes a callback. It reports whether the id was registered.
func (c *Correlator) Unsubscribe(id SubscriptionID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[id]; !ok {
		return false
	}
	delete(c.subs, id)
	return true
}

// Dispatch calls every matching callback in registration order. A callback
// that errors or panics is logged and does not affect the others. It
// returns the number of callbacks that succeeded.
func (c *Correlator) Dispatch(ctx context.Context, ev models.ProcessedEvent) int {
	c.mu.RLock()
	ids := make([]SubscriptionID, 0, len(c.subs))
	for id, sub := range c.subs {
		if sub.kind == Wildcard || sub.kind == ev.Kind {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	cbs := make([]Callback, len(ids))
	for i, id := range ids {
		cbs[i] = c.subs[id].cb
	}
	c.mu.RUnlock()

	delivered := 0
	for i, cb := range cbs {
		if err := invoke(ctx, cb, ev); err != nil {
			log.Printf("[webhook] subscriber %d failed on %s for %s: %v", ids[i], ev.Kind, ev.RemoteTaskID, err)
			continue
		}
		delivered++
	}
	return delivered
}

// invoke runs cb, converting a panic into an error.
func invoke(ctx context.Context, cb Callback, ev models.ProcessedEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return cb(ctx, ev)
}
