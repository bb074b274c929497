// Package fake provides an in-memory, call-recording implementation of
// botapi.API for use in scheduler and dispatcher test suites (spec §8
// scenario 1: "assert that the BotApi mock recorded exactly one
// send_text(...)").
package fake

import (
	"context"
	"sync"
	"time"

	"vkteamsbot/pkg/botapi"
)

// Call records a single invocation of one of the Send* methods.
type Call struct {
	Method  string
	ChatID  botapi.ChatID
	Payload string // text, file path, or action
}

// API is a concurrency-safe fake satisfying botapi.API.
type API struct {
	mu    sync.Mutex
	calls []Call

	lastEventID botapi.EventID

	// Batches is consumed in order by GetEvents; once exhausted GetEvents
	// blocks until the context is cancelled, mimicking a long poll with
	// nothing new to report.
	Batches [][]botapi.Event
	nextIdx int

	// FailNext, if set, makes the next Send* call return this error once.
	FailNext error
}

// New returns an empty fake starting at cursor 0.
func New() *API {
	return &API{}
}

func (a *API) record(method string, chatID botapi.ChatID, payload string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, Call{Method: method, ChatID: chatID, Payload: payload})
	if a.FailNext != nil {
		err := a.FailNext
		a.FailNext = nil
		return err
	}
	return nil
}

func (a *API) SendText(_ context.Context, chatID botapi.ChatID, text string) error {
	return a.record("send_text", chatID, text)
}

func (a *API) SendFile(_ context.Context, chatID botapi.ChatID, filePath string) error {
	return a.record("send_file", chatID, filePath)
}

func (a *API) SendVoice(_ context.Context, chatID botapi.ChatID, filePath string) error {
	return a.record("send_voice", chatID, filePath)
}

func (a *API) SendAction(_ context.Context, chatID botapi.ChatID, action botapi.Action) error {
	return a.record("send_action", chatID, string(action))
}

func (a *API) GetEvents(ctx context.Context, lastEventID botapi.EventID, _ time.Duration) (botapi.GetEventsResult, error) {
	a.mu.Lock()
	if a.nextIdx < len(a.Batches) {
		batch := a.Batches[a.nextIdx]
		a.nextIdx++
		max := lastEventID
		for _, e := range batch {
			if e.EventID > max {
				max = e.EventID
			}
		}
		a.mu.Unlock()
		return botapi.GetEventsResult{Events: batch, MaxEventID: max}, nil
	}
	a.mu.Unlock()

	<-ctx.Done()
	return botapi.GetEventsResult{}, ctx.Err()
}

func (a *API) GetLastEventID(_ context.Context) (botapi.EventID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastEventID, nil
}

func (a *API) SetLastEventID(_ context.Context, id botapi.EventID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastEventID = id
	return nil
}

// Calls returns a copy of every Send* call recorded so far.
func (a *API) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Call, len(a.calls))
	copy(out, a.calls)
	return out
}

// CallCount returns how many Send* calls of the given method have been recorded.
func (a *API) CallCount(method string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}
