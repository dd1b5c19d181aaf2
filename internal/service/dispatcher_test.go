package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/whatsapp-broadcast/internal/client"
	"github.com/LeventeLantos/whatsapp-broadcast/internal/delivery"
	"github.com/LeventeLantos/whatsapp-broadcast/internal/model"
	"github.com/LeventeLantos/whatsapp-broadcast/internal/service"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type sendFunc func(ctx context.Context, c model.Contact, message string, atts []model.Attachment) model.MessageResult

type fakeBackend struct {
	mu    sync.Mutex
	kind  model.BackendKind
	send  sendFunc
	calls []model.Contact
	msgs  []string
}

func (f *fakeBackend) Kind() model.BackendKind { return f.kind }

func (f *fakeBackend) Send(ctx context.Context, c model.Contact, message string, atts []model.Attachment) model.MessageResult {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.msgs = append(f.msgs, message)
	n := len(f.calls)
	f.mu.Unlock()

	if f.send != nil {
		return f.send(ctx, c, message, atts)
	}
	return model.MessageResult{ContactID: c.ID, Success: true, MessageID: fmt.Sprintf("m%d", n)}
}

type countingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *countingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func (s *countingSleeper) count(d time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.waits {
		if w == d {
			n++
		}
	}
	return n
}

func contacts(n int) []model.Contact {
	out := make([]model.Contact, n)
	for i := range out {
		out[i] = model.Contact{ID: fmt.Sprintf("c%03d", i), Phone: fmt.Sprintf("555%07d", i), Name: fmt.Sprintf("n%d", i)}
	}
	return out
}

func newDispatcher(b delivery.Backend, s *countingSleeper) *service.Dispatcher {
	return service.NewDispatcher(delivery.NewRegistry(b), discard).WithSleeper(s.Sleep)
}

func TestDispatch_PacingAcrossBatches(t *testing.T) {
	backend := &fakeBackend{kind: model.BackendAutomation}
	sleeper := &countingSleeper{}

	report := newDispatcher(backend, sleeper).Dispatch(context.Background(), service.Request{
		Contacts: contacts(120),
		Template: "Hi [Name]",
		Config:   model.DeliveryConfig{BatchSize: 50, MaxRetries: 1},
	})

	assert.Equal(t, 120, len(backend.calls), "one attempt per contact")
	assert.Equal(t, model.Summary{Total: 120, Successful: 120, Failed: 0}, report.Summary)
	assert.Len(t, report.Results, 120)
	assert.Equal(t, 119, sleeper.count(2*time.Second), "message waits")
	assert.Equal(t, 2, sleeper.count(5*time.Second), "batch waits")
	assert.Len(t, sleeper.waits, 121)
	assert.NotEmpty(t, report.RunID)
}

func TestDispatch_PreservesOrderAndContactIDs(t *testing.T) {
	backend := &fakeBackend{kind: model.BackendAutomation}
	in := contacts(7)

	report := newDispatcher(backend, &countingSleeper{}).Dispatch(context.Background(), service.Request{
		Contacts: in,
		Template: "x",
		Config:   model.DeliveryConfig{BatchSize: 3},
	})

	require.Len(t, report.Results, len(in))
	for i, res := range report.Results {
		assert.Equal(t, in[i].ID, res.ContactID)
		assert.Equal(t, in[i].ID, backend.calls[i].ID)
	}
}

func TestDispatch_RetriesUntilSuccess(t *testing.T) {
	attempts := map[string]int{}
	backend := &fakeBackend{
		kind: model.BackendAutomation,
		send: func(ctx context.Context, c model.Contact, message string, atts []model.Attachment) model.MessageResult {
			attempts[c.ID]++
			if c.ID == "c000" && attempts[c.ID] < 3 {
				return model.MessageResult{ContactID: c.ID, Error: "flaky"}
			}
			return model.MessageResult{ContactID: c.ID, Success: true, MessageID: "ok"}
		},
	}
	sleeper := &countingSleeper{}

	report := newDispatcher(backend, sleeper).Dispatch(context.Background(), service.Request{
		Contacts: contacts(2),
		Template: "x",
	})

	assert.Equal(t, 3, attempts["c000"])
	assert.Equal(t, 1, attempts["c001"], "success short-circuits retries")
	assert.Equal(t, model.Summary{Total: 2, Successful: 2}, report.Summary)
	// Two waits before retries plus one before the second contact.
	assert.Equal(t, 3, sleeper.count(2*time.Second))
}

func TestDispatch_ExhaustedRetriesKeepLastError(t *testing.T) {
	n := 0
	backend := &fakeBackend{
		kind: model.BackendAutomation,
		send: func(ctx context.Context, c model.Contact, message string, atts []model.Attachment) model.MessageResult {
			n++
			return model.MessageResult{Error: fmt.Sprintf("boom %d", n)}
		},
	}

	report := newDispatcher(backend, &countingSleeper{}).Dispatch(context.Background(), service.Request{
		Contacts: contacts(1),
		Template: "x",
		Config:   model.DeliveryConfig{MaxRetries: 3},
	})

	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.False(t, res.Success)
	assert.Equal(t, "c000", res.ContactID)
	assert.Equal(t, "boom 3", res.Error)
	assert.Equal(t, 3, n)
	assert.Equal(t, model.Summary{Total: 1, Failed: 1}, report.Summary)
}

func TestDispatch_PanicBecomesFailure(t *testing.T) {
	backend := &fakeBackend{
		kind: model.BackendAutomation,
		send: func(ctx context.Context, c model.Contact, message string, atts []model.Attachment) model.MessageResult {
			if c.ID == "c001" {
				panic("driver exploded")
			}
			return model.MessageResult{ContactID: c.ID, Success: true}
		},
	}

	report := newDispatcher(backend, &countingSleeper{}).Dispatch(context.Background(), service.Request{
		Contacts: contacts(3),
		Template: "x",
	})

	assert.Equal(t, model.Summary{Total: 3, Successful: 2, Failed: 1}, report.Summary)
	assert.Contains(t, report.Results[1].Error, "driver exploded")
	assert.Equal(t, "c001", report.Results[1].ContactID)
}

func TestDispatch_ContactMessageOverridesTemplate(t *testing.T) {
	backend := &fakeBackend{kind: model.BackendAutomation}
	in := []model.Contact{
		{ID: "a", Phone: "1", Message: "custom"},
		{ID: "b", Phone: "2"},
	}

	newDispatcher(backend, &countingSleeper{}).Dispatch(context.Background(), service.Request{
		Contacts: in,
		Template: "template",
	})

	assert.Equal(t, []string{"custom", "template"}, backend.msgs)
}

func TestDispatch_EmptyContacts(t *testing.T) {
	sleeper := &countingSleeper{}
	report := newDispatcher(&fakeBackend{kind: model.BackendAutomation}, sleeper).Dispatch(context.Background(), service.Request{})

	assert.Equal(t, model.Summary{}, report.Summary)
	assert.Empty(t, report.Results)
	assert.Empty(t, sleeper.waits)
}

func TestDispatch_UnknownBackendFailsAll(t *testing.T) {
	backend := &fakeBackend{kind: model.BackendAutomation}

	report := newDispatcher(backend, &countingSleeper{}).Dispatch(context.Background(), service.Request{
		Contacts: contacts(2),
		Config:   model.DeliveryConfig{Backend: model.BackendAPI},
	})

	assert.Equal(t, model.Summary{Total: 2, Failed: 2}, report.Summary)
	assert.Empty(t, backend.calls)
	assert.Contains(t, report.Results[0].Error, "unknown delivery backend")
}

func TestDispatch_APIBackendWithoutTokenFailsEveryContact(t *testing.T) {
	api := delivery.NewCloudAPI(client.NewCloudAPIClient("http://127.0.0.1:1"), "", "123", discard)
	d := service.NewDispatcher(delivery.NewRegistry(api), discard).WithSleeper((&countingSleeper{}).Sleep)

	report := d.Dispatch(context.Background(), service.Request{
		Contacts: contacts(4),
		Template: "x",
		Config:   model.DeliveryConfig{Backend: model.BackendAPI},
	})

	assert.Equal(t, model.Summary{Total: 4, Failed: 4}, report.Summary)
	for _, res := range report.Results {
		assert.Equal(t, "WhatsApp Business API credentials not configured", res.Error)
	}
}

func TestDispatch_CancellationFailsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := &fakeBackend{
		kind: model.BackendAutomation,
		send: func(_ context.Context, c model.Contact, message string, atts []model.Attachment) model.MessageResult {
			if c.ID == "c001" {
				cancel()
			}
			return model.MessageResult{ContactID: c.ID, Success: true}
		},
	}

	report := newDispatcher(backend, &countingSleeper{}).Dispatch(ctx, service.Request{
		Contacts: contacts(5),
		Template: "x",
		Config:   model.DeliveryConfig{BatchSize: 2},
	})

	assert.Len(t, report.Results, 5)
	assert.Equal(t, 2, report.Summary.Successful)
	assert.Equal(t, 3, report.Summary.Failed)
	assert.Equal(t, report.Summary.Total, report.Summary.Successful+report.Summary.Failed)
	assert.Contains(t, report.Results[4].Error, "context canceled")
	assert.Len(t, backend.calls, 2)
}

func TestDispatch_HooksSeeFinalResults(t *testing.T) {
	backend := &fakeBackend{
		kind: model.BackendAutomation,
		send: func(ctx context.Context, c model.Contact, message string, atts []model.Attachment) model.MessageResult {
			if c.ID == "c001" {
				return model.MessageResult{Error: "nope"}
			}
			return model.MessageResult{ContactID: c.ID, Success: true, MessageID: "id-" + c.ID}
		},
	}

	var (
		mu     sync.Mutex
		sent   []string
		failed []string
		runIDs = map[string]bool{}
	)

	d := newDispatcher(backend, &countingSleeper{}).WithHooks(
		func(ctx context.Context, runID string, backend model.BackendKind, c model.Contact, res model.MessageResult) error {
			mu.Lock()
			defer mu.Unlock()
			sent = append(sent, res.MessageID)
			runIDs[runID] = true
			return errors.New("cache down")
		},
		func(ctx context.Context, runID string, backend model.BackendKind, c model.Contact, res model.MessageResult) error {
			mu.Lock()
			defer mu.Unlock()
			failed = append(failed, c.ID)
			runIDs[runID] = true
			return nil
		},
	)

	report := d.Dispatch(context.Background(), service.Request{
		Contacts: contacts(3),
		Template: "x",
		Config:   model.DeliveryConfig{MaxRetries: 2},
	})

	assert.Equal(t, []string{"id-c000", "id-c002"}, sent)
	assert.Equal(t, []string{"c001"}, failed, "failure hook fires once per contact")
	assert.Equal(t, map[string]bool{report.RunID: true}, runIDs)
	assert.Equal(t, 2, report.Summary.Successful, "hook errors do not alter results")
}

func TestPartition(t *testing.T) {
	got := service.Partition(contacts(5), 2)
	require.Len(t, got, 3)
	assert.Len(t, got[0], 2)
	assert.Len(t, got[1], 2)
	assert.Len(t, got[2], 1)
	assert.Equal(t, "c004", got[2][0].ID)

	assert.Empty(t, service.Partition(nil, 10))
	assert.Len(t, service.Partition(contacts(3), 0), 1)
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, service.SleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, service.SleepContext(ctx, time.Hour), context.Canceled)
}
