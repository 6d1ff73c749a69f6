package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/audit"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/cil"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/extract"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/handlers"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/idem"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/lock"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/pending"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/resolver"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/storage"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/storage/sqldb"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/storage/sqldb/sqldbtest"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/types"
)

const sender = "+15550100"

var refNow = time.Date(2025, 3, 12, 9, 30, 0, 0, time.UTC)

type harness struct {
	engine *Engine
	store  *sqldb.Store
	locks  *lock.Manager
	seq    atomic.Int64
}

type options struct {
	extractor extract.Extractor
	pageSize  int
	lockWait  time.Duration
	// table, when set, may replace entries in the handler table.
	table func(map[cil.Type]cil.Handler)
}

func newHarness(t *testing.T, o options) *harness {
	t.Helper()
	store := sqldbtest.New(t)
	if o.extractor == nil {
		o.extractor = &extract.Rules{Now: func() time.Time { return refNow }}
	}
	if o.lockWait == 0 {
		o.lockWait = 5 * time.Second
	}
	locks := lock.New(store, lock.Options{Timeout: o.lockWait})
	res := resolver.New(store, nil)
	h := handlers.New(handlers.Deps{
		Reader:   store,
		Writer:   idem.New(store, audit.New(store, nil), idem.Options{Timeout: 5 * time.Second}),
		Resolver: res,
	})
	table := h.Table()
	if o.table != nil {
		o.table(table)
	}
	e := New(Deps{
		Locks:     locks,
		Pending:   pending.New(store, nil),
		Extractor: o.extractor,
		Router:    cil.NewRouter(table, nil),
		Resolver:  res,
		Users:     store,
		Jobs:      store,
		PageSize:  o.pageSize,
	})
	return &harness{engine: e, store: store, locks: locks}
}

// say sends text with a fresh message id.
func (h *harness) say(t *testing.T, text string) string {
	t.Helper()
	return h.sayID(t, fmt.Sprintf("SM%d", h.seq.Add(1)), text)
}

func (h *harness) sayID(t *testing.T, id, text string) string {
	t.Helper()
	r, err := h.engine.Handle(context.Background(), Message{From: sender, Text: text, ID: id})
	require.NoError(t, err)
	require.NotNil(t, r)
	return r.Text
}

func (h *harness) job(t *testing.T, owner, name string) *types.Job {
	t.Helper()
	j := &types.Job{OwnerID: owner, Name: name}
	require.NoError(t, h.store.CreateJob(context.Background(), j))
	return j
}

func (h *harness) state(t *testing.T) *pending.State {
	t.Helper()
	st, err := h.engine.pending.Get(context.Background(), sender)
	require.NoError(t, err)
	return st
}

func (h *harness) transactions(t *testing.T) []*types.Transaction {
	t.Helper()
	txs, err := h.store.ListTransactions(context.Background(), sender)
	require.NoError(t, err)
	return txs
}

func TestExpensePickConfirmScenario(t *testing.T) {
	h := newHarness(t, options{})
	oak := h.job(t, sender, "Oak St re-roof")
	h.job(t, sender, "Deck")

	reply := h.sayID(t, "SM1", "expense 84.12 nails from Home Depot")
	assert.Contains(t, reply, "Which job")
	assert.Contains(t, reply, "1) #2 Deck")
	assert.Contains(t, reply, "2) #1 Oak St re-roof")
	require.Equal(t, pending.KindAwaitingReference, h.state(t).Kind)

	reply = h.sayID(t, "SM2", "2")
	assert.Contains(t, reply, "Expense $84.12 for nails from Home Depot (job #1 Oak St re-roof) on 2025-03-12")
	assert.Contains(t, reply, "Reply yes")
	st := h.state(t)
	require.Equal(t, pending.KindAwaitingConfirmation, st.Kind)
	assert.Nil(t, st.Picker)
	assert.Equal(t, "SM1", st.Seed)

	reply = h.sayID(t, "SM3", "yes")
	assert.Equal(t, "Logged expense $84.12 for nails from Home Depot on #1 Oak St re-roof", reply)
	assert.Nil(t, h.state(t))

	txs := h.transactions(t)
	require.Len(t, txs, 1)
	assert.Equal(t, int64(8412), txs[0].AmountCents)
	assert.Equal(t, "nails", txs[0].Description)
	assert.Equal(t, "Home Depot", txs[0].Source)
	assert.Equal(t, oak.ID, txs[0].JobID)
	assert.Equal(t, "SM1", txs[0].SourceMsgID)

	rec, err := h.store.GetAudit(context.Background(), sender, "SM1")
	require.NoError(t, err)
	assert.Equal(t, "expense.logged", rec.Action)
}

func TestDuplicateDeliveryAlreadyLogged(t *testing.T) {
	h := newHarness(t, options{})
	h.job(t, sender, "Deck")

	reply := h.sayID(t, "SM9", "expense 20 screws from Lowes for Deck")
	assert.True(t, strings.HasPrefix(reply, "Logged expense $20.00"), reply)

	reply = h.sayID(t, "SM9", "expense 20 screws from Lowes for Deck")
	assert.True(t, strings.HasPrefix(reply, "Already logged."), reply)
	assert.Len(t, h.transactions(t), 1)
	assert.Nil(t, h.state(t))
}

func TestSeedRedeliveryRepromptsWithoutChangingState(t *testing.T) {
	h := newHarness(t, options{})
	h.job(t, sender, "Deck")

	first := h.sayID(t, "SM1", "expense 84.12 nails from Home Depot")
	before := h.state(t)

	again := h.sayID(t, "SM1", "expense 84.12 nails from Home Depot")
	assert.Equal(t, first, again)
	after := h.state(t)
	assert.Equal(t, before.Kind, after.Kind)
	assert.Equal(t, before.Seed, after.Seed)
	assert.Empty(t, h.transactions(t))
}

func TestCancelFromEveryState(t *testing.T) {
	states := map[string]*pending.State{
		"confirmation": {
			Kind: pending.KindAwaitingConfirmation, Seed: "SM0",
			Draft: pending.Draft{"type": "CreateLead", "name": "Jane"},
		},
		"reference": {
			Kind: pending.KindAwaitingReference, Seed: "SM0",
			Draft:  pending.Draft{"type": "LogExpense", "item": "nails"},
			Picker: &pending.Picker{Entity: types.EntityJob, Field: "job"},
		},
		"clarification": {
			Kind: pending.KindAwaitingClarification, Seed: "SM0",
			Draft: pending.Draft{"type": "LogExpense"}, Problem: "amount cents is required",
		},
	}
	for name, st := range states {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, options{})
			_, err := h.engine.pending.Set(context.Background(), sender, st)
			require.NoError(t, err)

			assert.Equal(t, replyCancelled, h.say(t, "Cancel"))
			assert.Nil(t, h.state(t))
		})
	}

	h := newHarness(t, options{})
	assert.Equal(t, replyNothingToCancel, h.say(t, "cancel"))
}

func TestConfirmationRepromptAndEdit(t *testing.T) {
	h := newHarness(t, options{})
	h.job(t, sender, "Deck")
	h.say(t, "expense 84.12 nails from Home Depot")
	h.say(t, "1")

	reply := h.say(t, "hmm, not sure")
	assert.Contains(t, reply, "Reply yes to save")
	assert.Equal(t, pending.KindAwaitingConfirmation, h.state(t).Kind)

	assert.Equal(t, replyEdit, h.say(t, "edit"))
	assert.Nil(t, h.state(t))
	assert.Empty(t, h.transactions(t))
}

func TestYesExecutesExactlyOnce(t *testing.T) {
	h := newHarness(t, options{})
	h.job(t, sender, "Deck")
	h.say(t, "expense 84.12 nails from Home Depot")
	h.say(t, "1")

	var logged atomic.Int32
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("YES%d", i)
		g.Go(func() error {
			r, err := h.engine.Handle(context.Background(), Message{From: sender, Text: "yes", ID: id})
			if err != nil {
				return err
			}
			if strings.HasPrefix(r.Text, "Logged expense") {
				logged.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), logged.Load())
	assert.Len(t, h.transactions(t), 1)
	assert.Nil(t, h.state(t))
}

func TestPickerPagingAndReferences(t *testing.T) {
	h := newHarness(t, options{pageSize: 2})
	h.job(t, sender, "Oak St re-roof")
	h.job(t, sender, "Deck")
	h.job(t, sender, "Garage")

	reply := h.say(t, "expense 84.12 nails from Home Depot")
	assert.Contains(t, reply, "1) #3 Garage")
	assert.Contains(t, reply, "2) #2 Deck")

	reply = h.say(t, "more")
	assert.Contains(t, reply, "1) #1 Oak St re-roof")
	assert.Equal(t, 1, h.state(t).Picker.Page)

	// Past the last page the list starts over.
	reply = h.say(t, "more")
	assert.Contains(t, reply, "1) #3 Garage")

	reply = h.say(t, "Nowhere")
	assert.Contains(t, reply, `No job matches "Nowhere"`)
	assert.Equal(t, pending.KindAwaitingReference, h.state(t).Kind)

	// "#n" is a job number even when n is also a valid option.
	reply = h.say(t, "#1")
	assert.Contains(t, reply, "(job #1 Oak St re-roof)")

	st := h.state(t)
	assert.Equal(t, pending.KindAwaitingConfirmation, st.Kind)
	assert.NotEmpty(t, st.Draft.String("job_id"))
}

func TestUnresolvedJobOpensPicker(t *testing.T) {
	h := newHarness(t, options{})
	h.job(t, sender, "Deck")

	reply := h.say(t, "expense 12 nails for Patio")
	assert.Contains(t, reply, `No job matches "Patio"`)
	assert.Contains(t, reply, "1) #1 Deck")
	assert.Equal(t, pending.KindAwaitingReference, h.state(t).Kind)
}

func TestUnrecognizedStaysFresh(t *testing.T) {
	h := newHarness(t, options{})

	reply := h.say(t, "how's the weather")
	assert.Contains(t, reply, replyUnrecognized)
	assert.Contains(t, reply, "I can log these")
	assert.Nil(t, h.state(t))
}

type scripted struct {
	replies map[string]*extract.Candidate
	hints   []cil.Type
}

func (s *scripted) Extract(_ context.Context, text string, hint cil.Type) (*extract.Candidate, error) {
	s.hints = append(s.hints, hint)
	return s.replies[text], nil
}

func TestClarificationReplacesDraftAndKeepsMedia(t *testing.T) {
	x := &scripted{replies: map[string]*extract.Candidate{
		"nails for deck": {Type: cil.LogExpense, Fields: map[string]any{"item": "nails", "job": "Deck", "date": "2025-03-12"}},
		"12 nails for deck": {Type: cil.LogExpense, Fields: map[string]any{
			"item": "nails", "job": "Deck", "date": "2025-03-12", "amount_cents": int64(1200),
		}},
	}}
	h := newHarness(t, options{extractor: x})
	h.job(t, sender, "Deck")

	receipt := types.Media{URL: "https://media.example/r1.jpg", ContentType: "image/jpeg"}
	r, err := h.engine.Handle(context.Background(), Message{From: sender, Text: "nails for deck", ID: "SM1", Media: []types.Media{receipt}})
	require.NoError(t, err)
	assert.Contains(t, r.Text, "I need a bit more: amount cents is required")
	assert.Contains(t, r.Text, "For example:")
	st := h.state(t)
	require.Equal(t, pending.KindAwaitingClarification, st.Kind)

	// Unrecognized input re-asks.
	reply := h.say(t, "what?")
	assert.Contains(t, reply, "I need a bit more")

	reply = h.say(t, "12 nails for deck")
	assert.True(t, strings.HasPrefix(reply, "Logged expense $12.00"), reply)
	assert.Equal(t, []cil.Type{"", cil.LogExpense, cil.LogExpense}, x.hints)

	txs := h.transactions(t)
	require.Len(t, txs, 1)
	assert.Equal(t, receipt.URL, txs[0].MediaURL)
	assert.Nil(t, h.state(t))
}

func TestKnownUserActsForTenant(t *testing.T) {
	ctx := context.Background()
	x := &scripted{replies: map[string]*extract.Candidate{
		"2h on deck": {Type: cil.LogTime, Fields: map[string]any{"minutes": 120, "job": "Deck", "date": "2025-03-12"}},
	}}
	h := newHarness(t, options{extractor: x})
	require.NoError(t, h.store.PutUser(ctx, &types.User{Identity: sender, OwnerID: "acme", UserName: "Sam"}))
	h.job(t, "acme", "Deck")

	reply := h.say(t, "2h on deck")
	assert.Equal(t, "Logged 2h for Sam on #1 Deck", reply)

	var owner, employee string
	require.NoError(t, h.store.DB().QueryRow(`SELECT owner_id, employee FROM time_entries`).Scan(&owner, &employee))
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "Sam", employee)
}

func TestDomainFailuresResetToFresh(t *testing.T) {
	h := newHarness(t, options{})
	h.job(t, sender, "Smith Deck")

	reply := h.say(t, "invoice 6000 for Nope")
	assert.True(t, strings.HasPrefix(reply, replyNotFound), reply)
	assert.Nil(t, h.state(t))

	h.say(t, "quote 12000 Deck build for Smith Deck")
	reply = h.say(t, "invoice 6000 for Deck build")
	assert.Equal(t, `Can't do that: quote "Deck build" not yet accepted`, reply)
	assert.Nil(t, h.state(t))
}

func TestBusyIdentityGetsTryAgain(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{lockWait: 100 * time.Millisecond})

	tok, err := h.locks.Acquire(ctx, "conversation:"+sender)
	require.NoError(t, err)
	defer h.locks.Release(ctx, "conversation:"+sender, tok)

	assert.Equal(t, replyBusy, h.say(t, "expense 1 nails"))
}

func TestHandleRejectsAnonymousMessages(t *testing.T) {
	h := newHarness(t, options{})
	_, err := h.engine.Handle(context.Background(), Message{From: sender, Text: "hi"})
	assert.Error(t, err)
	_, err = h.engine.Handle(context.Background(), Message{Text: "hi", ID: "SM1"})
	assert.Error(t, err)
}

// failOnce makes the first LogExpense dispatch return err; later dispatches
// reach the real handler.
func failOnce(err error) func(map[cil.Type]cil.Handler) {
	return func(table map[cil.Type]cil.Handler) {
		next := table[cil.LogExpense]
		var failed atomic.Bool
		table[cil.LogExpense] = func(ctx context.Context, cmd cil.Command, c cil.Context) (*cil.Result, error) {
			if failed.CompareAndSwap(false, true) {
				return nil, err
			}
			return next(ctx, cmd, c)
		}
	}
}

func TestExecuteFailureReplies(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		reply string
		kept  bool
	}{
		{name: "timeout", err: storage.ErrTimeout, reply: replyRetry, kept: true},
		{name: "unavailable", err: fmt.Errorf("dial tcp: %w", storage.ErrUnavailable), reply: replyRetry, kept: true},
		{name: "generic", err: errors.New("boom"), reply: replyFailed, kept: true},
		{name: "not found", err: fmt.Errorf("job #9: %w", storage.ErrNotFound), reply: replyNotFound + " job #9"},
		{name: "conflict", err: fmt.Errorf("job #1 is closed: %w", storage.ErrConflict), reply: replyDenied + " job #1 is closed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, options{table: failOnce(tt.err)})
			h.job(t, sender, "Deck")
			const text = "expense 20 screws from Lowes for Deck"

			assert.Equal(t, tt.reply, h.sayID(t, "SM1", text))
			assert.Empty(t, h.transactions(t))

			st := h.state(t)
			if !tt.kept {
				assert.Nil(t, st)
				return
			}
			require.NotNil(t, st)
			assert.Equal(t, pending.KindAwaitingConfirmation, st.Kind)
			assert.Equal(t, "SM1", st.Seed)

			reply := h.sayID(t, "SM2", "yes")
			assert.True(t, strings.HasPrefix(reply, "Logged expense $20.00"), reply)
			assert.Nil(t, h.state(t))

			reply = h.sayID(t, "SM1", text)
			assert.True(t, strings.HasPrefix(reply, replyAlreadyLogged), reply)

			txs := h.transactions(t)
			require.Len(t, txs, 1)
			assert.Equal(t, "SM1", txs[0].SourceMsgID)
		})
	}
}

func TestGenericFailureKeepsExistingState(t *testing.T) {
	h := newHarness(t, options{table: failOnce(errors.New("boom"))})
	h.job(t, sender, "Deck")
	h.job(t, sender, "Garage")

	h.sayID(t, "SM1", "expense 84.12 nails from Home Depot")
	h.sayID(t, "SM2", "1")
	before := h.state(t)
	require.Equal(t, pending.KindAwaitingConfirmation, before.Kind)

	assert.Equal(t, replyFailed, h.sayID(t, "SM3", "yes"))
	after := h.state(t)
	require.NotNil(t, after)
	assert.Equal(t, before.Seed, after.Seed)
	assert.Equal(t, before.Draft, after.Draft)

	reply := h.sayID(t, "SM4", "yes")
	assert.True(t, strings.HasPrefix(reply, "Logged expense $84.12"), reply)
	assert.Len(t, h.transactions(t), 1)
}
