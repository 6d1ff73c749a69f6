// Package conversation runs the per-identity state machine that turns a
// stream of free-text messages into confirmed, idempotent commands.
//
// Every message is handled under the identity's lock. The pending state read
// at the start of a turn decides how the text is interpreted: as a new
// command, as an answer to a job picker, or as a reply to a confirmation.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/cil"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/extract"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/lock"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/pending"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/resolver"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/storage"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/telemetry"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/types"
)

// Message is one inbound transport message.
type Message struct {
	From  string
	Text  string
	Media []types.Media
	// ID is the transport's message id; it seeds the command's idempotency
	// key.
	ID string
}

// Reply is the text sent back. A nil *Reply means no reply.
type Reply struct {
	Text string
}

// Directory maps identities to tenants.
type Directory interface {
	LookupUser(ctx context.Context, identity string) (*types.User, error)
}

// JobLister pages through a tenant's open jobs for the picker.
type JobLister interface {
	ListOpenJobs(ctx context.Context, ownerID string, offset, limit int) ([]*types.Job, error)
}

// Deps wires an Engine.
type Deps struct {
	Locks     *lock.Manager
	Pending   *pending.Store
	Extractor extract.Extractor
	Router    *cil.Router
	Resolver  *resolver.Resolver
	Users     Directory
	Jobs      JobLister
	// PageSize is the number of picker options shown at once.
	PageSize int
	Logger   *zap.Logger
}

// Engine handles messages. It is safe for concurrent use; messages from the
// same identity are serialized by the lock manager.
type Engine struct {
	locks     *lock.Manager
	pending   *pending.Store
	extractor extract.Extractor
	router    *cil.Router
	resolver  *resolver.Resolver
	users     Directory
	jobs      JobLister
	pageSize  int
	log       *zap.Logger

	tel      *telemetry.Instruments
	messages metric.Int64Counter
}

// New creates an Engine.
func New(d Deps) *Engine {
	if d.PageSize <= 0 {
		d.PageSize = 8
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Engine{
		locks:     d.Locks,
		pending:   d.Pending,
		extractor: d.Extractor,
		router:    d.Router,
		resolver:  d.Resolver,
		users:     d.Users,
		jobs:      d.Jobs,
		pageSize:  d.PageSize,
		log:       d.Logger,
		tel:       telemetry.NewInstruments("conversation"),
		messages:  telemetry.Counter("conversation", "chief.messages", "Inbound messages by outcome"),
	}
}

// turn is the per-message context threaded through the state handlers.
type turn struct {
	identity string
	tenant   string
	userName string
	msg      Message
	text     string
}

// Handle processes one message and returns the reply. Errors are reserved
// for failures the user cannot act on; everything else becomes a reply.
func (e *Engine) Handle(ctx context.Context, msg Message) (reply *Reply, err error) {
	identity := NormalizeIdentity(msg.From)
	if identity == "" {
		return nil, fmt.Errorf("message has no sender")
	}
	if msg.ID == "" {
		return nil, fmt.Errorf("message from %s has no id", identity)
	}

	ctx, span, start := e.tel.Start(ctx, "conversation.handle")
	outcome := "ok"
	defer func() {
		if err != nil {
			outcome = "error"
		}
		e.tel.End(ctx, span, start, err, attribute.String("chief.outcome", outcome))
		e.tel.Count(ctx, e.messages, attribute.String("outcome", outcome))
	}()

	err = e.locks.With(ctx, "conversation:"+identity, func(ctx context.Context) error {
		var herr error
		reply, herr = e.handleLocked(ctx, identity, msg)
		return herr
	})
	if errors.Is(err, storage.ErrBusy) {
		outcome = "busy"
		e.log.Info("identity busy", zap.String("identity", identity), zap.String("message_id", msg.ID))
		return &Reply{Text: replyBusy}, nil
	}
	if err != nil {
		e.log.Error("message failed", zap.String("identity", identity), zap.String("message_id", msg.ID), zap.Error(err))
		return nil, err
	}
	return reply, nil
}

func (e *Engine) handleLocked(ctx context.Context, identity string, msg Message) (*Reply, error) {
	t := &turn{identity: identity, tenant: identity, msg: msg, text: strings.TrimSpace(msg.Text)}
	u, err := e.users.LookupUser(ctx, identity)
	switch {
	case err == nil:
		t.tenant, t.userName = u.OwnerID, u.UserName
	case errors.Is(err, storage.ErrNotFound):
		// Unknown senders act as their own tenant.
	default:
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	st, err := e.pending.Get(ctx, identity)
	if err != nil {
		return nil, err
	}

	if isWord(t.text, "cancel", "stop", "nevermind") {
		if st == nil {
			return &Reply{Text: replyNothingToCancel}, nil
		}
		if err := e.pending.Delete(ctx, identity); err != nil {
			return nil, err
		}
		e.log.Info("pending command cancelled", zap.String("identity", identity), zap.String("state", string(st.Kind)))
		return &Reply{Text: replyCancelled}, nil
	}

	if st == nil {
		return e.fresh(ctx, t, "", nil)
	}

	// A redelivery of the message that opened this state only re-asks.
	if st.Seed == msg.ID {
		e.log.Debug("seed message redelivered", zap.String("identity", identity), zap.String("message_id", msg.ID))
		return e.prompt(st), nil
	}

	switch st.Kind {
	case pending.KindAwaitingConfirmation:
		return e.confirm(ctx, t, st)
	case pending.KindAwaitingReference:
		return e.pick(ctx, t, st)
	case pending.KindAwaitingClarification:
		return e.fresh(ctx, t, cil.Type(st.Draft.String("type")), st)
	default:
		return nil, fmt.Errorf("pending state for %s has unknown kind %q", identity, st.Kind)
	}
}

// fresh interprets the text as a new command. prev is the clarification
// state being replaced, if any; its media carries over.
func (e *Engine) fresh(ctx context.Context, t *turn, hint cil.Type, prev *pending.State) (*Reply, error) {
	if t.text == "" || isWord(t.text, "help", "?") {
		if prev != nil {
			return e.prompt(prev), nil
		}
		return &Reply{Text: cil.Help()}, nil
	}

	cand, err := e.extractor.Extract(ctx, t.text, hint)
	if err != nil {
		e.log.Warn("extraction failed", zap.String("identity", t.identity), zap.Error(err))
		return &Reply{Text: replyExtractFailed}, nil
	}
	if cand == nil {
		if prev != nil {
			return e.prompt(prev), nil
		}
		return &Reply{Text: replyUnrecognized + "\n" + cil.Help()}, nil
	}

	draft := pending.Draft{}
	for k, v := range cand.Fields {
		draft[k] = v
	}
	draft["type"] = string(cand.Type)
	draft["tenant_id"] = t.tenant
	draft["source_msg_id"] = t.msg.ID
	draft["actor_phone"] = t.identity
	if cand.Type == cil.LogTime && draft.String("employee") == "" && t.userName != "" {
		draft["employee"] = t.userName
	}

	media := t.msg.Media
	if prev != nil && len(media) == 0 {
		media = prev.Media
	}
	return e.advance(ctx, t, draft, t.msg.ID, media)
}

// advance validates a new draft and either executes it or opens the state
// that collects what is missing.
func (e *Engine) advance(ctx context.Context, t *turn, draft pending.Draft, seed string, media []types.Media) (*Reply, error) {
	typ := cil.Type(draft.String("type"))
	schema, _ := cil.Lookup(typ)

	_, err := validateDraft(draft)
	if ve, ok := cil.AsValidation(err); ok {
		if schema != nil && schema.JobRef && ve.OnlyMissing("job") {
			return e.askReference(ctx, t, draft, seed, media, "")
		}
		return e.clarify(ctx, t, draft, seed, media, ve)
	}
	if err != nil {
		return nil, err
	}

	if schema.JobRef && !schema.CreatesJob && draft.String("job_id") == "" {
		ref := draft.String("job")
		job, err := e.resolver.Resolve(ctx, t.tenant, types.EntityJob, ref, resolver.Options{})
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return e.askReference(ctx, t, draft, seed, media, fmt.Sprintf(replyNoSuchJob, ref))
		case err != nil:
			return nil, err
		}
		draft["job"] = job.Label()
		draft["job_id"] = job.ID
	}
	return e.execute(ctx, t, nil, draft, media)
}

func (e *Engine) clarify(ctx context.Context, t *turn, draft pending.Draft, seed string, media []types.Media, ve *cil.ValidationError) (*Reply, error) {
	st := &pending.State{
		Kind:    pending.KindAwaitingClarification,
		Draft:   draft,
		Seed:    seed,
		Media:   media,
		Problem: problemText(ve),
		Example: ve.Example,
	}
	st, err := e.pending.Set(ctx, t.identity, st)
	if err != nil {
		return nil, err
	}
	e.log.Info("awaiting clarification", zap.String("identity", t.identity),
		zap.String("cil_type", draft.String("type")), zap.String("problem", st.Problem))
	return e.prompt(st), nil
}

// askReference opens (or refreshes) a job picker for the draft.
func (e *Engine) askReference(ctx context.Context, t *turn, draft pending.Draft, seed string, media []types.Media, note string) (*Reply, error) {
	picker, err := e.jobPage(ctx, t.tenant, 0)
	if err != nil {
		return nil, err
	}
	delete(draft, "job_id")
	st, err := e.pending.Set(ctx, t.identity, &pending.State{
		Kind:   pending.KindAwaitingReference,
		Draft:  draft,
		Seed:   seed,
		Picker: picker,
		Media:  media,
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("awaiting job reference", zap.String("identity", t.identity), zap.String("cil_type", draft.String("type")))
	r := e.prompt(st)
	if note != "" {
		r.Text = note + "\n" + r.Text
	}
	return r, nil
}

func (e *Engine) jobPage(ctx context.Context, tenant string, page int) (*pending.Picker, error) {
	jobs, err := e.jobs.ListOpenJobs(ctx, tenant, page*e.pageSize, e.pageSize)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	p := &pending.Picker{Entity: types.EntityJob, Field: "job", Page: page}
	for _, j := range jobs {
		p.Options = append(p.Options, pending.Option{ID: j.ID, Label: j.Entity().Label()})
	}
	return p, nil
}

// confirm handles a reply to "save this?".
func (e *Engine) confirm(ctx context.Context, t *turn, st *pending.State) (*Reply, error) {
	switch {
	case isWord(t.text, "yes", "y", "ok", "confirm", "save"):
		return e.execute(ctx, t, st, st.Draft, st.Media)
	case isWord(t.text, "edit", "change"):
		if err := e.pending.Delete(ctx, t.identity); err != nil {
			return nil, err
		}
		return &Reply{Text: replyEdit}, nil
	default:
		return e.prompt(st), nil
	}
}

// pick handles an answer to the job picker: an option number, "more", or
// any reference the resolver understands.
func (e *Engine) pick(ctx context.Context, t *turn, st *pending.State) (*Reply, error) {
	p := st.Picker

	if isWord(t.text, "more", "next") {
		next, err := e.jobPage(ctx, t.tenant, p.Page+1)
		if err != nil {
			return nil, err
		}
		if len(next.Options) == 0 {
			next, err = e.jobPage(ctx, t.tenant, 0)
			if err != nil {
				return nil, err
			}
		}
		st, err = e.pending.Set(ctx, t.identity, &pending.State{Kind: st.Kind, Picker: next}, pending.Merge())
		if err != nil {
			return nil, err
		}
		return e.prompt(st), nil
	}

	var chosen *types.Entity
	if i, ok := optionIndex(t.text, len(p.Options)); ok {
		o := p.Options[i]
		chosen = &types.Entity{Kind: p.Entity, ID: o.ID, Name: o.Label}
	} else {
		ent, err := e.resolver.Resolve(ctx, t.tenant, p.Entity, t.text, resolver.Options{})
		switch {
		case errors.Is(err, storage.ErrNotFound):
			r := e.prompt(st)
			r.Text = fmt.Sprintf(replyNoSuchJob, t.text) + "\n" + r.Text
			return r, nil
		case err != nil:
			return nil, err
		}
		chosen = ent
	}

	draft := pending.Draft{}
	for k, v := range st.Draft {
		draft[k] = v
	}
	draft[p.Field] = chosen.Label()
	draft[p.Field+"_id"] = chosen.ID

	next, err := e.pending.Set(ctx, t.identity,
		&pending.State{Kind: pending.KindAwaitingConfirmation, Draft: draft},
		pending.Merge(), pending.Unset("picker"))
	if err != nil {
		return nil, err
	}
	e.log.Info("reference chosen", zap.String("identity", t.identity),
		zap.String("entity", string(p.Entity)), zap.String("id", chosen.ID))
	return e.prompt(next), nil
}

// execute dispatches a validated draft. st is the state being resolved, or
// nil when executing straight from a fresh message.
func (e *Engine) execute(ctx context.Context, t *turn, st *pending.State, draft pending.Draft, media []types.Media) (*Reply, error) {
	cmd, err := validateDraft(draft)
	if ve, ok := cil.AsValidation(err); ok {
		// A stored draft that no longer validates is replaced, never executed.
		return e.clarify(ctx, t, draft, t.msg.ID, media, ve)
	}
	if err != nil {
		return nil, err
	}

	res, err := e.router.Dispatch(ctx, cmd, cil.Context{
		Actor:    t.identity,
		UserName: t.userName,
		Media:    media,
	})
	log := e.log.With(zap.String("identity", t.identity), zap.String("tenant", t.tenant),
		zap.String("cil_type", string(cmd.Envelope().Type)), zap.String("idempotency_key", cmd.Envelope().IdempotencyKey))

	switch {
	case err == nil:
		if derr := e.pending.Delete(ctx, t.identity); derr != nil {
			log.Warn("delete pending state after write", zap.Error(derr))
		}
		if !res.Inserted {
			log.Info("duplicate command")
			return &Reply{Text: replyAlreadyLogged + " " + res.Summary}, nil
		}
		log.Info("command executed", zap.String("action", res.Action))
		return &Reply{Text: res.Summary}, nil

	case errors.Is(err, storage.ErrTimeout), errors.Is(err, storage.ErrUnavailable):
		// Outcome unknown: keep a confirmation so "yes" retries with the same key.
		log.Warn("write outcome unknown", zap.Error(err))
		if _, serr := e.pending.Set(ctx, t.identity, &pending.State{
			Kind:  pending.KindAwaitingConfirmation,
			Draft: draft,
			Seed:  seedOf(st, t),
			Media: media,
		}); serr != nil {
			return nil, errors.Join(err, serr)
		}
		return &Reply{Text: replyRetry}, nil

	case errors.Is(err, storage.ErrNotFound):
		log.Info("command target not found", zap.Error(err))
		if derr := e.pending.Delete(ctx, t.identity); derr != nil {
			return nil, derr
		}
		return &Reply{Text: replyNotFound + " " + userError(err)}, nil

	case errors.Is(err, storage.ErrConflict):
		log.Info("command refused", zap.Error(err))
		if derr := e.pending.Delete(ctx, t.identity); derr != nil {
			return nil, derr
		}
		return &Reply{Text: replyDenied + " " + userError(err)}, nil

	default:
		// The handler's transaction rolled back. An existing state is left as
		// it was; a fresh command gets a confirmation so "yes" can retry it.
		log.Error("command failed", zap.Error(err))
		if st == nil {
			if _, serr := e.pending.Set(ctx, t.identity, &pending.State{
				Kind:  pending.KindAwaitingConfirmation,
				Draft: draft,
				Seed:  seedOf(st, t),
				Media: media,
			}); serr != nil {
				return nil, errors.Join(err, serr)
			}
		}
		return &Reply{Text: replyFailed}, nil
	}
}

func seedOf(st *pending.State, t *turn) string {
	if st != nil && st.Seed != "" {
		return st.Seed
	}
	return t.msg.ID
}

// prompt renders the question a state is waiting on.
func (e *Engine) prompt(st *pending.State) *Reply {
	switch st.Kind {
	case pending.KindAwaitingConfirmation:
		cmd, err := validateDraft(st.Draft)
		if err != nil {
			return &Reply{Text: replyConfirmGeneric}
		}
		return &Reply{Text: fmt.Sprintf(replyConfirm, cil.Describe(cmd))}
	case pending.KindAwaitingReference:
		return &Reply{Text: pickerText(st.Picker)}
	case pending.KindAwaitingClarification:
		s := fmt.Sprintf(replyClarify, st.Problem)
		if st.Example != "" {
			s += "\n" + fmt.Sprintf(replyExample, st.Example)
		}
		return &Reply{Text: s}
	default:
		return &Reply{Text: cil.Help()}
	}
}

// validateDraft runs the stored draft through CIL validation.
func validateDraft(d pending.Draft) (cil.Command, error) {
	raw, err := marshalDraft(d)
	if err != nil {
		return nil, err
	}
	return cil.Validate(raw)
}
