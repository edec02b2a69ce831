package harness

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/parleychat/parley/internal/backend"
	"github.com/parleychat/parley/internal/backend/memhub"
	"github.com/parleychat/parley/internal/backend/sqlite"
	"github.com/parleychat/parley/internal/chat"
	"github.com/parleychat/parley/internal/engine"
	"github.com/parleychat/parley/internal/profile"
	"github.com/parleychat/parley/internal/testutil"
)

// scenarioStart pins every scenario to the same wall clock origin so
// transcripts are reproducible.
var scenarioStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

const settleTimeout = 5 * time.Second

// Result is a completed scenario run: the step-by-step log and each
// viewer's final message projection.
type Result struct {
	StepLog     []string
	Transcripts map[string][]chat.Message
}

// Run executes a scenario over real sessions, an in-memory sqlite
// store, and the in-process hub.
func Run(scenario *Scenario) (*Result, error) {
	r, err := newRunner(scenario)
	if err != nil {
		return nil, err
	}
	defer r.close()
	return r.run()
}

type runner struct {
	scenario *Scenario
	clock    *testutil.Clock
	hub      *memhub.Hub
	store    *sqlite.Store
	flaky    *flakyStore
	sessions map[string]*engine.Session
	settles  map[string]chan error

	// labels maps a send label to the message text it produced; refs
	// resolve through the text in the acting viewer's projection.
	labels map[string]string

	log []string
}

func newRunner(scenario *Scenario) (*runner, error) {
	r := &runner{
		scenario: scenario,
		clock:    testutil.NewClock(scenarioStart),
		hub:      memhub.New(),
		sessions: make(map[string]*engine.Session, len(scenario.Viewers)),
		settles:  make(map[string]chan error, len(scenario.Viewers)),
		labels:   make(map[string]string),
	}

	store, err := sqlite.Open(":memory:",
		sqlite.WithPublisher(r.hub),
		sqlite.WithNow(r.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("open scenario store: %w", err)
	}
	r.store = store
	r.flaky = &flakyStore{inner: store}

	directory := rosterDirectory{viewers: scenario.Viewers}
	for _, viewer := range scenario.Viewers {
		settle := make(chan error, 16)
		r.settles[viewer] = settle
		r.sessions[viewer] = engine.NewSession(scenario.Conversation, engine.Deps{
			Durable:  r.flaky,
			Channel:  r.hub,
			Media:    passthroughMedia{},
			Resolver: profile.NewResolver(directory, chat.AuthorProfile{ID: viewer, DisplayName: title(viewer)}),
		},
			engine.WithClock(r.clock),
			engine.WithIDGenerator(&seqIDGenerator{prefix: "p-" + viewer}),
			engine.WithSendSettled(func(_ chat.MessageID, err error) { settle <- err }),
		)
	}
	return r, nil
}

func (r *runner) close() {
	for _, s := range r.sessions {
		s.Close()
	}
	r.store.Close()
}

func (r *runner) run() (*Result, error) {
	ctx := context.Background()
	for _, viewer := range r.scenario.Viewers {
		if err := r.sessions[viewer].Open(ctx); err != nil {
			return nil, fmt.Errorf("open session for %s: %w", viewer, err)
		}
	}

	for i, step := range r.scenario.Steps {
		if err := r.runStep(ctx, &step); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		r.drainAll(ctx)
	}

	result := &Result{
		StepLog:     r.log,
		Transcripts: make(map[string][]chat.Message, len(r.sessions)),
	}
	for _, viewer := range r.scenario.Viewers {
		result.Transcripts[viewer] = r.sessions[viewer].Messages()
	}
	return result, nil
}

func (r *runner) runStep(ctx context.Context, step *Step) error {
	switch {
	case step.Send != nil:
		return r.runSend(ctx, step.Send)
	case step.Retry != nil:
		return r.runRetry(ctx, step.Retry)
	case step.Hide != nil:
		return r.runHide(step.Hide)
	case step.Delete != nil:
		return r.runDelete(ctx, step.Delete)
	case step.Advance != nil:
		d, err := time.ParseDuration(step.Advance.Duration)
		if err != nil {
			return err
		}
		r.clock.Advance(d)
		r.logf("advance %s", step.Advance.Duration)
		return nil
	case step.Disconnect != nil:
		return r.runDisconnect(ctx)
	case step.FailNextSend != nil:
		r.flaky.failNext()
		r.logf("fail next send")
		return nil
	default:
		return fmt.Errorf("empty step")
	}
}

func (r *runner) runSend(ctx context.Context, step *SendStep) error {
	// Each send gets its own authored instant so ordering is stable.
	r.clock.Advance(time.Second)

	draft := chat.Draft{Text: step.Text}
	if step.ReplyTo != "" {
		id, err := r.resolveRef(step.Viewer, step.ReplyTo)
		if err != nil {
			return err
		}
		draft.ReplyToID = id
	}

	if _, err := r.sessions[step.Viewer].Send(ctx, draft); err != nil {
		return fmt.Errorf("send rejected: %w", err)
	}

	settleErr, err := r.awaitSettle(step.Viewer)
	if err != nil {
		return err
	}
	switch {
	case step.ExpectFailure && settleErr == nil:
		return fmt.Errorf("send %q settled cleanly, expected failure", step.Text)
	case !step.ExpectFailure && settleErr != nil:
		return fmt.Errorf("send %q failed: %w", step.Text, settleErr)
	case settleErr != nil:
		r.logf("send %s %q -> failed: %s", step.Viewer, step.Text, chat.CodeOf(settleErr))
	default:
		r.logf("send %s %q -> confirmed", step.Viewer, step.Text)
	}

	if step.Label != "" {
		r.labels[step.Label] = step.Text
	}
	return nil
}

func (r *runner) runRetry(ctx context.Context, step *RefStep) error {
	id, err := r.resolveRef(step.Viewer, step.Ref)
	if err != nil {
		return err
	}
	if _, err := r.sessions[step.Viewer].Retry(ctx, id); err != nil {
		if step.ExpectError != "" {
			return r.logExpectedError("retry", step, err)
		}
		return fmt.Errorf("retry rejected: %w", err)
	}

	settleErr, err := r.awaitSettle(step.Viewer)
	if err != nil {
		return err
	}
	if settleErr != nil {
		r.logf("retry %s #%s -> failed: %s", step.Viewer, step.Ref, chat.CodeOf(settleErr))
		return nil
	}
	r.logf("retry %s #%s -> confirmed", step.Viewer, step.Ref)
	return nil
}

func (r *runner) runHide(step *RefStep) error {
	id, err := r.resolveRef(step.Viewer, step.Ref)
	if err != nil {
		return err
	}
	if err := r.sessions[step.Viewer].Hide(id); err != nil {
		if step.ExpectError != "" {
			return r.logExpectedError("hide", step, err)
		}
		return fmt.Errorf("hide failed: %w", err)
	}
	if step.ExpectError != "" {
		return fmt.Errorf("hide #%s succeeded, expected %s", step.Ref, step.ExpectError)
	}
	r.logf("hide %s #%s -> ok", step.Viewer, step.Ref)
	return nil
}

func (r *runner) runDelete(ctx context.Context, step *RefStep) error {
	id, err := r.resolveRef(step.Viewer, step.Ref)
	if err != nil {
		return err
	}
	if err := r.sessions[step.Viewer].Delete(ctx, id); err != nil {
		if step.ExpectError != "" {
			return r.logExpectedError("delete", step, err)
		}
		return fmt.Errorf("delete failed: %w", err)
	}
	if step.ExpectError != "" {
		return fmt.Errorf("delete #%s succeeded, expected %s", step.Ref, step.ExpectError)
	}
	r.logf("delete %s #%s -> ok", step.Viewer, step.Ref)
	return nil
}

func (r *runner) runDisconnect(ctx context.Context) error {
	r.hub.Disconnect(r.scenario.Conversation, chat.NewError(chat.ErrCodeChannelDisconnected, "scenario disconnect"))

	// The disconnect signal crosses a goroutine; pump until every
	// session has resubscribed.
	deadline := time.Now().Add(settleTimeout)
	for r.hub.SubscriberCount(r.scenario.Conversation) < len(r.sessions) {
		if time.Now().After(deadline) {
			return fmt.Errorf("sessions did not resubscribe after disconnect")
		}
		r.drainAll(ctx)
		time.Sleep(time.Millisecond)
	}
	r.logf("disconnect -> all viewers resubscribed")
	return nil
}

func (r *runner) logExpectedError(op string, step *RefStep, err error) error {
	code := string(chat.CodeOf(err))
	if code != step.ExpectError {
		return fmt.Errorf("%s #%s failed with %s, expected %s: %w", op, step.Ref, code, step.ExpectError, err)
	}
	r.logf("%s %s #%s -> denied: %s", op, step.Viewer, step.Ref, code)
	return nil
}

// resolveRef finds the labeled message in the acting viewer's
// projection by its text.
func (r *runner) resolveRef(viewer, label string) (chat.MessageID, error) {
	text, ok := r.labels[label]
	if !ok {
		return chat.MessageID{}, fmt.Errorf("unknown label %q", label)
	}
	for _, m := range r.sessions[viewer].Messages() {
		if m.Text == text {
			return m.ID, nil
		}
	}
	return chat.MessageID{}, fmt.Errorf("label %q (%q) not in %s's view", label, text, viewer)
}

func (r *runner) awaitSettle(viewer string) (error, error) {
	select {
	case err := <-r.settles[viewer]:
		return err, nil
	case <-time.After(settleTimeout):
		return nil, fmt.Errorf("send by %s did not settle", viewer)
	}
}

func (r *runner) drainAll(ctx context.Context) {
	for _, viewer := range r.scenario.Viewers {
		r.sessions[viewer].Drain(ctx)
	}
}

func (r *runner) logf(format string, args ...any) {
	r.log = append(r.log, fmt.Sprintf(format, args...))
}

// seqIDGenerator issues provisional ids with a per-viewer prefix.
type seqIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

func (g *seqIDGenerator) NewProvisionalID() chat.MessageID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return chat.ProvisionalID(fmt.Sprintf("%s-%d", g.prefix, g.n))
}

// flakyStore wraps the durable store so one create can be scripted to
// fail.
type flakyStore struct {
	inner backend.DurableStore

	mu   sync.Mutex
	fail bool
}

func (f *flakyStore) failNext() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = true
}

func (f *flakyStore) Create(ctx context.Context, req backend.CreateRequest) (backend.CreateResult, error) {
	f.mu.Lock()
	fail := f.fail
	f.fail = false
	f.mu.Unlock()
	if fail {
		return backend.CreateResult{}, chat.NewError(chat.ErrCodeTransientNetwork, "scripted send failure")
	}
	return f.inner.Create(ctx, req)
}

func (f *flakyStore) Tombstone(ctx context.Context, conversationID, id, authorID string) error {
	return f.inner.Tombstone(ctx, conversationID, id, authorID)
}

func (f *flakyStore) History(ctx context.Context, conversationID string) ([]chat.Message, error) {
	return f.inner.History(ctx, conversationID)
}

// passthroughMedia maps local paths to synthetic URLs. Scenario sends
// are text-only today, but the coordinator requires an uploader.
type passthroughMedia struct{}

func (passthroughMedia) Upload(_ context.Context, localPath string) (string, error) {
	return "mem://media/" + localPath, nil
}

// rosterDirectory resolves any scenario viewer to a capitalized display
// name.
type rosterDirectory struct {
	viewers []string
}

func (d rosterDirectory) Lookup(_ context.Context, authorID string) (chat.AuthorProfile, error) {
	for _, v := range d.viewers {
		if v == authorID {
			return chat.AuthorProfile{ID: authorID, DisplayName: title(authorID)}, nil
		}
	}
	return chat.AuthorProfile{}, chat.NewError(chat.ErrCodeNotFound, "unknown participant")
}

func title(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
