// Package configflow links a Procare account to a kid in two steps:
// credentials first, then the kid to follow.
package configflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/trymwestin/procare/internal/core/activity"
	"github.com/trymwestin/procare/internal/core/auth"
	"github.com/trymwestin/procare/internal/core/procare"
	"github.com/trymwestin/procare/internal/entries"
)

// Step ids.
const (
	StepIDUser      = "user"
	StepIDSelectKid = "select_kid"
)

// Form error codes.
const (
	ErrorInvalidAuth     = "invalid_auth"
	ErrorNoChildrenFound = "no_children_found"
	ErrorUnknown         = "unknown"
	ErrorInvalidKid      = "invalid_kid"
)

// AbortAlreadyConfigured is the abort reason for a kid that is already linked.
const AbortAlreadyConfigured = "already_configured"

// ResultType is the outcome of a step.
type ResultType string

const (
	ResultForm        ResultType = "form"
	ResultCreateEntry ResultType = "create_entry"
	ResultAbort       ResultType = "abort"
)

// Result is what a step hands back to the caller.
type Result struct {
	FlowID string            `json:"flow_id"`
	Type   ResultType        `json:"type"`
	StepID string            `json:"step_id,omitempty"`
	Errors map[string]string `json:"errors,omitempty"`
	Kids   []activity.Kid    `json:"kids,omitempty"`
	Entry  *entries.Entry    `json:"entry,omitempty"`
	Reason string            `json:"reason,omitempty"`
}

// Linker is the part of the API client the flow needs.
type Linker interface {
	Login(ctx context.Context) error
	Kids(ctx context.Context) ([]activity.Kid, error)
	Close() error
}

// Connector opens a client for the given credentials.
type Connector func(creds auth.Credentials) (Linker, error)

// ProcareConnector opens real API clients with opts.
func ProcareConnector(opts procare.Options, log *slog.Logger) Connector {
	return func(creds auth.Credentials) (Linker, error) {
		c, err := procare.Open(opts, creds, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Flow is one linking attempt.
type Flow struct {
	id      string
	connect Connector
	store   *entries.Store
	log     *slog.Logger

	mu    sync.Mutex
	creds auth.Credentials
	kids  []activity.Kid
	done  bool
}

// New starts a flow.
func New(connect Connector, store *entries.Store, log *slog.Logger) *Flow {
	id := uuid.NewString()
	return &Flow{
		id:      id,
		connect: connect,
		store:   store,
		log:     log.With("flow_id", id),
	}
}

// ID identifies the flow.
func (f *Flow) ID() string {
	return f.id
}

// Done reports whether the flow has finished.
func (f *Flow) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// Start shows the credentials form.
func (f *Flow) Start() Result {
	return f.form(StepIDUser, nil)
}

// StepUser checks the credentials and loads the roster. On success the
// select_kid form is returned.
func (f *Flow) StepUser(ctx context.Context, username, password string) Result {
	creds := auth.Credentials{Username: username, Password: password}
	kids, err := f.roster(ctx, creds)
	if err != nil {
		code := ErrorUnknown
		switch {
		case errors.Is(err, auth.ErrAuth):
			code = ErrorInvalidAuth
		case errors.Is(err, procare.ErrNoChildren):
			code = ErrorNoChildrenFound
		default:
			f.log.Error("unexpected error linking account", "error", err)
		}
		return f.form(StepIDUser, map[string]string{"base": code})
	}

	f.mu.Lock()
	f.creds = creds
	f.kids = kids
	f.mu.Unlock()

	res := f.form(StepIDSelectKid, nil)
	res.Kids = kids
	return res
}

func (f *Flow) roster(ctx context.Context, creds auth.Credentials) ([]activity.Kid, error) {
	client, err := f.connect(creds)
	if err != nil {
		return nil, err
	}
	defer client.Close() //nolint:errcheck // one-shot session

	if err := client.Login(ctx); err != nil {
		return nil, err
	}
	return client.Kids(ctx)
}

// StepSelectKid creates the entry for the chosen kid. The error is
// non-nil only when the entry store fails.
func (f *Flow) StepSelectKid(_ context.Context, kidID string) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var (
		kid   activity.Kid
		found bool
	)
	for _, k := range f.kids {
		if k.ID == kidID {
			kid, found = k, true
			break
		}
	}
	if !found {
		res := Result{FlowID: f.id, Type: ResultForm, StepID: StepIDSelectKid, Errors: map[string]string{"kid": ErrorInvalidKid}, Kids: f.kids}
		return res, nil
	}

	entry := entries.NewEntry(entries.Data{
		Username: f.creds.Username,
		Password: f.creds.Password,
		KidID:    kid.ID,
		KidName:  kid.Name,
	})
	if err := f.store.Add(entry); err != nil {
		if errors.Is(err, entries.ErrAlreadyConfigured) {
			f.done = true
			return Result{FlowID: f.id, Type: ResultAbort, Reason: AbortAlreadyConfigured}, nil
		}
		return Result{}, fmt.Errorf("configflow: create entry: %w", err)
	}

	f.done = true
	f.log.Info("account linked", "entry_id", entry.ID, "kid_id", kid.ID)
	return Result{FlowID: f.id, Type: ResultCreateEntry, Entry: &entry}, nil
}

func (f *Flow) form(step string, errs map[string]string) Result {
	return Result{FlowID: f.id, Type: ResultForm, StepID: step, Errors: errs}
}

// Registry tracks flows in progress, keyed by id.
type Registry struct {
	mu    sync.Mutex
	flows map[string]*Flow
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{flows: make(map[string]*Flow)}
}

// Add registers f.
func (r *Registry) Add(f *Flow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows[f.id] = f
}

// Get returns the flow with the given id.
func (r *Registry) Get(id string) (*Flow, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.flows[id]
	return f, ok
}

// Remove forgets the flow.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flows, id)
}
