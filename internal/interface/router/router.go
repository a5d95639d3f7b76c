// Package router implements the deterministic half of the capability router:
// a registry of named capabilities grouped by agent, dispatch by name, bounded
// parallel fan-out, and rendering of envelopes as text.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/mahan-lms/lms-assistant/config"
	"github.com/mahan-lms/lms-assistant/internal/application/command"
	"github.com/mahan-lms/lms-assistant/internal/application/operation"
	"github.com/mahan-lms/lms-assistant/internal/application/query"
	"github.com/mahan-lms/lms-assistant/pkg/logger"
	"github.com/mahan-lms/lms-assistant/pkg/result"
)

// Agent groups.
const (
	AgentCourses   = "courses"
	AgentLessons   = "lessons"
	AgentGrades    = "grades"
	AgentHomeworks = "homeworks"
	AgentStudents  = "students"
	AgentAuth      = "auth"
	AgentActions   = "actions"
)

// Handler executes a capability.
type Handler func(ctx context.Context, args operation.Args) result.Envelope

// Capability is a named, invocable unit of work.
type Capability struct {
	Name        string
	Agent       string
	Description string
	Required    []string
	Optional    []string
	Mutating    bool

	handler Handler
}

// Runner executes operation specs.
type Runner interface {
	Run(ctx context.Context, spec operation.Spec, args operation.Args) result.Envelope
}

// Authenticator issues LMS tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, identifier, secret string) result.Envelope
}

// Gate decides whether a capability group is open to a caller.
type Gate interface {
	AgentEnabled(group string, ctx *config.FeatureContext) bool
}

// Config contains configuration for the router.
type Config struct {
	Runner Runner
	// Auth backs the "authenticate" capability. Nil leaves it unregistered.
	Auth Authenticator
	// Flags gates agents. Nil enables everything.
	Flags Gate
	// MaxParallel bounds DispatchAll. Default: 4.
	MaxParallel int
	Logger      *slog.Logger
}

// Router dispatches capability calls.
type Router struct {
	mu          sync.RWMutex
	caps        map[string]Capability
	flags       Gate
	maxParallel int
	logger      *slog.Logger
}

// New creates a router with every query and command operation registered.
func New(cfg Config) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}

	r := &Router{
		caps:        make(map[string]Capability),
		flags:       cfg.Flags,
		maxParallel: cfg.MaxParallel,
		logger:      cfg.Logger.With(logger.Component("router")),
	}

	if cfg.Runner != nil {
		for _, spec := range query.Specs() {
			r.RegisterSpec(cfg.Runner, spec)
		}
		for _, spec := range command.Specs() {
			r.RegisterSpec(cfg.Runner, spec)
		}
	}
	if cfg.Auth != nil {
		r.Register(authenticateCapability(cfg.Auth))
	}

	return r
}

// Register adds or replaces a capability.
func (r *Router) Register(c Capability, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c.handler = h
	r.caps[c.Name] = c
}

// RegisterSpec registers an operation spec executed by runner.
func (r *Router) RegisterSpec(runner Runner, spec operation.Spec) {
	required, optional := spec.ParamNames()
	r.Register(Capability{
		Name:        spec.Name,
		Agent:       agentOf(spec),
		Description: spec.Description,
		Required:    required,
		Optional:    optional,
		Mutating:    spec.Mutating,
	}, func(ctx context.Context, args operation.Args) result.Envelope {
		return runner.Run(ctx, spec, args)
	})
}

func agentOf(spec operation.Spec) string {
	if spec.Mutating {
		return AgentActions
	}
	switch {
	case strings.HasPrefix(spec.Endpoint, "homework"):
		return AgentHomeworks
	case spec.Endpoint == "courses":
		return AgentCourses
	case spec.Endpoint == "lessons":
		return AgentLessons
	case spec.Endpoint == "grades":
		return AgentGrades
	default:
		return AgentStudents
	}
}

// authenticateCapability exposes the authenticator without leaking the token.
func authenticateCapability(auth Authenticator) (Capability, Handler) {
	c := Capability{
		Name:        "authenticate",
		Agent:       AgentAuth,
		Description: "Check LMS credentials. Blank arguments use the configured defaults.",
		Optional:    []string{"identifier", "secret"},
	}
	return c, func(ctx context.Context, args operation.Args) result.Envelope {
		env := auth.Authenticate(ctx, args.Get("identifier"), args["secret"])
		if !env.Success {
			return env
		}
		md := env.Metadata
		if md == nil {
			md = map[string]any{}
		}
		return result.OK(map[string]any{"authenticated": true}, md)
	}
}

// Lookup returns the named capability.
func (r *Router) Lookup(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	return c, ok
}

// Describe lists capabilities ordered by agent, then name.
func (r *Router) Describe() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Capability, 0, len(r.caps))
	for _, c := range r.caps {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Agent != out[j].Agent {
			return out[i].Agent < out[j].Agent
		}
		return out[i].Name < out[j].Name
	})
	return out
}

type callerKey struct{}

// WithCaller attaches the caller identity used for feature gating.
func WithCaller(ctx context.Context, fc *config.FeatureContext) context.Context {
	return context.WithValue(ctx, callerKey{}, fc)
}

func callerFrom(ctx context.Context) *config.FeatureContext {
	fc, _ := ctx.Value(callerKey{}).(*config.FeatureContext)
	return fc
}

// Dispatch invokes a capability by name. It always returns an envelope:
// unknown names and disabled agents are validation failures, and a panicking
// handler becomes a failed envelope.
func (r *Router) Dispatch(ctx context.Context, name string, args operation.Args) (env result.Envelope) {
	c, ok := r.Lookup(name)
	if !ok {
		r.logger.Warn("unknown capability", logger.Capability(name))
		return result.Failf(result.KindValidation, "unknown capability %q", name)
	}
	if r.flags != nil && !r.flags.AgentEnabled(c.Agent, callerFrom(ctx)) {
		r.logger.Info("capability disabled", logger.Capability(name), "agent", c.Agent)
		return result.Failf(result.KindValidation, "capability %q is disabled", name)
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("capability panicked",
				logger.Capability(name),
				"panic", fmt.Sprint(p),
				"stack", string(debug.Stack()),
			)
			env = result.Fail(fmt.Sprintf("internal error in %s", name), nil)
		}
	}()

	return c.handler(ctx, args)
}
