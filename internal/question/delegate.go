package question

import (
	"context"
	"log/slog"

	"github.com/user/coredelegate/internal/delegate"
	"github.com/user/coredelegate/internal/types"
)

// NotSupportedComponent renders questions whose type has no handler.
const NotSupportedComponent = "questionnotsupported"

// Handler supports one question type. TypeKey returns "qtype_" plus the
// type; QuestionHandlerBase builds it.
type Handler interface {
	delegate.Handler
	delegate.Keyed
	Component(ctx context.Context, q *Question) (string, error)
}

// BehaviourOverrider changes the behaviour used for its questions.
type BehaviourOverrider interface {
	Behaviour(q *Question, behaviour string) string
}

type CompletenessChecker interface {
	IsCompleteResponse(q *Question, answers Answers, component string, componentID int64) int
}

type GradabilityChecker interface {
	IsGradableResponse(q *Question, answers Answers, component string, componentID int64) int
}

type SameResponseChecker interface {
	IsSameResponse(q *Question, prev, next Answers, component string, componentID int64) bool
}

// SubmitPreventer blocks submitting questions the app can't answer.
type SubmitPreventer interface {
	PreventSubmitMessage(q *Question) string
}

type Validator interface {
	ValidationError(q *Question, answers Answers, onlineError, component string, componentID int64) string
}

type SequenceChecker interface {
	ValidateSequenceCheck(q *Question, offlineSequenceCheck string) bool
}

func typeKey(qtype string) string {
	return "qtype_" + qtype
}

// Delegate dispatches question-type capabilities.
type Delegate struct {
	reg *delegate.Registry[Handler]
}

func NewDelegate(sites types.SiteProvider, logger *slog.Logger) *Delegate {
	reg := delegate.New[Handler](delegate.Options{
		Name:          "CoreQuestionDelegate",
		FeaturePrefix: "CoreQuestionDelegate_",
		Sites:         sites,
		Logger:        logger,
	})
	reg.SetDefault(notSupported{})
	return &Delegate{reg: reg}
}

func (d *Delegate) Register(h Handler) error {
	return d.reg.Register(h)
}

func (d *Delegate) Registry() *delegate.Registry[Handler] {
	return d.reg
}

func (d *Delegate) UpdateHandlers(ctx context.Context) error {
	return d.reg.UpdateHandlers(ctx)
}

// capability runs fn on the handler for q's type when it implements C.
func capability[C, T any](ctx context.Context, d *Delegate, q *Question, fn func(C) T) delegate.Result[T] {
	return delegate.Execute(ctx, d.reg, typeKey(q.Type), func(_ context.Context, h Handler) (delegate.Result[T], error) {
		c, ok := h.(C)
		if !ok {
			return delegate.NotApplicable[T](), nil
		}
		return delegate.Data(fn(c)), nil
	})
}

// GetComponentForQuestion returns the component that renders q.
func (d *Delegate) GetComponentForQuestion(ctx context.Context, q *Question) string {
	res := delegate.Execute(ctx, d.reg, typeKey(q.Type), func(ctx context.Context, h Handler) (delegate.Result[string], error) {
		c, err := h.Component(ctx, q)
		if err != nil || c == "" {
			return delegate.NotApplicable[string](), err
		}
		return delegate.Data(c), nil
	})
	return res.Or(NotSupportedComponent)
}

func (d *Delegate) IsQuestionSupported(qtype string) bool {
	return d.reg.HasHandler(typeKey(qtype), true)
}

// GetBehaviourForQuestion returns the behaviour to use for q, which is
// behaviour unless the type overrides it.
func (d *Delegate) GetBehaviourForQuestion(ctx context.Context, q *Question, behaviour string) string {
	b := capability(ctx, d, q, func(o BehaviourOverrider) string {
		return o.Behaviour(q, behaviour)
	}).Or("")
	if b == "" {
		return behaviour
	}
	return b
}

func (d *Delegate) IsCompleteResponse(ctx context.Context, q *Question, answers Answers, component string, componentID int64) int {
	return capability(ctx, d, q, func(c CompletenessChecker) int {
		return c.IsCompleteResponse(q, answers, component, componentID)
	}).Or(ResponseUnknown)
}

func (d *Delegate) IsGradableResponse(ctx context.Context, q *Question, answers Answers, component string, componentID int64) int {
	return capability(ctx, d, q, func(c GradabilityChecker) int {
		return c.IsGradableResponse(q, answers, component, componentID)
	}).Or(ResponseUnknown)
}

func (d *Delegate) IsSameResponse(ctx context.Context, q *Question, prev, next Answers, component string, componentID int64) bool {
	return capability(ctx, d, q, func(c SameResponseChecker) bool {
		return c.IsSameResponse(q, prev, next, component, componentID)
	}).Or(false)
}

func (d *Delegate) GetPreventSubmitMessage(ctx context.Context, q *Question) string {
	return capability(ctx, d, q, func(p SubmitPreventer) string {
		return p.PreventSubmitMessage(q)
	}).Or("")
}

func (d *Delegate) GetValidationError(ctx context.Context, q *Question, answers Answers, onlineError, component string, componentID int64) string {
	return capability(ctx, d, q, func(v Validator) string {
		return v.ValidationError(q, answers, onlineError, component, componentID)
	}).Or(onlineError)
}

func (d *Delegate) ValidateSequenceCheck(ctx context.Context, q *Question, offlineSequenceCheck string) bool {
	return capability(ctx, d, q, func(s SequenceChecker) bool {
		return s.ValidateSequenceCheck(q, offlineSequenceCheck)
	}).Or(false)
}

// QuestionHandlerBase is embedded by question-type handlers.
type QuestionHandlerBase struct {
	HandlerName string
	QType       string
	Prio        int
}

func (b *QuestionHandlerBase) Name() string    { return b.HandlerName }
func (b *QuestionHandlerBase) TypeKey() string { return typeKey(b.QType) }
func (b *QuestionHandlerBase) Priority() int   { return b.Prio }

func (b *QuestionHandlerBase) IsEnabled(context.Context) (bool, error) {
	return true, nil
}

type notSupported struct{}

func (notSupported) Name() string    { return "CoreQuestionDefaultHandler" }
func (notSupported) TypeKey() string { return "default" }

func (notSupported) IsEnabled(context.Context) (bool, error) {
	return true, nil
}

func (notSupported) Component(context.Context, *Question) (string, error) {
	return NotSupportedComponent, nil
}
