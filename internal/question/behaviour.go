package question

import (
	"context"
	"log/slog"

	"github.com/user/coredelegate/internal/delegate"
	"github.com/user/coredelegate/internal/types"
)

// BehaviourHandler implements a question behaviour (deferred feedback,
// immediate feedback...). TypeKey returns "qbehaviour_" plus its name.
type BehaviourHandler interface {
	delegate.Handler
	delegate.Keyed
	// DetermineNewState computes the state q reaches after an offline
	// submission. NotApplicable means the behaviour can't tell.
	DetermineNewState(ctx context.Context, component string, attemptID int64, q *Question, componentID int64, siteID types.SiteID) (delegate.Result[State], error)
}

// QuestionComponentHandler is implemented by behaviours that render extra
// components next to the question.
type QuestionComponentHandler interface {
	HandleQuestion(q *Question) []string
}

func behaviourKey(name string) string {
	return "qbehaviour_" + name
}

type BehaviourDelegate struct {
	reg *delegate.Registry[BehaviourHandler]
}

func NewBehaviourDelegate(sites types.SiteProvider, logger *slog.Logger) *BehaviourDelegate {
	return &BehaviourDelegate{reg: delegate.New[BehaviourHandler](delegate.Options{
		Name:          "CoreQuestionBehaviourDelegate",
		FeaturePrefix: "CoreQuestionBehaviourDelegate_",
		Sites:         sites,
		Logger:        logger,
	})}
}

func (d *BehaviourDelegate) Register(h BehaviourHandler) error {
	return d.reg.Register(h)
}

func (d *BehaviourDelegate) Registry() *delegate.Registry[BehaviourHandler] {
	return d.reg
}

func (d *BehaviourDelegate) UpdateHandlers(ctx context.Context) error {
	return d.reg.UpdateHandlers(ctx)
}

// DetermineNewState asks the behaviour for q's new state.
func (d *BehaviourDelegate) DetermineNewState(ctx context.Context, behaviour, component string, attemptID int64, q *Question, componentID int64, siteID types.SiteID) delegate.Result[State] {
	return delegate.Execute(ctx, d.reg, behaviourKey(behaviour), func(ctx context.Context, h BehaviourHandler) (delegate.Result[State], error) {
		return h.DetermineNewState(ctx, component, attemptID, q, componentID, siteID)
	})
}

// HandleQuestion returns the extra components the behaviour renders for q.
func (d *BehaviourDelegate) HandleQuestion(ctx context.Context, behaviour string, q *Question) []string {
	res := delegate.Execute(ctx, d.reg, behaviourKey(behaviour), func(_ context.Context, h BehaviourHandler) (delegate.Result[[]string], error) {
		c, ok := h.(QuestionComponentHandler)
		if !ok {
			return delegate.NotApplicable[[]string](), nil
		}
		return delegate.Data(c.HandleQuestion(q)), nil
	})
	return res.Or(nil)
}

func (d *BehaviourDelegate) IsBehaviourSupported(behaviour string) bool {
	return d.reg.HasHandler(behaviourKey(behaviour), true)
}

type BehaviourHandlerBase struct {
	HandlerName string
	Behaviour   string
	Prio        int
}

func (b *BehaviourHandlerBase) Name() string    { return b.HandlerName }
func (b *BehaviourHandlerBase) TypeKey() string { return behaviourKey(b.Behaviour) }
func (b *BehaviourHandlerBase) Priority() int   { return b.Prio }

func (b *BehaviourHandlerBase) IsEnabled(context.Context) (bool, error) {
	return true, nil
}
