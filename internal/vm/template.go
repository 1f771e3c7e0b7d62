package vm

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/flowgate/internal/queue"
	"github.com/sungwon/flowgate/internal/txn"
)

// TransactionTemplate runs a unit of work against a queue session under a
// transaction policy.
type TransactionTemplate struct {
	policy  TxPolicy
	timeout time.Duration
	log     zerolog.Logger
}

// NewTransactionTemplate creates a template.
func NewTransactionTemplate(policy TxPolicy, timeout time.Duration, log zerolog.Logger) *TransactionTemplate {
	return &TransactionTemplate{policy: policy, timeout: timeout, log: log}
}

// Policy returns the template's policy.
func (t *TransactionTemplate) Policy() TxPolicy { return t.policy }

// Execute runs fn. Under TxAlwaysBegin the session is enlisted in a new
// transaction that commits if fn succeeds and rolls back otherwise. Under
// TxJoinIfPossible the session is enlisted in the context's transaction and
// its owner decides the outcome. The session is available to fn through
// SessionFromContext.
func (t *TransactionTemplate) Execute(ctx context.Context, s *queue.Session, fn func(ctx context.Context) error) error {
	ctx = WithSession(ctx, s)

	switch t.policy {
	case TxJoinIfPossible:
		if tx, ok := txn.FromContext(ctx); ok {
			if err := tx.Enlist(ctx, s); err != nil {
				return err
			}
		}
		return fn(ctx)

	case TxAlwaysBegin:
		tx := txn.New(t.timeout, t.log)
		if err := tx.Enlist(ctx, s); err != nil {
			return err
		}
		ctx = txn.WithTransaction(ctx, tx)
		if err := fn(ctx); err != nil {
			if rerr := tx.Rollback(context.WithoutCancel(ctx)); rerr != nil {
				return errors.Join(err, rerr)
			}
			return err
		}
		return tx.Commit(context.WithoutCancel(ctx))

	default:
		return fn(ctx)
	}
}

type sessionKey struct{}

// WithSession returns a context carrying s. Dispatches made with that context
// join s, and through it the session's transaction.
func WithSession(ctx context.Context, s *queue.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session stored by WithSession.
func SessionFromContext(ctx context.Context) (*queue.Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*queue.Session)
	return s, ok
}
