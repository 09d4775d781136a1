package session

import (
	"context"
	"fmt"
	"time"

	"github.com/amakane-hakari/nemuri/internal/cache"
)

type logLike interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SessionDeps は Session 用のキャッシュの協調者を組み立てます。
// Create の引数は (*Customer, cartID, groupID, openedAt) です。
func SessionDeps(store cache.ObjectStore[*Session], logger logLike) cache.Deps[*Session] {
	return cache.Deps[*Session]{
		Factory: cache.FactoryFuncs[*Session]{
			CreateFunc: func(_ context.Context, args ...any) (*Session, error) {
				if len(args) != 4 {
					return nil, fmt.Errorf("session: want 4 create args, got %d", len(args))
				}
				cust, ok1 := args[0].(*Customer)
				cartID, ok2 := args[1].(string)
				groupID, ok3 := args[2].(string)
				openedAt, ok4 := args[3].(time.Time)
				if !ok1 || !ok2 || !ok3 || !ok4 {
					return nil, fmt.Errorf("session: unexpected create args %T %T %T %T", args...)
				}
				return &Session{CartID: cartID, GroupID: groupID, OpenedAt: openedAt, customer: cust}, nil
			},
			DestroyFunc: func(_ context.Context, s *Session) error {
				if logger != nil {
					logger.Debug("session.destroy", "cart", s.CartID, "finished", s.Finished())
				}
				return nil
			},
		},
		Store:       store,
		Passivation: sessionHooks{},
	}
}

// CartDeps は Cart 用のキャッシュの協調者を組み立てます。Create の引数は (*Customer) です。
func CartDeps(store cache.ObjectStore[*Cart]) cache.Deps[*Cart] {
	return cache.Deps[*Cart]{
		Factory: cache.FactoryFuncs[*Cart]{
			CreateFunc: func(_ context.Context, args ...any) (*Cart, error) {
				if len(args) != 1 {
					return nil, fmt.Errorf("session: want 1 cart arg, got %d", len(args))
				}
				cust, ok := args[0].(*Customer)
				if !ok {
					return nil, fmt.Errorf("session: unexpected cart arg %T", args[0])
				}
				return &Cart{customer: cust}, nil
			},
		},
		Store: store,
	}
}

// sessionHooks は退避と復元の回数を Session に記録します。
type sessionHooks struct{}

func (sessionHooks) PrePassivate(_ context.Context, s *Session) error {
	s.Passivations++
	return nil
}

func (sessionHooks) PostActivate(_ context.Context, s *Session) error {
	s.Activations++
	return nil
}
