package gate

import (
	"context"
	"strings"
	"sync"

	"github.com/tokengate/tokengate/internal/domain"
)

// PrincipalResolver finds the single principal whose username matches
// case-insensitively. It returns domain.ErrPrincipalNotFound when none does
// and wraps domain.ErrStoreUnavailable when the store cannot be reached.
type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, username string) (domain.Principal, error)
}

// StaticResolver is an in-memory PrincipalResolver for development and tests.
type StaticResolver struct {
	mu         sync.RWMutex
	principals map[string]domain.Principal // key: lower-cased username
}

// NewStaticResolver creates a resolver over the given principals.
func NewStaticResolver(principals ...domain.Principal) *StaticResolver {
	r := &StaticResolver{principals: make(map[string]domain.Principal, len(principals))}
	for _, p := range principals {
		r.Add(p)
	}
	return r
}

// Add registers or replaces a principal.
func (r *StaticResolver) Add(p domain.Principal) {
	r.mu.Lock()
	r.principals[strings.ToLower(p.Username)] = p
	r.mu.Unlock()
}

func (r *StaticResolver) ResolvePrincipal(_ context.Context, username string) (domain.Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.principals[strings.ToLower(username)]
	if !ok {
		return domain.Principal{}, domain.ErrPrincipalNotFound
	}
	return p, nil
}
