// Package account resolves an inbound request's explicit and implicit
// hints to exactly one stored account.
package account

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Davincible/chatgate/internal/provider"
	"github.com/Davincible/chatgate/internal/store"
)

// ModelAuto is the sentinel model id that delegates provider selection to
// the configured model-sequence list.
const ModelAuto = "auto"

// Hints carries everything the calling surface knows about which account
// the request should use. All fields are optional.
type Hints struct {
	// Token is a bearer-token-like opaque id, tried first as an account id.
	Token string
	// AccountID is an explicitly named account.
	AccountID string
	// Provider and Email are an explicit pair hint.
	Provider string
	Email    string
	// Model lets the registry infer a provider when no explicit hint exists.
	Model string
	// AllowFallback permits an arbitrary account when no hint matched.
	// Only surfaces that accept unqualified requests set this.
	AllowFallback bool
}

type Resolver struct {
	accounts  store.Accounts
	sequences store.ModelSequences
	registry  *provider.Registry
	logger    *slog.Logger
}

func NewResolver(accounts store.Accounts, sequences store.ModelSequences, registry *provider.Registry, logger *slog.Logger) *Resolver {
	return &Resolver{
		accounts:  accounts,
		sequences: sequences,
		registry:  registry,
		logger:    logger,
	}
}

// Resolve picks one account using a fixed precedence, stopping at the
// first success:
//
//  1. exact account-id match (explicit id, then the bearer token),
//  2. exact (provider, email) pair, case-insensitive,
//  3. provider from the explicit hint or inferred from the model id,
//  4. "auto" model via the ordered model-sequence list,
//  5. first available account, only when the surface allows it.
//
// An explicit, unmatched provider/email hint is "no account found", never
// a silent substitution. A resolver failure returns ErrNoAccount.
func (r *Resolver) Resolve(h Hints) (*store.Account, error) {
	// Rule 1: account id.
	for _, id := range []string{h.AccountID, h.Token} {
		if id == "" {
			continue
		}

		acct, err := r.accounts.GetByID(id)
		if err != nil {
			return nil, fmt.Errorf("lookup account %q: %w", id, err)
		}

		if acct != nil {
			if id == h.AccountID && h.Provider != "" && !strings.EqualFold(acct.Provider, h.Provider) {
				return nil, fmt.Errorf("account %q belongs to provider %q, not %q: %w",
					acct.ID, acct.Provider, h.Provider, provider.ErrAccountConflict)
			}

			return acct, nil
		}
	}

	// Rule 2: explicit (provider, email) pair.
	if h.Provider != "" && h.Email != "" {
		acct, err := r.accounts.FindByProviderEmail(h.Provider, h.Email)
		if err != nil {
			return nil, fmt.Errorf("lookup %s/%s: %w", h.Provider, h.Email, err)
		}

		if acct != nil {
			return acct, nil
		}

		// Both hints explicit and unmatched: never substitute.
		return nil, fmt.Errorf("no account for %s/%s: %w", h.Provider, h.Email, provider.ErrNoAccount)
	}

	// Rule 3: provider hint, or provider inferred from the model id.
	providerName := h.Provider
	inferred := false

	if providerName == "" && h.Model != "" && h.Model != ModelAuto {
		if p, ok := r.registry.ResolveByModel(h.Model); ok {
			providerName = p.Name()
			inferred = true
		}
	}

	if providerName != "" {
		acct, err := r.firstForProvider(providerName)
		if err != nil {
			return nil, err
		}

		if acct != nil {
			return acct, nil
		}

		if !inferred {
			// Explicit provider hint with no matching account.
			return nil, fmt.Errorf("no account for provider %q: %w", providerName, provider.ErrNoAccount)
		}
	}

	// Rule 4: "auto" model goes through the model-sequence list.
	if h.Model == ModelAuto {
		entry, err := r.sequences.BestOverall()
		if err != nil {
			return nil, fmt.Errorf("lookup model sequence: %w", err)
		}

		if entry != nil {
			acct, err := r.firstForProvider(entry.Provider)
			if err != nil {
				return nil, err
			}

			if acct != nil {
				return acct, nil
			}

			r.logger.Warn("best-sequence provider has no account",
				"provider", entry.Provider, "model", entry.Model)
		}
	}

	// Rule 5: arbitrary available account, only for unqualified surfaces.
	if h.AllowFallback || h.Model == ModelAuto {
		accts, err := r.accounts.List()
		if err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}

		if len(accts) > 0 {
			return &accts[0], nil
		}
	}

	return nil, provider.ErrNoAccount
}

func (r *Resolver) firstForProvider(name string) (*store.Account, error) {
	accts, err := r.accounts.ListByProvider(name)
	if err != nil {
		return nil, fmt.Errorf("list accounts for %q: %w", name, err)
	}

	if len(accts) == 0 {
		return nil, nil
	}

	return &accts[0], nil
}
