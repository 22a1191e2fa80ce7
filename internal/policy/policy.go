package policy

import (
	"strings"

	"github.com/fathima-sithara/messaging-service/internal/domain"
)

const (
	ReasonDemoAccount = "demo-account"

	demoMessage = "Demo accounts can only message the help desk. Create a free account to message other students."
)

// Predicate reports whether acting may open a conversation with, or send a
// message to, target.
type Predicate func(acting, target string) bool

// Policy gates conversation resolution and message send. A denial is returned
// as *domain.AccessDeniedError.
type Policy interface {
	Authorize(acting, target string) error
}

type predicatePolicy struct {
	reason  string
	message string
	allow   Predicate
}

// New turns a predicate into a Policy that denies with reason and message.
func New(reason, message string, allow Predicate) Policy {
	return &predicatePolicy{reason: reason, message: message, allow: allow}
}

func (p *predicatePolicy) Authorize(acting, target string) error {
	if p.allow(acting, target) {
		return nil
	}
	return &domain.AccessDeniedError{Reason: p.reason, Message: p.message}
}

// DemoRestriction lets restricted accounts reach only systemAccount. Every
// other account is unrestricted.
func DemoRestriction(restricted []string, systemAccount string) Predicate {
	set := make(map[string]struct{}, len(restricted))
	for _, r := range restricted {
		set[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
	}
	return func(acting, target string) bool {
		if _, ok := set[strings.ToLower(acting)]; !ok {
			return true
		}
		return strings.EqualFold(target, systemAccount)
	}
}

// Demo is the marketplace rule for the shared demo login.
func Demo(restricted []string, systemAccount string) Policy {
	return New(ReasonDemoAccount, demoMessage, DemoRestriction(restricted, systemAccount))
}

type allowAll struct{}

func (allowAll) Authorize(string, string) error { return nil }

func AllowAll() Policy { return allowAll{} }

type chain []Policy

// Chain applies policies in order and returns the first denial.
func Chain(policies ...Policy) Policy { return chain(policies) }

func (c chain) Authorize(acting, target string) error {
	for _, p := range c {
		if err := p.Authorize(acting, target); err != nil {
			return err
		}
	}
	return nil
}
