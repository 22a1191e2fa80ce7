package policy

import (
	"testing"

	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestDemo_Only_Reaches_System_Account(t *testing.T) {
	req := require.New(t)
	p := Demo([]string{"demo"}, "franklindesk")

	// Demo account toward anybody but the desk is denied
	for _, target := range []string{"alice", "bob", "demo2", ""} {
		err := p.Authorize("demo", target)
		req.ErrorIs(err, domain.ErrAccessDenied, target)

		var denied *domain.AccessDeniedError
		req.ErrorAs(err, &denied)
		req.Equal(ReasonDemoAccount, denied.Reason)
		req.NotEmpty(denied.Message)
	}

	// The designated account is the exception, whatever the casing
	req.NoError(p.Authorize("demo", "franklindesk"))
	req.NoError(p.Authorize("DEMO", "FranklinDesk"))
}

func TestDemo_Regular_Accounts_Are_Unrestricted(t *testing.T) {
	req := require.New(t)
	p := Demo([]string{"demo"}, "franklindesk")

	req.NoError(p.Authorize("alice", "bob"))
	req.NoError(p.Authorize("alice", "demo"))
	req.NoError(p.Authorize("alice", "franklindesk"))
}

func TestChain_First_Denial_Wins(t *testing.T) {
	req := require.New(t)
	noBob := New("blocked", "bob is away", func(_, target string) bool { return target != "bob" })
	p := Chain(AllowAll(), Demo([]string{"demo"}, "franklindesk"), noBob)

	req.NoError(p.Authorize("alice", "carol"))

	var denied *domain.AccessDeniedError
	req.ErrorAs(p.Authorize("alice", "bob"), &denied)
	req.Equal("blocked", denied.Reason)

	req.ErrorAs(p.Authorize("demo", "bob"), &denied)
	req.Equal(ReasonDemoAccount, denied.Reason)
}
