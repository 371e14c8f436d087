package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/egv/yolo-wave/internal/session"
)

type SessionService interface {
	Create(ctx context.Context, request session.CreateRequest) (session.Session, error)
	Send(ctx context.Context, id string, text string, execute bool) error
	Get(ctx context.Context, id string) (session.Session, error)
	Delete(ctx context.Context, id string) error
}

// HostedVerifier asks the session service for an agent session, hands it the
// gate instruction once ready, and leaves it running.
type HostedVerifier struct {
	Sessions SessionService
	Command  string
}

func (v *HostedVerifier) Spawn(ctx context.Context, request Request) (Pending, error) {
	if v.Sessions == nil {
		return Pending{}, errors.New("hosted verifier has no session service")
	}
	name := SessionName(request.Gate, request.ItemID)
	created, err := v.Sessions.Create(ctx, session.CreateRequest{
		Name:    name,
		Cwd:     request.Worktree,
		Command: v.Command,
	})
	if err != nil {
		return Pending{}, fmt.Errorf("create session %s: %w", name, err)
	}
	pending := Pending{SessionID: created.ID, SessionName: name}
	if err := v.Sessions.Send(ctx, created.ID, Instruction(request), true); err != nil {
		_ = v.Sessions.Delete(context.WithoutCancel(ctx), created.ID)
		return Pending{}, fmt.Errorf("send instruction to %s: %w", name, err)
	}
	return pending, nil
}
