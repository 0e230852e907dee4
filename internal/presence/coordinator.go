// Package presence publishes who is in a presentation and handles role changes.
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"slidesync/api/internal/rbac"
	"slidesync/api/internal/store"
)

const EventParticipantsUpdated = "participants-updated"

var (
	ErrForbidden   = errors.New("only the owner can change roles")
	ErrInvalidRole = errors.New("role must be editor or viewer")
	ErrOwnerRole   = errors.New("the owner's role cannot be changed")
	ErrNotFound    = errors.New("participant not found")
)

type Store interface {
	GetParticipant(ctx context.Context, documentID, displayName string) (store.Participant, error)
	UpdateParticipantRole(ctx context.Context, documentID, displayName, role string) (store.Participant, error)
	ListActiveParticipants(ctx context.Context, documentID string) ([]store.Participant, error)
}

type Broadcaster interface {
	BroadcastToAll(documentID, event string, payload any)
}

// ParticipantView is the wire form of an active participant.
type ParticipantView struct {
	DisplayName  string    `json:"displayName"`
	Role         string    `json:"role"`
	ConnectionID string    `json:"connectionId,omitempty"`
	JoinedAt     time.Time `json:"joinedAt"`
}

func ViewsOf(ps []store.Participant) []ParticipantView {
	out := make([]ParticipantView, 0, len(ps))
	for _, p := range ps {
		out = append(out, ParticipantView{
			DisplayName:  p.DisplayName,
			Role:         p.Role,
			ConnectionID: p.ConnectionID,
			JoinedAt:     p.JoinedAt,
		})
	}
	return out
}

type Coordinator struct {
	store Store
	rooms Broadcaster
	log   zerolog.Logger
}

func NewCoordinator(st Store, rooms Broadcaster, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		store: st,
		rooms: rooms,
		log:   log.With().Str("component", "presence").Logger(),
	}
}

// Announce sends the current active participant list to everyone in the room.
func (c *Coordinator) Announce(ctx context.Context, documentID string) error {
	active, err := c.store.ListActiveParticipants(ctx, documentID)
	if err != nil {
		c.log.Error().Err(err).Str("document_id", documentID).Msg("list participants failed")
		return fmt.Errorf("announce participants: %w", err)
	}
	c.rooms.BroadcastToAll(documentID, EventParticipantsUpdated, map[string]any{
		"documentId":   documentID,
		"participants": ViewsOf(active),
	})
	return nil
}

// ChangeRole sets displayName's role. Only the owner may do this and the
// owner role itself can be neither granted nor removed.
func (c *Coordinator) ChangeRole(ctx context.Context, actorRole, documentID, displayName, role string) (store.Participant, error) {
	if rbac.Normalize(actorRole) != rbac.RoleOwner {
		return store.Participant{}, ErrForbidden
	}
	if !rbac.Assignable(role) {
		return store.Participant{}, ErrInvalidRole
	}
	target, err := c.store.GetParticipant(ctx, documentID, displayName)
	if errors.Is(err, store.ErrNotFound) {
		return store.Participant{}, ErrNotFound
	}
	if err != nil {
		return store.Participant{}, fmt.Errorf("change role: %w", err)
	}
	if rbac.Role(target.Role) == rbac.RoleOwner {
		return store.Participant{}, ErrOwnerRole
	}

	updated, err := c.store.UpdateParticipantRole(ctx, documentID, displayName, role)
	if errors.Is(err, store.ErrNotFound) {
		return store.Participant{}, ErrNotFound
	}
	if err != nil {
		return store.Participant{}, fmt.Errorf("change role: %w", err)
	}
	c.log.Info().
		Str("document_id", documentID).
		Str("display_name", displayName).
		Str("role", role).
		Msg("participant role changed")

	// the role change is durable; a failed announce is already logged
	_ = c.Announce(ctx, documentID)
	return updated, nil
}
