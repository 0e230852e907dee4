// Package session binds websocket connections to presentation participants.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"slidesync/api/internal/rbac"
	"slidesync/api/internal/store"
)

const maxDisplayNameLength = 64

var (
	// ErrInvalidJoin is returned when the target presentation does not exist.
	ErrInvalidJoin = errors.New("invalid join")
	// ErrInvalidName is returned for an empty or oversized display name.
	ErrInvalidName = errors.New("invalid display name")
)

type Store interface {
	GetDocument(ctx context.Context, id string) (store.Document, error)
	UpsertParticipant(ctx context.Context, p store.Participant) (store.Participant, error)
	GetParticipantByConnection(ctx context.Context, connectionID string) (store.Participant, error)
	DeactivateConnection(ctx context.Context, connectionID string) (store.Participant, error)
	ListActiveParticipants(ctx context.Context, documentID string) ([]store.Participant, error)
}

// Registry keeps the connection to participant binding in the participant
// table. It holds no state of its own, so every API node sees the same view.
type Registry struct {
	store Store
	log   zerolog.Logger
	now   func() time.Time
}

func NewRegistry(st Store, log zerolog.Logger) *Registry {
	return &Registry{
		store: st,
		log:   log.With().Str("component", "session").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Identify binds connectionID to displayName in documentID. A display name
// seen before keeps its stored role and takes over the new connection; a new
// one gets the requested role, capped at editor.
func (r *Registry) Identify(ctx context.Context, connectionID, documentID, displayName, requestedRole string) (store.Participant, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" || utf8.RuneCountInString(displayName) > maxDisplayNameLength {
		return store.Participant{}, ErrInvalidName
	}
	if strings.TrimSpace(documentID) == "" {
		return store.Participant{}, ErrInvalidJoin
	}
	if _, err := r.store.GetDocument(ctx, documentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Participant{}, ErrInvalidJoin
		}
		return store.Participant{}, fmt.Errorf("identify: %w", err)
	}

	p, err := r.store.UpsertParticipant(ctx, store.Participant{
		DocumentID:   documentID,
		DisplayName:  displayName,
		ConnectionID: connectionID,
		Role:         string(rbac.Joinable(requestedRole)),
		JoinedAt:     r.now(),
	})
	if errors.Is(err, store.ErrNotFound) {
		return store.Participant{}, ErrInvalidJoin
	}
	if err != nil {
		return store.Participant{}, fmt.Errorf("identify: %w", err)
	}
	r.log.Debug().
		Str("document_id", documentID).
		Str("display_name", displayName).
		Str("connection_id", connectionID).
		Str("role", p.Role).
		Msg("participant joined")
	return p, nil
}

// ResolveByConnection returns the active participant bound to connectionID,
// or nil when there is none.
func (r *Registry) ResolveByConnection(ctx context.Context, connectionID string) (*store.Participant, error) {
	p, err := r.store.GetParticipantByConnection(ctx, connectionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve connection: %w", err)
	}
	return &p, nil
}

// Deactivate marks the participant bound to connectionID inactive. It returns
// nil when the connection was never bound or has been superseded.
func (r *Registry) Deactivate(ctx context.Context, connectionID string) (*store.Participant, error) {
	p, err := r.store.DeactivateConnection(ctx, connectionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("deactivate connection: %w", err)
	}
	return &p, nil
}

// ListActive returns the active participants of a document, earliest join first.
func (r *Registry) ListActive(ctx context.Context, documentID string) ([]store.Participant, error) {
	out, err := r.store.ListActiveParticipants(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return out, nil
}
