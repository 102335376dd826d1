package membership

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	GetMembership(ctx context.Context, id uuid.UUID) (Membership, error)
	ListMembershipsByUnit(ctx context.Context, unitID uuid.UUID) ([]Membership, error)
	ListMembershipsByUser(ctx context.Context, userID uuid.UUID) ([]Membership, error)
	CreateMembership(ctx context.Context, m Membership) (Membership, error)
	UpdateMembership(ctx context.Context, m Membership) error
}
