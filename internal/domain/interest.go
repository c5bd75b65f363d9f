package domain

import (
	"context"

	"github.com/google/uuid"
)

type InterestOutcome string

const (
	InterestMatched InterestOutcome = "match"
	InterestSent    InterestOutcome = "interest"
)

type InterestResult struct {
	Outcome InterestOutcome `json:"outcome"`
	Message string          `json:"message"`
}

// InterestService is the remote match procedure.
type InterestService interface {
	HandleInterest(ctx context.Context, requesterID, targetID uuid.UUID) (kind string, message string, err error)
}
