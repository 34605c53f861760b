package lifecycle

import "github.com/spec-kit/ticket-sla-service/internal/domain"

// allowedTransitions is the closed state machine. ASSIGNED is only reachable
// through Assign and REOPENED only through Reopen.
var allowedTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusOpen: {
		domain.TicketStatusAssigned, domain.TicketStatusInProgress, domain.TicketStatusAwaitingResponse,
		domain.TicketStatusResolved, domain.TicketStatusClosed,
	},
	domain.TicketStatusReopened: {
		domain.TicketStatusAssigned, domain.TicketStatusInProgress, domain.TicketStatusAwaitingResponse,
		domain.TicketStatusResolved, domain.TicketStatusClosed,
	},
	domain.TicketStatusAssigned: {
		domain.TicketStatusInProgress, domain.TicketStatusAwaitingResponse,
		domain.TicketStatusResolved, domain.TicketStatusClosed,
	},
	domain.TicketStatusInProgress: {
		domain.TicketStatusAwaitingResponse, domain.TicketStatusResolved, domain.TicketStatusClosed,
	},
	domain.TicketStatusAwaitingResponse: {
		domain.TicketStatusInProgress, domain.TicketStatusResolved, domain.TicketStatusClosed,
	},
	domain.TicketStatusResolved: {domain.TicketStatusClosed},
	domain.TicketStatusClosed:   {domain.TicketStatusReopened},
}

// CanTransition reports whether current -> next is permitted.
func CanTransition(current, next domain.TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// NextStatuses lists the statuses reachable from current.
func NextStatuses(current domain.TicketStatus) []domain.TicketStatus {
	return append([]domain.TicketStatus(nil), allowedTransitions[current]...)
}
