package gateway

import "github.com/leapmux/claimsync/internal/claims"

// ServiceName is the fully-qualified name of the claim service.
const ServiceName = "claimsync.v1.ClaimService"

// Procedure paths, one per gateway operation.
const (
	CreateClaimProcedure   = "/" + ServiceName + "/CreateClaim"
	RemoveClaimProcedure   = "/" + ServiceName + "/RemoveClaim"
	TransferClaimProcedure = "/" + ServiceName + "/TransferClaim"
	ListClaimsProcedure    = "/" + ServiceName + "/ListClaims"
	LookupProcedure        = "/" + ServiceName + "/Lookup"
	SweepUnreadProcedure   = "/" + ServiceName + "/SweepUnread"
	QueueCountsProcedure   = "/" + ServiceName + "/QueueCounts"
)

// ClaimedUserIDMeta is the error metadata key carrying the current owner on
// an AlreadyExists error.
const ClaimedUserIDMeta = "Claimed-User-Id"

// Claim is the wire form of a claimed conversation.
type Claim struct {
	Key           claims.Key `json:"key"`
	TicketID      string     `json:"ticket_id"`
	CustomerID    string     `json:"customer_id"`
	CustomerName  string     `json:"customer_name"`
	OrderID       string     `json:"order_id,omitempty"`
	Continuous    bool       `json:"continuous,omitempty"`
	ProviderID    string     `json:"provider_id,omitempty"`
	TransferredBy string     `json:"transferred_by,omitempty"`
}

// Entry converts a wire claim to a confirmed cache entry.
func (c Claim) Entry() claims.ClaimedEntry {
	return claims.ClaimedEntry{
		Key:           c.Key,
		TicketID:      c.TicketID,
		CustomerID:    c.CustomerID,
		CustomerName:  c.CustomerName,
		OrderID:       c.OrderID,
		Continuous:    c.Continuous,
		ProviderID:    c.ProviderID,
		TransferredBy: c.TransferredBy,
	}
}

type CreateClaimRequest struct {
	Key          claims.Key `json:"key"`
	TicketID     string     `json:"ticket_id,omitempty"`
	CustomerID   string     `json:"customer_id,omitempty"`
	CustomerName string     `json:"customer_name,omitempty"`
	OrderID      string     `json:"order_id,omitempty"`
	Continuous   bool       `json:"continuous,omitempty"`
	ProviderID   string     `json:"provider_id,omitempty"`
}

type CreateClaimResponse struct {
	Claim Claim `json:"claim"`
}

type RemoveClaimRequest struct {
	Key    claims.Key `json:"key"`
	Reason string     `json:"reason"`
}

type RemoveClaimResponse struct{}

type TransferClaimRequest struct {
	Key          claims.Key `json:"key"`
	TargetUserID string     `json:"target_user_id"`
}

type TransferClaimResponse struct{}

type ListClaimsRequest struct{}

type ListClaimsResponse struct {
	Claims []Claim `json:"claims"`
}

type LookupRequest struct {
	Key claims.Key `json:"key"`
}

type LookupResponse struct {
	CustomerID    string `json:"customer_id"`
	CustomerName  string `json:"customer_name"`
	ClaimedUserID string `json:"claimed_user_id,omitempty"`
}

type SweepUnreadRequest struct {
	Keys []claims.Key `json:"keys"`
}

type SweepUnreadResponse struct {
	Keys []claims.Key `json:"keys"`
}

type QueueCountsRequest struct{}

type QueueCountsResponse struct {
	Unclaimed int `json:"unclaimed"`
	Pending   int `json:"pending"`
}
