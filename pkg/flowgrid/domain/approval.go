package domain

import "time"

// ApproverStatus is the state of one approver slot in a chain.
type ApproverStatus string

const (
	ApproverPending  ApproverStatus = "pending"
	ApproverApproved ApproverStatus = "approved"
	ApproverRejected ApproverStatus = "rejected"
	ApproverSkipped  ApproverStatus = "skipped"
)

// ChainStatus is the aggregate state of an approval chain.
type ChainStatus string

const (
	ChainPending  ChainStatus = "pending"
	ChainApproved ChainStatus = "approved"
	ChainRejected ChainStatus = "rejected"
)

// Approver is one slot in an approval chain. Slots are embedded in the chain
// aggregate and share its consistency scope.
type Approver struct {
	UserID    string         `json:"userId"`
	Order     int            `json:"order"`
	Status    ApproverStatus `json:"status"`
	Decision  string         `json:"decision,omitempty"`
	Comments  string         `json:"comments,omitempty"`
	Deadline  *time.Time     `json:"deadline,omitempty"`
	DecidedAt *time.Time     `json:"decidedAt,omitempty"`
}

// ApprovalChain coordinates the approver set of one approval step of one
// instance. RequireAll means unanimous approval; otherwise the first approval
// wins. Sequential hands the chain to one approver at a time; otherwise all
// approvers are addressed concurrently. CurrentIndex is only meaningful in
// sequential mode.
type ApprovalChain struct {
	ID           int64
	ExternalID   string
	InstanceID   int64
	StepID       string
	RequireAll   bool
	Sequential   bool
	Status       ChainStatus
	CurrentIndex int
	Approvers    []Approver
	Version      int64
	Created      time.Time
	Modified     time.Time
}

// ApproverByUser returns the slot index for the given user, or -1.
func (c *ApprovalChain) ApproverByUser(userID string) int {
	for i := range c.Approvers {
		if c.Approvers[i].UserID == userID {
			return i
		}
	}
	return -1
}

// PendingCount returns the number of undecided slots.
func (c *ApprovalChain) PendingCount() int {
	n := 0
	for i := range c.Approvers {
		if c.Approvers[i].Status == ApproverPending {
			n++
		}
	}
	return n
}
