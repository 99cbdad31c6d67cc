package chain

import "time"

// Status is the persisted form of a chain's state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// ParseStatus converts a stored status string back into a Status.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusActive, StatusCompleted, StatusExpired:
		return Status(s), true
	}
	return "", false
}

// Terminal reports whether no further transition can leave this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired
}

// State is the closed set of chain states. Only the types in this package
// implement it: Pending, Active, Completed and Expired.
type State interface {
	Status() Status
	sealed()
}

// Pending chains wait for their trigger time.
type Pending struct{}

// Active chains accept review completions.
type Active struct {
	Since time.Time
}

// Completed chains had every obligation fulfilled.
type Completed struct {
	At time.Time
}

// Expired chains passed their expire time while still active.
type Expired struct {
	At time.Time
}

func (Pending) Status() Status   { return StatusPending }
func (Active) Status() Status    { return StatusActive }
func (Completed) Status() Status { return StatusCompleted }
func (Expired) Status() Status   { return StatusExpired }

func (Pending) sealed()   {}
func (Active) sealed()    {}
func (Completed) sealed() {}
func (Expired) sealed()   {}

// Completion records one reviewer fulfilling their obligation.
type Completion struct {
	ReviewerID  string    `json:"reviewerId"`
	RevieweeID  string    `json:"revieweeId"`
	CompletedAt time.Time `json:"completedAt"`
}

// Assignment is one review obligation: Reviewer reviews Reviewee.
type Assignment struct {
	ReviewerID string `json:"reviewerId"`
	RevieweeID string `json:"revieweeId"`
}

// ReviewChain is the peer-review obligation set for one finished activity.
type ReviewChain struct {
	ID             string
	ActivityID     string
	UserSequence   []string
	State          State
	TriggerTime    time.Time
	ExpireTime     time.Time
	CompletedCount int
	TotalCount     int
	Completions    []Completion
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Status is shorthand for c.State.Status().
func (c *ReviewChain) Status() Status {
	if c.State == nil {
		return StatusPending
	}
	return c.State.Status()
}

// Assignments returns the obligations of the chain. Each participant reviews
// the next one in the sequence and the last reviews the first.
func (c *ReviewChain) Assignments() []Assignment {
	n := len(c.UserSequence)
	out := make([]Assignment, 0, n)
	for i, reviewer := range c.UserSequence {
		out = append(out, Assignment{ReviewerID: reviewer, RevieweeID: c.UserSequence[(i+1)%n]})
	}
	return out
}

// revieweeOf returns who reviewerID must review, or false when reviewerID is
// not part of the chain.
func (c *ReviewChain) revieweeOf(reviewerID string) (string, bool) {
	n := len(c.UserSequence)
	for i, id := range c.UserSequence {
		if id == reviewerID {
			return c.UserSequence[(i+1)%n], true
		}
	}
	return "", false
}

func (c *ReviewChain) hasCompleted(reviewerID string) bool {
	for _, done := range c.Completions {
		if done.ReviewerID == reviewerID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so stores never share slices with callers.
func (c *ReviewChain) Clone() *ReviewChain {
	if c == nil {
		return nil
	}
	cp := *c
	cp.UserSequence = append([]string(nil), c.UserSequence...)
	cp.Completions = append([]Completion(nil), c.Completions...)
	return &cp
}

// CreateInput is the request to build a chain for a finished activity.
type CreateInput struct {
	ActivityID     string
	ParticipantIDs []string
	// EndedAt is when the activity finished. Zero means now.
	EndedAt time.Time
}

// ListFilter narrows List results. Zero values mean no filter.
type ListFilter struct {
	ActivityID string
	Status     Status
	// DueBefore keeps chains whose relevant deadline is at or before the
	// time: TriggerTime for pending chains, ExpireTime for active ones.
	DueBefore time.Time
	Limit     int
}
