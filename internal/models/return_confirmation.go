package models

import "time"

// ReturnConfirmation is one party's claim about the condition of the
// returned item. A party may revise its claim until the counterpart
// acknowledges; revisions supersede the previous row instead of deleting it.
type ReturnConfirmation struct {
	ID         int       `json:"id"`
	BookingID  int       `json:"booking_id"`
	Party      string    `json:"party"` // lessor | lessee
	HasDamage  bool      `json:"has_damage"`
	Seq        int       `json:"seq"`
	Superseded bool      `json:"-"`
	Frozen     bool      `json:"frozen"`
	CreatedAt  time.Time `json:"created_at"`
}

// ConfirmationStatus is returned to the submitting party after each
// submission.
type ConfirmationStatus struct {
	Count        int  `json:"confirmation_count"`
	Acknowledged bool `json:"acknowledged"`
	Matched      bool `json:"matched"`
	HasDamage    bool `json:"has_damage"`
}
