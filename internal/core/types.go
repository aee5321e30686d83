package core

import "math"

// UnitID is the stable identifier of one dataset row. It survives resampling,
// shuffling and fold partitioning and is never inferred from a row position.
type UnitID int64

// Arm is the treatment status of a unit.
type Arm uint8

const (
	Control Arm = 0
	Treated Arm = 1
)

// Arms lists both arms in storage order.
var Arms = [2]Arm{Control, Treated}

func (a Arm) String() string {
	if a == Treated {
		return "treated"
	}
	return "control"
}

// Opposite returns the other arm.
func (a Arm) Opposite() Arm {
	return 1 - a
}

// ArmFromFloat converts a 0/1 treatment value. ok is false for anything else.
func ArmFromFloat(v float64) (arm Arm, ok bool) {
	switch v {
	case 0:
		return Control, true
	case 1:
		return Treated, true
	default:
		return Control, false
	}
}

// Missing is the value recorded for a unit whose estimate is not available.
func Missing() float64 {
	return math.NaN()
}

// IsMissing reports whether v marks a missing estimate.
func IsMissing(v float64) bool {
	return math.IsNaN(v)
}
