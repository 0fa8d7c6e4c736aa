package record

import (
	"strconv"
	"time"
)

// ID identifies a record within its collection.
// The service issues numeric ids; ordering ties are broken by ascending ID.
type ID int64

// String renders the id in decimal.
func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseID parses a decimal record id.
func ParseID(s string) (ID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return ID(n), nil
}

// Collection names one mirrored record collection.
type Collection string

const (
	Users       Collection = "users"
	Projects    Collection = "projects"
	Rewards     Collection = "rewards"
	Kudos       Collection = "kudos"
	Redemptions Collection = "redemptions"
)

// Collections lists every collection in a fixed order.
func Collections() []Collection {
	return []Collection{Users, Projects, Rewards, Kudos, Redemptions}
}

// Record is implemented by every mirrored record type.
type Record interface {
	RecordID() ID
}

// User is an employee as known to the mirror.
//
// KudosBalance is spendable and is debited by sends and redemptions.
// KudosReceived only grows, and only on confirmed receipts.
type User struct {
	ID            ID     `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email,omitempty"`
	Role          Role   `json:"role"`
	AvatarURL     string `json:"avatarUrl,omitempty"`
	KudosBalance  int64  `json:"kudosBalance"`
	KudosReceived int64  `json:"kudosReceived"`
	StreakCount   int64  `json:"streakCount"`
}

func (u User) RecordID() ID { return u.ID }

// Assignment places an employee on a project in a given role.
type Assignment struct {
	EmployeeID ID   `json:"employeeId"`
	Role       Role `json:"role"`
}

// Project groups employees through assignments.
// At most one assignment exists per employee.
type Project struct {
	ID          ID           `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Assignments []Assignment `json:"assignments,omitempty"`
}

func (p Project) RecordID() ID { return p.ID }

// Assignment returns the employee's assignment on the project, if any.
func (p Project) Assignment(employeeID ID) (Assignment, bool) {
	for _, a := range p.Assignments {
		if a.EmployeeID == employeeID {
			return a, true
		}
	}
	return Assignment{}, false
}

// HasMember reports whether the employee is assigned to the project.
func (p Project) HasMember(employeeID ID) bool {
	_, ok := p.Assignment(employeeID)
	return ok
}

// Clone returns a copy that shares no memory with p.
func (p Project) Clone() Project {
	if p.Assignments != nil {
		p.Assignments = append([]Assignment(nil), p.Assignments...)
	}
	return p
}

// Reward is a catalogue item bought with kudos balance.
type Reward struct {
	ID          ID     `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Cost        int64  `json:"cost"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

func (r Reward) RecordID() ID { return r.ID }

// KudosTransaction is a confirmed transfer of kudos between two employees.
// Amount is what the receiver was credited, which includes any streak bonus.
type KudosTransaction struct {
	ID          ID        `json:"id"`
	SenderID    ID        `json:"senderId"`
	ReceiverID  ID        `json:"receiverId"`
	Amount      int64     `json:"amount"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	StreakBonus bool      `json:"streakBonus,omitempty"`
}

func (k KudosTransaction) RecordID() ID { return k.ID }

// Redemption is a confirmed purchase of a reward.
type Redemption struct {
	ID         ID        `json:"id"`
	UserID     ID        `json:"userId"`
	RewardID   ID        `json:"rewardId"`
	Cost       int64     `json:"cost"`
	Status     string    `json:"status,omitempty"`
	RedeemedAt time.Time `json:"redeemedAt"`
}

func (r Redemption) RecordID() ID { return r.ID }
