package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/kudosync/internal/record"
)

// Request bodies. Field sets match the service exactly.

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type roleRequest struct {
	Role string `json:"role"`
}

type projectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type sendKudosRequest struct {
	ReceiverID record.ID `json:"receiverId"`
	Amount     int64     `json:"amount"`
	Message    string    `json:"message"`
}

// Response bodies. These accept every spelling the service has used, so
// decoding is tolerant and normalization picks the populated field.

type userDTO struct {
	ID            record.ID `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Role          string    `json:"role"`
	AvatarURL     string    `json:"avatarUrl"`
	KudosBalance  int64     `json:"kudosBalance"`
	KudosReceived int64     `json:"kudosReceived"`
	StreakCount   int64     `json:"streakCount"`
}

type authResponse struct {
	userDTO
	Token string `json:"token"`
}

type assignmentDTO struct {
	EmployeeID record.ID `json:"employeeId"`
	Role       string    `json:"role"`
}

type projectDTO struct {
	ID          record.ID       `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Owner       *userDTO        `json:"owner"`
	Members     []userDTO       `json:"members"`
	Assignments []assignmentDTO `json:"assignments"`
}

type rewardDTO struct {
	ID          record.ID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Cost        int64     `json:"cost"`
	KudosCost   int64     `json:"kudosCost"`
	ImageURL    string    `json:"imageUrl"`
	IsActive    *bool     `json:"isActive"`
}

type kudosDTO struct {
	ID            record.ID `json:"id"`
	From          *userDTO  `json:"from"`
	To            *userDTO  `json:"to"`
	Sender        *userDTO  `json:"sender"`
	Receiver      *userDTO  `json:"receiver"`
	SenderID      record.ID `json:"senderId"`
	ReceiverID    record.ID `json:"receiverId"`
	Amount        int64     `json:"amount"`
	Message       string    `json:"message"`
	Timestamp     string    `json:"timestamp"`
	CreatedAt     string    `json:"createdAt"`
	IsStreakBonus bool      `json:"isStreakBonus"`
}

type redemptionDTO struct {
	ID         record.ID  `json:"id"`
	User       *userDTO   `json:"user"`
	Reward     *rewardDTO `json:"reward"`
	UserID     record.ID  `json:"userId"`
	RewardID   record.ID  `json:"rewardId"`
	KudosCost  int64      `json:"kudosCost"`
	Cost       int64      `json:"cost"`
	Status     string     `json:"status"`
	RedeemedAt string     `json:"redeemedAt"`
}

type errorResponse struct {
	Status           int               `json:"status"`
	Error            string            `json:"error"`
	Message          string            `json:"message"`
	Path             string            `json:"path"`
	ValidationErrors map[string]string `json:"validationErrors"`
	Details          []string          `json:"details"`
}

func (d userDTO) normalize() (record.User, error) {
	if d.ID == 0 {
		return record.User{}, fmt.Errorf("user without id")
	}
	role, err := record.ParseRole(d.Role)
	if err != nil {
		return record.User{}, fmt.Errorf("user %d: %w", d.ID, err)
	}
	if d.KudosBalance < 0 || d.KudosReceived < 0 {
		return record.User{}, fmt.Errorf("user %d: negative kudos", d.ID)
	}
	return record.User{
		ID:            d.ID,
		Name:          d.Name,
		Email:         d.Email,
		Role:          role,
		AvatarURL:     d.AvatarURL,
		KudosBalance:  d.KudosBalance,
		KudosReceived: d.KudosReceived,
		StreakCount:   d.StreakCount,
	}, nil
}

// hasMembership reports whether the response said anything about members.
// An absent field is different from an empty list.
func (d projectDTO) hasMembership() bool {
	return d.Members != nil || d.Assignments != nil
}

func (d projectDTO) normalize() (record.Project, error) {
	if d.ID == 0 {
		return record.Project{}, fmt.Errorf("project without id")
	}
	p := record.Project{ID: d.ID, Name: d.Name, Description: d.Description}
	seen := make(map[record.ID]bool)
	add := func(id record.ID, role string) error {
		if id == 0 || seen[id] {
			return nil
		}
		a := record.Assignment{EmployeeID: id}
		if role != "" {
			r, err := record.ParseRole(role)
			if err != nil {
				return fmt.Errorf("project %d member %d: %w", d.ID, id, err)
			}
			a.Role = r
		}
		seen[id] = true
		p.Assignments = append(p.Assignments, a)
		return nil
	}
	for _, a := range d.Assignments {
		if err := add(a.EmployeeID, a.Role); err != nil {
			return record.Project{}, err
		}
	}
	// Members carry the user's own role, which staffing falls back to.
	for _, m := range d.Members {
		if err := add(m.ID, ""); err != nil {
			return record.Project{}, err
		}
	}
	return p, nil
}

func (d rewardDTO) active() bool {
	return d.IsActive == nil || *d.IsActive
}

func (d rewardDTO) normalize() (record.Reward, error) {
	cost := d.Cost
	if cost == 0 {
		cost = d.KudosCost
	}
	if d.ID == 0 {
		return record.Reward{}, fmt.Errorf("reward without id")
	}
	if cost <= 0 {
		return record.Reward{}, fmt.Errorf("reward %d: non-positive cost %d", d.ID, cost)
	}
	return record.Reward{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Cost:        cost,
		ImageURL:    d.ImageURL,
	}, nil
}

func (d kudosDTO) normalize() (record.KudosTransaction, error) {
	sender := pickID(d.SenderID, d.From, d.Sender)
	receiver := pickID(d.ReceiverID, d.To, d.Receiver)
	if d.ID == 0 || sender == 0 || receiver == 0 {
		return record.KudosTransaction{}, fmt.Errorf("kudos %d: missing id, sender or receiver", d.ID)
	}
	if d.Amount <= 0 {
		return record.KudosTransaction{}, fmt.Errorf("kudos %d: non-positive amount %d", d.ID, d.Amount)
	}
	ts, err := parseTime(firstNonEmpty(d.Timestamp, d.CreatedAt))
	if err != nil {
		return record.KudosTransaction{}, fmt.Errorf("kudos %d: %w", d.ID, err)
	}
	return record.KudosTransaction{
		ID:          d.ID,
		SenderID:    sender,
		ReceiverID:  receiver,
		Amount:      d.Amount,
		Message:     d.Message,
		Timestamp:   ts,
		StreakBonus: d.IsStreakBonus,
	}, nil
}

func (d redemptionDTO) normalize() (record.Redemption, error) {
	userID := pickID(d.UserID, d.User)
	var rewardID record.ID
	if d.Reward != nil {
		rewardID = d.Reward.ID
	}
	if rewardID == 0 {
		rewardID = d.RewardID
	}
	cost := d.KudosCost
	if cost == 0 {
		cost = d.Cost
	}
	if cost == 0 && d.Reward != nil {
		cost = d.Reward.Cost
		if cost == 0 {
			cost = d.Reward.KudosCost
		}
	}
	if d.ID == 0 {
		return record.Redemption{}, fmt.Errorf("redemption without id")
	}
	ts, err := parseTime(d.RedeemedAt)
	if err != nil {
		return record.Redemption{}, fmt.Errorf("redemption %d: %w", d.ID, err)
	}
	return record.Redemption{
		ID:         d.ID,
		UserID:     userID,
		RewardID:   rewardID,
		Cost:       cost,
		Status:     d.Status,
		RedeemedAt: ts,
	}, nil
}

func pickID(flat record.ID, nested ...*userDTO) record.ID {
	for _, n := range nested {
		if n != nil && n.ID != 0 {
			return n.ID
		}
	}
	return flat
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}

// localLayout is a zone-less timestamp as serialized by the service. Such
// timestamps are read as UTC.
const localLayout = "2006-01-02T15:04:05.999999999"

// parseTime accepts RFC 3339 and zone-less timestamps. Empty is the zero time.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(localLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q", s)
	}
	return t, nil
}
