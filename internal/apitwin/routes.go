package apitwin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"

	"github.com/roach88/kudosync/internal/record"
)

// localLayout matches the service's zone-less timestamps.
const localLayout = "2006-01-02T15:04:05"

// leaderboardSize caps the leaderboard response.
const leaderboardSize = 10

type userBody struct {
	ID            record.ID `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Role          string    `json:"role"`
	AvatarURL     string    `json:"avatarUrl,omitempty"`
	KudosBalance  int64     `json:"kudosBalance"`
	KudosReceived int64     `json:"kudosReceived"`
	StreakCount   int64     `json:"streakCount"`
}

type authBody struct {
	userBody
	Token string `json:"token"`
}

type projectBody struct {
	ID          record.ID  `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	CreatedAt   string     `json:"createdAt"`
	UpdatedAt   string     `json:"updatedAt"`
	Owner       *userBody  `json:"owner,omitempty"`
	Members     []userBody `json:"members,omitempty"`
}

type rewardBody struct {
	ID          record.ID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	KudosCost   int64     `json:"kudosCost"`
	ImageURL    string    `json:"imageUrl,omitempty"`
}

type kudosBody struct {
	ID            record.ID `json:"id"`
	Sender        userBody  `json:"sender"`
	Receiver      userBody  `json:"receiver"`
	Amount        int64     `json:"amount"`
	Message       string    `json:"message"`
	CreatedAt     string    `json:"createdAt"`
	IsStreakBonus bool      `json:"isStreakBonus"`
}

type redemptionBody struct {
	ID         record.ID `json:"id"`
	KudosCost  int64     `json:"kudosCost"`
	Status     string    `json:"status"`
	RedeemedAt string    `json:"redeemedAt"`
}

type errorBody struct {
	Timestamp        string            `json:"timestamp"`
	Status           int               `json:"status"`
	Error            string            `json:"error"`
	Message          string            `json:"message"`
	Path             string            `json:"path"`
	ValidationErrors map[string]string `json:"validationErrors,omitempty"`
}

type ctxKey struct{}

// Handler returns the HTTP API.
func (t *Twin) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(t.faultInjection)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", t.login)
		r.Post("/auth/register", t.register)

		r.Group(func(r chi.Router) {
			r.Use(t.authenticate)

			r.Get("/auth/me", t.me)
			r.Get("/users/", t.listUsers)
			r.With(t.requireAdmin).Patch("/users/{id}/role", t.updateRole)

			r.Get("/projects/", t.listProjects)
			r.Post("/projects/", t.createProject)
			r.Put("/projects/{id}", t.updateProject)
			r.With(t.requireAdmin).Delete("/projects/{id}", t.deleteProject)

			r.Post("/kudos/send", t.sendKudos)
			r.Get("/kudos/feed", t.feed)
			r.Get("/kudos/leaderboard", t.leaderboard)

			r.Get("/rewards/", t.listRewards)
			r.Post("/rewards/{id}/redeem", t.redeem)
		})
	})
	return r
}

func (t *Twin) faultInjection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := t.takeFault(r.Method, r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		if f.delay > 0 {
			select {
			case <-time.After(f.delay):
			case <-r.Context().Done():
				return
			}
		}
		if f.status != 0 {
			t.fail(w, r, f.status, "injected fault")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IssueToken signs a bearer token for a user.
func (t *Twin) IssueToken(userID record.ID) (string, error) {
	now := t.now()
	claims := jwt.MapClaims{
		"sub": userID.String(),
		"iat": now.Unix(),
		"exp": now.Add(t.tokenTTL).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (t *Twin) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" || raw == r.Header.Get("Authorization") {
			t.fail(w, r, http.StatusUnauthorized, "Full authentication is required to access this resource")
			return
		}

		tok, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return t.secret, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithTimeFunc(t.now))
		if err != nil {
			t.fail(w, r, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		sub, err := tok.Claims.GetSubject()
		if err != nil {
			t.fail(w, r, http.StatusUnauthorized, "Invalid token subject")
			return
		}
		id, err := record.ParseID(sub)
		if err != nil {
			t.fail(w, r, http.StatusUnauthorized, "Invalid token subject")
			return
		}
		if _, ok := t.User(id); !ok {
			t.fail(w, r, http.StatusUnauthorized, "Account no longer exists")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func (t *Twin) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, _ := t.User(caller(r))
		if u.Role != record.RoleAdmin {
			t.fail(w, r, http.StatusForbidden, "Access Denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func caller(r *http.Request) record.ID {
	id, _ := r.Context().Value(ctxKey{}).(record.ID)
	return id
}

func (t *Twin) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !t.decode(w, r, &req) {
		return
	}

	t.mu.Lock()
	var (
		u     record.User
		found bool
	)
	for _, a := range t.accounts {
		if strings.EqualFold(a.user.Email, req.Email) && a.password == req.Password {
			u, found = a.user, true
			break
		}
	}
	t.mu.Unlock()

	if !found {
		t.fail(w, r, http.StatusUnauthorized, "Bad credentials")
		return
	}
	t.respondAuth(w, r, u)
}

func (t *Twin) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !t.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" || req.Password == "" {
		t.invalid(w, r, map[string]string{"name": "required", "email": "required", "password": "required"})
		return
	}

	t.mu.Lock()
	for _, a := range t.accounts {
		if strings.EqualFold(a.user.Email, req.Email) {
			t.mu.Unlock()
			t.fail(w, r, http.StatusBadRequest, "Email is already taken")
			return
		}
	}
	u := record.User{
		ID:           t.allocID(),
		Name:         req.Name,
		Email:        req.Email,
		Role:         record.RoleUser,
		KudosBalance: InitialBalance,
	}
	t.accounts[u.ID] = &account{user: u, password: req.Password}
	t.mu.Unlock()

	t.respondAuth(w, r, u)
}

func (t *Twin) me(w http.ResponseWriter, r *http.Request) {
	u, _ := t.User(caller(r))
	t.respondAuth(w, r, u)
}

func (t *Twin) respondAuth(w http.ResponseWriter, r *http.Request, u record.User) {
	tok, err := t.IssueToken(u.ID)
	if err != nil {
		t.fail(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, authBody{userBody: toUserBody(u), Token: tok})
}

func (t *Twin) listUsers(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	users := t.sortedUsers()
	t.mu.Unlock()

	out := make([]userBody, 0, len(users))
	for _, u := range users {
		out = append(out, toUserBody(u))
	}
	writeJSON(w, http.StatusOK, out)
}

func (t *Twin) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := t.pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Role string `json:"role"`
	}
	if !t.decode(w, r, &req) {
		return
	}
	role, err := record.ParseRole(req.Role)
	if err != nil {
		t.invalid(w, r, map[string]string{"role": err.Error()})
		return
	}

	t.mu.Lock()
	a, found := t.accounts[id]
	var u record.User
	if found {
		a.user.Role = role
		u = a.user
	}
	t.mu.Unlock()

	if !found {
		t.fail(w, r, http.StatusNotFound, fmt.Sprintf("User not found with id : '%d'", id))
		return
	}
	writeJSON(w, http.StatusOK, toUserBody(u))
}

func (t *Twin) listProjects(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	ids := make([]record.ID, 0, len(t.projects))
	for id := range t.projects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]projectBody, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.projectBodyLocked(t.projects[id]))
	}
	t.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

type projectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (t *Twin) createProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if !t.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		t.invalid(w, r, map[string]string{"name": "Project name is required"})
		return
	}

	t.mu.Lock()
	now := t.now()
	p := &project{
		Project:   record.Project{ID: t.allocID(), Name: req.Name, Description: req.Description},
		ownerID:   caller(r),
		createdAt: now,
		updatedAt: now,
	}
	t.projects[p.ID] = p
	body := t.projectBodyLocked(p)
	t.mu.Unlock()

	writeJSON(w, http.StatusOK, body)
}

func (t *Twin) updateProject(w http.ResponseWriter, r *http.Request) {
	id, ok := t.pathID(w, r)
	if !ok {
		return
	}
	var req projectRequest
	if !t.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		t.invalid(w, r, map[string]string{"name": "Project name is required"})
		return
	}

	t.mu.Lock()
	p, found := t.projects[id]
	var body projectBody
	if found {
		p.Name = req.Name
		p.Description = req.Description
		p.updatedAt = t.now()
		body = t.projectBodyLocked(p)
	}
	t.mu.Unlock()

	if !found {
		t.fail(w, r, http.StatusNotFound, fmt.Sprintf("Project not found with id : '%d'", id))
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (t *Twin) deleteProject(w http.ResponseWriter, r *http.Request) {
	id, ok := t.pathID(w, r)
	if !ok {
		return
	}
	t.mu.Lock()
	_, found := t.projects[id]
	delete(t.projects, id)
	t.mu.Unlock()

	if !found {
		t.fail(w, r, http.StatusNotFound, fmt.Sprintf("Project not found with id : '%d'", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (t *Twin) projectBodyLocked(p *project) projectBody {
	body := projectBody{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		CreatedAt:   p.createdAt.UTC().Format(localLayout),
		UpdatedAt:   p.updatedAt.UTC().Format(localLayout),
	}
	if owner, ok := t.accounts[p.ownerID]; ok {
		ub := toUserBody(owner.user)
		body.Owner = &ub
	}
	for _, a := range p.Assignments {
		if m, ok := t.accounts[a.EmployeeID]; ok {
			body.Members = append(body.Members, toUserBody(m.user))
		}
	}
	return body
}

func (t *Twin) sendKudos(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReceiverID record.ID `json:"receiverId"`
		Amount     int64     `json:"amount"`
		Message    string    `json:"message"`
	}
	if !t.decode(w, r, &req) {
		return
	}
	if req.ReceiverID == 0 || req.Amount < 1 {
		t.invalid(w, r, map[string]string{"amount": "Amount must be at least 1"})
		return
	}

	t.mu.Lock()
	sender := t.accounts[caller(r)]
	status, msg, body := t.transferLocked(sender, req.ReceiverID, req.Amount, req.Message)
	t.mu.Unlock()

	if status != http.StatusOK {
		t.fail(w, r, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// transferLocked applies the server's kudos rules. A sender who already sent
// today earns the receiver a bonus of a tenth of the amount, at least one.
func (t *Twin) transferLocked(sender *account, receiverID record.ID, amount int64, message string) (int, string, kudosBody) {
	if sender.user.ID == receiverID {
		return http.StatusBadRequest, "Cannot send kudos to yourself", kudosBody{}
	}
	receiver, ok := t.accounts[receiverID]
	if !ok {
		return http.StatusNotFound, fmt.Sprintf("User not found with id : '%d'", receiverID), kudosBody{}
	}
	if sender.user.KudosBalance < amount {
		return http.StatusBadRequest, "Insufficient kudos balance", kudosBody{}
	}

	now := t.now()
	streak := t.sentSinceLocked(sender.user.ID, startOfDay(now))
	total := amount
	if streak {
		bonus := amount / 10
		if bonus < 1 {
			bonus = 1
		}
		total += bonus
		sender.user.StreakCount++
	} else {
		sender.user.StreakCount = 1
	}
	sender.user.KudosBalance -= amount
	receiver.user.KudosReceived += total

	k := record.KudosTransaction{
		ID:          t.allocID(),
		SenderID:    sender.user.ID,
		ReceiverID:  receiverID,
		Amount:      total,
		Message:     message,
		Timestamp:   now,
		StreakBonus: streak,
	}
	t.kudos = append(t.kudos, k)
	return http.StatusOK, "", t.kudosBodyLocked(k)
}

func (t *Twin) sentSinceLocked(sender record.ID, since time.Time) bool {
	for _, k := range t.kudos {
		if k.SenderID == sender && !k.Timestamp.Before(since) {
			return true
		}
	}
	return false
}

func startOfDay(ts time.Time) time.Time {
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, ts.Location())
}

func (t *Twin) kudosBodyLocked(k record.KudosTransaction) kudosBody {
	body := kudosBody{
		ID:            k.ID,
		Amount:        k.Amount,
		Message:       k.Message,
		CreatedAt:     k.Timestamp.UTC().Format(localLayout),
		IsStreakBonus: k.StreakBonus,
	}
	if a, ok := t.accounts[k.SenderID]; ok {
		body.Sender = toUserBody(a.user)
	} else {
		body.Sender = userBody{ID: k.SenderID}
	}
	if a, ok := t.accounts[k.ReceiverID]; ok {
		body.Receiver = toUserBody(a.user)
	} else {
		body.Receiver = userBody{ID: k.ReceiverID}
	}
	return body
}

func (t *Twin) feed(w http.ResponseWriter, r *http.Request) {
	page, err1 := queryInt(r, "page", 0)
	size, err2 := queryInt(r, "size", 20)
	if err := errors.Join(err1, err2); err != nil || page < 0 || size < 1 {
		t.fail(w, r, http.StatusBadRequest, "Invalid page request")
		return
	}

	t.mu.Lock()
	all := append([]record.KudosTransaction(nil), t.kudos...)
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].Timestamp.After(all[j].Timestamp)
		}
		return all[i].ID > all[j].ID
	})
	out := []kudosBody{}
	for i := page * size; i < len(all) && i < (page+1)*size; i++ {
		out = append(out, t.kudosBodyLocked(all[i]))
	}
	t.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (t *Twin) leaderboard(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	users := t.sortedUsers()
	t.mu.Unlock()

	sort.SliceStable(users, func(i, j int) bool { return users[i].KudosReceived > users[j].KudosReceived })
	if len(users) > leaderboardSize {
		users = users[:leaderboardSize]
	}
	out := make([]userBody, 0, len(users))
	for _, u := range users {
		out = append(out, toUserBody(u))
	}
	writeJSON(w, http.StatusOK, out)
}

func (t *Twin) listRewards(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	out := make([]rewardBody, 0, len(t.rewards))
	for _, rw := range t.rewards {
		out = append(out, rewardBody{ID: rw.ID, Name: rw.Name, Description: rw.Description, KudosCost: rw.Cost, ImageURL: rw.ImageURL})
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (t *Twin) redeem(w http.ResponseWriter, r *http.Request) {
	id, ok := t.pathID(w, r)
	if !ok {
		return
	}

	t.mu.Lock()
	reward, found := t.rewards[id]
	user := t.accounts[caller(r)]
	var (
		status = http.StatusOK
		msg    string
		body   redemptionBody
	)
	switch {
	case !found:
		status, msg = http.StatusNotFound, fmt.Sprintf("Reward not found with id : '%d'", id)
	case user.user.KudosBalance < reward.Cost:
		status, msg = http.StatusBadRequest, "Not enough kudos to redeem this reward"
	default:
		user.user.KudosBalance -= reward.Cost
		rd := record.Redemption{
			ID:         t.allocID(),
			UserID:     user.user.ID,
			RewardID:   reward.ID,
			Cost:       reward.Cost,
			Status:     "COMPLETED",
			RedeemedAt: t.now(),
		}
		t.redemptions = append(t.redemptions, rd)
		body = redemptionBody{ID: rd.ID, KudosCost: rd.Cost, Status: rd.Status, RedeemedAt: rd.RedeemedAt.UTC().Format(localLayout)}
	}
	t.mu.Unlock()

	if status != http.StatusOK {
		t.fail(w, r, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (t *Twin) pathID(w http.ResponseWriter, r *http.Request) (record.ID, bool) {
	id, err := record.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		t.fail(w, r, http.StatusBadRequest, "Invalid id")
		return 0, false
	}
	return id, true
}

func (t *Twin) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		t.fail(w, r, http.StatusBadRequest, "Malformed JSON request")
		return false
	}
	return true
}

func (t *Twin) invalid(w http.ResponseWriter, r *http.Request, problems map[string]string) {
	writeJSON(w, http.StatusBadRequest, errorBody{
		Timestamp:        t.now().UTC().Format(localLayout),
		Status:           http.StatusBadRequest,
		Error:            http.StatusText(http.StatusBadRequest),
		Message:          "Validation failed",
		Path:             r.URL.Path,
		ValidationErrors: problems,
	})
}

func (t *Twin) fail(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, errorBody{
		Timestamp: t.now().UTC().Format(localLayout),
		Status:    status,
		Error:     http.StatusText(status),
		Message:   message,
		Path:      r.URL.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func toUserBody(u record.User) userBody {
	return userBody{
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		Role:          string(u.Role),
		AvatarURL:     u.AvatarURL,
		KudosBalance:  u.KudosBalance,
		KudosReceived: u.KudosReceived,
		StreakCount:   u.StreakCount,
	}
}
