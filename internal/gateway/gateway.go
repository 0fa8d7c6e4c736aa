// Package gateway is the only component that talks to the remote service.
//
// Every operation sends one request through a Transport, maps the outcome onto
// the fault taxonomy, and normalizes the response into records. Fetches
// replace whole collections in the store; CRUD responses are applied as
// deltas. SendKudos and Redeem only return the confirmed record: the
// coordinator owns the confirm write.
//
// Status mapping:
//
//	2xx           success
//	401, 403      Unauthorized (session cleared, session-expired emitted)
//	400, 404, 409 Conflict
//	422           Validation
//	other         Server
//	no response   Unreachable
//
// Nothing is retried here.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/kudosync/internal/events"
	"github.com/roach88/kudosync/internal/fault"
	"github.com/roach88/kudosync/internal/record"
	"github.com/roach88/kudosync/internal/session"
	"github.com/roach88/kudosync/internal/store"
)

// Operation names used in fault.Error.Op and logs.
const (
	OpLogin            = "login"
	OpRegister         = "register"
	OpRefreshSession   = "refresh-session"
	OpFetchUsers       = "fetch-users"
	OpFetchProjects    = "fetch-projects"
	OpFetchRewards     = "fetch-rewards"
	OpFetchFeed        = "fetch-feed"
	OpFetchLeaderboard = "fetch-leaderboard"
	OpUpdateRole       = "update-role"
	OpCreateProject    = "create-project"
	OpUpdateProject    = "update-project"
	OpDeleteProject    = "delete-project"
	OpSendKudos        = "send-kudos"
	OpRedeem           = "redeem-reward"
)

// DefaultFeedSize is the page size Sync uses for the kudos feed.
const DefaultFeedSize = 50

// Gateway maps service calls onto store writes and typed failures.
//
// Thread-safety: safe for concurrent use; state lives in the store and the
// session, which are themselves safe.
type Gateway struct {
	transport Transport
	store     *store.Store
	session   *session.State
	notifier  events.Notifier
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithNotifier sets where session-expired and CRUD events go.
func WithNotifier(n events.Notifier) Option {
	return func(g *Gateway) { g.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithClock sets the time source for defaulted timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New creates a gateway writing into s and authenticating through sess.
func New(t Transport, s *store.Store, sess *session.State, opts ...Option) *Gateway {
	g := &Gateway{
		transport: t,
		store:     s,
		session:   sess,
		notifier:  events.Discard,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Session returns the session state the gateway authenticates with.
func (g *Gateway) Session() *session.State { return g.session }

// Login authenticates and replaces the session identity.
func (g *Gateway) Login(ctx context.Context, email, password string) (record.User, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return record.User{}, fault.Validation(OpLogin, "email and password are required")
	}
	var resp authResponse
	if err := g.call(ctx, OpLogin, http.MethodPost, "/api/auth/login", false,
		loginRequest{Email: email, Password: password}, &resp); err != nil {
		return record.User{}, err
	}
	return g.establish(OpLogin, resp, "")
}

// Register creates an account and signs in as it.
func (g *Gateway) Register(ctx context.Context, name, email, password string) (record.User, error) {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(email) == "" || password == "" {
		return record.User{}, fault.Validation(OpRegister, "name, email and password are required")
	}
	var resp authResponse
	if err := g.call(ctx, OpRegister, http.MethodPost, "/api/auth/register", false,
		registerRequest{Name: name, Email: email, Password: password}, &resp); err != nil {
		return record.User{}, err
	}
	return g.establish(OpRegister, resp, "")
}

// RefreshSession reloads the identity for the stored token.
func (g *Gateway) RefreshSession(ctx context.Context) (record.User, error) {
	token, _ := g.session.Token()
	var resp authResponse
	if err := g.call(ctx, OpRefreshSession, http.MethodGet, "/api/auth/me", true, nil, &resp); err != nil {
		return record.User{}, err
	}
	return g.establish(OpRefreshSession, resp, token)
}

// Logout clears the session. No request is made.
func (g *Gateway) Logout() error {
	return g.session.Clear()
}

func (g *Gateway) establish(op string, resp authResponse, fallbackToken string) (record.User, error) {
	u, err := resp.userDTO.normalize()
	if err != nil {
		return record.User{}, malformed(op, err)
	}
	token := resp.Token
	if token == "" {
		token = fallbackToken
	}
	if token == "" {
		return record.User{}, fault.Server(op, http.StatusOK, "auth response carried no token")
	}
	if err := g.session.Establish(session.IdentityOf(u), token); err != nil {
		return record.User{}, fault.Wrap(fault.KindServer, op, err)
	}

	// A live debit against this user is newer than the server's balance.
	if g.store.Held(u.ID) == 0 {
		if err := g.store.Apply(store.PutUser(u)); err != nil {
			g.logger.Warn("could not mirror signed-in user", "user", u.ID, "error", err)
		}
	}
	g.logger.Debug("session established", "op", op, "user", u.ID)
	return u, nil
}

// FetchUsers replaces the users collection.
func (g *Gateway) FetchUsers(ctx context.Context) ([]record.User, error) {
	users, _, err := g.fetchUsers(ctx)
	return users, err
}

func (g *Gateway) fetchUsers(ctx context.Context) ([]record.User, store.ReplaceReport, error) {
	var dtos []userDTO
	if err := g.call(ctx, OpFetchUsers, http.MethodGet, "/api/users/", true, nil, &dtos); err != nil {
		return nil, store.ReplaceReport{}, err
	}
	users, err := normalizeUsers(dtos)
	if err != nil {
		return nil, store.ReplaceReport{}, malformed(OpFetchUsers, err)
	}
	report, err := g.store.ReplaceUsers(users)
	if err != nil {
		return nil, store.ReplaceReport{}, malformed(OpFetchUsers, err)
	}
	for _, tok := range report.Orphaned {
		g.logger.Warn("pending debit orphaned by refresh", "flow", tok)
	}
	for _, tok := range report.Detached {
		g.logger.Warn("pending debit no longer covered by fresh balance", "flow", tok)
	}
	return users, report, nil
}

// FetchLeaderboard returns the service's ranking. It does not touch the store:
// the response may be a partial user list.
func (g *Gateway) FetchLeaderboard(ctx context.Context) ([]record.User, error) {
	var dtos []userDTO
	if err := g.call(ctx, OpFetchLeaderboard, http.MethodGet, "/api/kudos/leaderboard", true, nil, &dtos); err != nil {
		return nil, err
	}
	users, err := normalizeUsers(dtos)
	if err != nil {
		return nil, malformed(OpFetchLeaderboard, err)
	}
	return users, nil
}

// FetchProjects replaces the projects collection. A project whose response
// omits membership keeps the assignments already in the mirror.
func (g *Gateway) FetchProjects(ctx context.Context) ([]record.Project, error) {
	var dtos []projectDTO
	if err := g.call(ctx, OpFetchProjects, http.MethodGet, "/api/projects/", true, nil, &dtos); err != nil {
		return nil, err
	}
	local := g.store.Projects()
	projects := make([]record.Project, 0, len(dtos))
	for _, d := range dtos {
		p, err := g.projectFrom(d, local)
		if err != nil {
			return nil, malformed(OpFetchProjects, err)
		}
		projects = append(projects, p)
	}
	if err := g.store.ReplaceProjects(projects); err != nil {
		return nil, malformed(OpFetchProjects, err)
	}
	return projects, nil
}

func (g *Gateway) projectFrom(d projectDTO, local store.Snapshot[record.Project]) (record.Project, error) {
	p, err := d.normalize()
	if err != nil {
		return record.Project{}, err
	}
	if !d.hasMembership() {
		if prev, ok := local.Get(p.ID); ok {
			p.Assignments = prev.Assignments
		}
	}
	return p, nil
}

// FetchRewards replaces the rewards catalogue with the active rewards.
func (g *Gateway) FetchRewards(ctx context.Context) ([]record.Reward, error) {
	var dtos []rewardDTO
	if err := g.call(ctx, OpFetchRewards, http.MethodGet, "/api/rewards/", true, nil, &dtos); err != nil {
		return nil, err
	}
	rewards := make([]record.Reward, 0, len(dtos))
	for _, d := range dtos {
		if !d.active() {
			continue
		}
		r, err := d.normalize()
		if err != nil {
			return nil, malformed(OpFetchRewards, err)
		}
		rewards = append(rewards, r)
	}
	if err := g.store.ReplaceRewards(rewards); err != nil {
		return nil, malformed(OpFetchRewards, err)
	}
	return rewards, nil
}

// FetchFeed replaces the kudos collection with one feed page.
func (g *Gateway) FetchFeed(ctx context.Context, page, size int) ([]record.KudosTransaction, error) {
	if page < 0 || size <= 0 {
		return nil, fault.Validation(OpFetchFeed, "page must be >= 0 and size > 0")
	}
	var dtos []kudosDTO
	path := fmt.Sprintf("/api/kudos/feed?page=%d&size=%d", page, size)
	if err := g.call(ctx, OpFetchFeed, http.MethodGet, path, true, nil, &dtos); err != nil {
		return nil, err
	}
	feed := make([]record.KudosTransaction, 0, len(dtos))
	for _, d := range dtos {
		k, err := d.normalize()
		if err != nil {
			return nil, malformed(OpFetchFeed, err)
		}
		feed = append(feed, k)
	}
	g.store.ReplaceKudos(feed)
	return feed, nil
}

// UpdateRole changes a user's role. Only administrators may call it.
func (g *Gateway) UpdateRole(ctx context.Context, userID record.ID, role record.Role) (record.User, error) {
	if !g.session.IsAdmin() {
		return record.User{}, fault.Validation(OpUpdateRole, "only administrators can change roles")
	}
	if !role.Valid() {
		return record.User{}, fault.Validation(OpUpdateRole, fmt.Sprintf("unknown role %q", role))
	}
	var dto userDTO
	path := fmt.Sprintf("/api/users/%d/role", userID)
	if err := g.call(ctx, OpUpdateRole, http.MethodPatch, path, true, roleRequest{Role: string(role)}, &dto); err != nil {
		return record.User{}, err
	}
	u, err := dto.normalize()
	if err != nil {
		return record.User{}, malformed(OpUpdateRole, err)
	}

	op := store.SetRole(u.ID, u.Role)
	if !g.store.Users().Has(u.ID) {
		op = store.PutUser(u)
	}
	if err := g.store.Apply(op); err != nil {
		return record.User{}, fault.Wrap(fault.KindConflict, OpUpdateRole, err)
	}
	return u, nil
}

// CreateProject creates a project and adds it to the mirror.
func (g *Gateway) CreateProject(ctx context.Context, name, description string) (record.Project, error) {
	if strings.TrimSpace(name) == "" {
		return record.Project{}, fault.Validation(OpCreateProject, "project name is required")
	}
	var dto projectDTO
	if err := g.call(ctx, OpCreateProject, http.MethodPost, "/api/projects/", true,
		projectRequest{Name: name, Description: description}, &dto); err != nil {
		return record.Project{}, err
	}
	return g.saveProject(OpCreateProject, dto)
}

// UpdateProject renames or redescribes a project.
func (g *Gateway) UpdateProject(ctx context.Context, id record.ID, name, description string) (record.Project, error) {
	if strings.TrimSpace(name) == "" {
		return record.Project{}, fault.Validation(OpUpdateProject, "project name is required")
	}
	var dto projectDTO
	path := fmt.Sprintf("/api/projects/%d", id)
	if err := g.call(ctx, OpUpdateProject, http.MethodPut, path, true,
		projectRequest{Name: name, Description: description}, &dto); err != nil {
		return record.Project{}, err
	}
	return g.saveProject(OpUpdateProject, dto)
}

func (g *Gateway) saveProject(op string, dto projectDTO) (record.Project, error) {
	p, err := g.projectFrom(dto, g.store.Projects())
	if err != nil {
		return record.Project{}, malformed(op, err)
	}
	if err := g.store.Apply(store.PutProject(p)); err != nil {
		return record.Project{}, malformed(op, err)
	}
	g.notifier.Notify(events.Event{Kind: events.ProjectSaved, At: g.now(), Subject: p.ID.String()})
	return p, nil
}

// DeleteProject deletes a project and drops it from the mirror. Only
// administrators may call it.
func (g *Gateway) DeleteProject(ctx context.Context, id record.ID) error {
	if !g.session.IsAdmin() {
		return fault.Validation(OpDeleteProject, "only administrators can delete projects")
	}
	path := fmt.Sprintf("/api/projects/%d", id)
	if err := g.call(ctx, OpDeleteProject, http.MethodDelete, path, true, nil, nil); err != nil {
		return err
	}
	if err := g.store.Apply(store.DeleteProject(id)); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fault.Wrap(fault.KindConflict, OpDeleteProject, err)
	}
	g.notifier.Notify(events.Event{Kind: events.ProjectDeleted, At: g.now(), Subject: id.String()})
	return nil
}

// SendKudos asks the service to transfer kudos and returns the confirmed
// transaction. The store is not written.
func (g *Gateway) SendKudos(ctx context.Context, receiverID record.ID, amount int64, message string) (record.KudosTransaction, error) {
	var dto kudosDTO
	req := sendKudosRequest{ReceiverID: receiverID, Amount: amount, Message: message}
	if err := g.call(ctx, OpSendKudos, http.MethodPost, "/api/kudos/send", true, req, &dto); err != nil {
		return record.KudosTransaction{}, err
	}
	if dto.ReceiverID == 0 && dto.To == nil && dto.Receiver == nil {
		dto.ReceiverID = receiverID
	}
	if dto.SenderID == 0 && dto.From == nil && dto.Sender == nil {
		dto.SenderID = g.session.UserID()
	}
	k, err := dto.normalize()
	if err != nil {
		return record.KudosTransaction{}, malformed(OpSendKudos, err)
	}
	if k.Timestamp.IsZero() {
		k.Timestamp = g.now().UTC()
	}
	return k, nil
}

// Redeem asks the service to redeem a reward and returns the confirmed
// redemption. The store is not written.
func (g *Gateway) Redeem(ctx context.Context, rewardID record.ID) (record.Redemption, error) {
	var dto redemptionDTO
	path := fmt.Sprintf("/api/rewards/%d/redeem", rewardID)
	if err := g.call(ctx, OpRedeem, http.MethodPost, path, true, struct{}{}, &dto); err != nil {
		return record.Redemption{}, err
	}
	r, err := dto.normalize()
	if err != nil {
		return record.Redemption{}, malformed(OpRedeem, err)
	}
	if r.RewardID == 0 {
		r.RewardID = rewardID
	}
	if r.UserID == 0 {
		r.UserID = g.session.UserID()
	}
	if r.RedeemedAt.IsZero() {
		r.RedeemedAt = g.now().UTC()
	}
	return r, nil
}

// SyncReport summarizes a full refresh.
type SyncReport struct {
	Users    int `json:"users"`
	Projects int `json:"projects"`
	Rewards  int `json:"rewards"`
	Kudos    int `json:"kudos"`

	// Orphaned and Detached list pending flows affected by the users refresh.
	Orphaned []string `json:"orphaned,omitempty"`
	Detached []string `json:"detached,omitempty"`
}

// Sync refreshes users, projects, rewards and the first feed page, stopping
// at the first failure.
func (g *Gateway) Sync(ctx context.Context) (SyncReport, error) {
	var report SyncReport

	users, rr, err := g.fetchUsers(ctx)
	if err != nil {
		return report, err
	}
	report.Users = len(users)
	report.Orphaned = rr.Orphaned
	report.Detached = rr.Detached

	projects, err := g.FetchProjects(ctx)
	if err != nil {
		return report, err
	}
	report.Projects = len(projects)

	rewards, err := g.FetchRewards(ctx)
	if err != nil {
		return report, err
	}
	report.Rewards = len(rewards)

	feed, err := g.FetchFeed(ctx, 0, DefaultFeedSize)
	if err != nil {
		return report, err
	}
	report.Kudos = len(feed)

	g.notifier.Notify(events.Event{Kind: events.SyncCompleted, At: g.now()})
	g.logger.Info("sync completed",
		"users", report.Users, "projects", report.Projects,
		"rewards", report.Rewards, "kudos", report.Kudos)
	return report, nil
}

// call sends one request and decodes a 2xx body into out.
func (g *Gateway) call(ctx context.Context, op, method, path string, auth bool, in, out any) error {
	var token string
	if auth {
		tok, ok := g.session.Token()
		if !ok {
			return g.expire(fault.Unauthorized(op, "no valid credential"))
		}
		token = tok
	}

	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fault.Wrap(fault.KindValidation, op, err)
		}
		body = b
	}

	g.logger.Debug("request", "op", op, "method", method, "path", path)
	resp, err := g.transport.Send(ctx, method, path, body, token)
	if err != nil {
		return fault.Unreachable(op, err)
	}

	if f := classify(op, resp); f != nil {
		if f.Kind == fault.KindUnauthorized {
			return g.expire(f)
		}
		return f
	}

	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		if out != nil {
			return &fault.Error{Kind: fault.KindServer, Op: op, Status: resp.Status, Message: "empty response body"}
		}
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return &fault.Error{Kind: fault.KindServer, Op: op, Status: resp.Status, Message: "undecodable response", Err: err}
	}
	return nil
}

// expire tears the session down and signals reauthentication.
func (g *Gateway) expire(f *fault.Error) error {
	if g.session.Present() {
		if err := g.session.Clear(); err != nil {
			g.logger.Warn("clearing session", "error", err)
		}
		g.notifier.Notify(events.Event{Kind: events.SessionExpired, At: g.now(), Err: f})
	}
	return f
}

// classify maps a non-2xx response to a fault. 2xx returns nil.
func classify(op string, resp *Response) *fault.Error {
	if resp.Status >= 200 && resp.Status < 300 {
		return nil
	}

	var er errorResponse
	_ = json.Unmarshal(resp.Body, &er)
	msg := er.Message
	if msg == "" {
		msg = er.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.Status)
	}

	var kind fault.Kind
	switch resp.Status {
	case http.StatusUnauthorized:
		kind = fault.KindUnauthorized
	case http.StatusForbidden, http.StatusBadRequest, http.StatusNotFound, http.StatusConflict:
		// 403 is a valid credential without the permission, not a rejected one.
		kind = fault.KindConflict
	case http.StatusUnprocessableEntity:
		kind = fault.KindValidation
	default:
		kind = fault.KindServer
	}

	f := &fault.Error{Kind: kind, Op: op, Status: resp.Status, Message: msg}
	for field, problem := range er.ValidationErrors {
		f.WithDetail(field, problem)
	}
	return f
}

func malformed(op string, err error) *fault.Error {
	return &fault.Error{Kind: fault.KindServer, Op: op, Message: "malformed record: " + err.Error(), Err: err}
}

func normalizeUsers(dtos []userDTO) ([]record.User, error) {
	users := make([]record.User, 0, len(dtos))
	for _, d := range dtos {
		u, err := d.normalize()
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}
