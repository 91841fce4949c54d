package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"lineage/api/internal/account"
	"lineage/api/internal/auth"
	"lineage/api/internal/config"
	"lineage/api/internal/export"
	"lineage/api/internal/gitrepo"
	"lineage/api/internal/metrics"
	"lineage/api/internal/photo"
	"lineage/api/internal/rbac"
	"lineage/api/internal/search"
	"lineage/api/internal/session"
	"lineage/api/internal/store"
	"lineage/api/internal/validity"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	ListUsers(context.Context) ([]store.User, error)
	UpdateUserRole(context.Context, string, string) error
	UpdatePasswordHash(context.Context, string, string) error
	CountUsers(context.Context) (int, error)
	ListClergy(context.Context) ([]store.Clergy, error)
	GetClergy(context.Context, string) (store.Clergy, error)
	ClergyRecords(context.Context, string) ([]store.SacramentRecord, []store.SacramentRecord, error)
	CreateClergy(context.Context, store.Clergy) error
	UpdateClergy(context.Context, store.Clergy) error
	DeleteClergy(context.Context, string) error
	SetClergyPhoto(context.Context, string, string) error
	LineageGraph(context.Context) ([]store.ClergyRef, []store.LineageLink, error)
	ListWikiPages(context.Context) ([]store.WikiPage, error)
	GetWikiPage(context.Context, string) (store.WikiPage, error)
	UpsertWikiPage(context.Context, store.WikiPage) error
	WikiTitles(context.Context) ([]string, error)
	InsertAuditEvent(context.Context, store.AuditEvent) error
	ListAuditEvents(context.Context, int64, int) ([]store.AuditEvent, error)
	Ping(ctx context.Context) error
}

// sessionStore keeps refresh sessions and revoked access tokens. Redis in
// production; the Postgres store implements it as well.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type searchIndex interface {
	Search(context.Context, search.Query) search.Response
	IndexClergy(search.ClergyRecord)
	IndexWiki(search.WikiRecord)
	DeleteClergy(string)
}

type wikiRepo interface {
	SavePage(slug string, page gitrepo.Page, author, message string) (store.CommitInfo, error)
	History(slug string, limit int) ([]store.CommitInfo, error)
	PageAt(slug, hash string) (gitrepo.Page, store.CommitInfo, error)
}

type photoStore interface {
	Upload(ctx context.Context, clergyID string, body io.Reader, crop *photo.Rect) (string, error)
	URL(ctx context.Context, key string) (string, time.Time, error)
	Remove(ctx context.Context, key string)
}

type exporter interface {
	Export(context.Context, export.Request) (*export.Result, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of a Service. Store is required; Sessions
// defaults to Store, Cache to an in-process cache, and a nil Search, Photos
// or Metrics disables that feature.
type Deps struct {
	Config config.Config
	Store  interface {
		dataStore
		sessionStore
	}
	Sessions sessionStore
	Cache    validity.Cache
	Search   searchIndex
	Wiki     wikiRepo
	Photos   photoStore
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	signer   *auth.Signer
	accounts *account.Service
	engine   *validity.Engine
	search   searchIndex
	wiki     wikiRepo
	photos   photoStore
	exports  exporter
	logger   *zap.Logger
	now      func() time.Time
}

func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var sessions sessionStore = deps.Store
	if deps.Sessions != nil {
		sessions = deps.Sessions
	}
	s := &Service{
		cfg:      deps.Config,
		store:    deps.Store,
		sessions: sessions,
		signer:   auth.NewSigner(deps.Config.JWTSecret, deps.Config.AccessTTL),
		accounts: account.NewService(deps.Store, logger),
		search:   deps.Search,
		wiki:     deps.Wiki,
		photos:   deps.Photos,
		logger:   logger,
		now:      time.Now,
	}

	cache := deps.Cache
	if cache == nil {
		cache = validity.NewMemoryCache()
	}
	opts := []validity.EngineOption{validity.WithCache(cache), validity.WithLogger(logger)}
	if deps.Metrics != nil {
		opts = append(opts, validity.WithObserver(deps.Metrics))
	}
	s.engine = validity.NewEngine(validity.SourceFunc(s.fetchSummary), opts...)
	s.exports = export.NewService(exportSource{s}, logger)
	return s
}

// Accounts exposes password accounts for bootstrap.
func (s *Service) Accounts() *account.Service {
	return s.accounts
}

// Login checks the password and opens a session.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.accounts.Authenticate(ctx, strings.ToLower(strings.TrimSpace(email)), password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the old one is revoked and a new pair is
// issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	ref, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) || store.IsNotFound(err) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, ref.ID)
	if err != nil {
		if store.IsNotFound(err) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if user.DeactivatedAt != nil {
		return Session{}, account.ErrDeactivated
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	token, claims, err := s.signer.Issue(user.ID, user.DisplayName, user.Email, user.Role)
	if err != nil {
		return Session{}, err
	}

	refresh := auth.RandomToken(32)
	refreshExpires := s.now().Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         string(rbac.Normalize(user.Role)),
		JTI:          claims.JTI,
		ExpiresAt:    time.Unix(claims.Exp, 0),
	}, nil
}

// SessionFromToken validates an access token. Roles come from the user row, so
// a role change applies to tokens already issued.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if store.IsNotFound(err) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if user.DeactivatedAt != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		Role:      string(rbac.Normalize(user.Role)),
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.logger.Warn("revoke access token failed", zap.Error(err))
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn("revoke refresh session failed", zap.Error(err))
		}
	}
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, session Session, current, next string) error {
	return s.accounts.ChangePassword(ctx, session.UserID, current, next)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// Ping checks the health of service dependencies (database, etc.)
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ReadinessChecks pings the database and, when it is a separate backend, the
// session store.
func (s *Service) ReadinessChecks(ctx context.Context) map[string]error {
	checks := map[string]error{"database": s.store.Ping(ctx)}
	if p, ok := s.sessions.(pinger); ok && any(s.sessions) != any(s.store) {
		checks["sessions"] = p.Ping(ctx)
	}
	return checks
}

func (s *Service) audit(ctx context.Context, eventType, actor, subjectType, subjectID string, payload map[string]any) {
	err := s.store.InsertAuditEvent(ctx, store.AuditEvent{
		EventType:   eventType,
		ActorName:   actor,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Payload:     payload,
	})
	if err != nil {
		s.logger.Warn("audit event not recorded",
			zap.String("event_type", eventType),
			zap.String("subject_id", subjectID),
			zap.Error(err))
	}
}

func (s *Service) ListAudit(ctx context.Context, afterID int64, limit int) (map[string]any, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	events, err := s.store.ListAuditEvents(ctx, afterID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(events))
	cursor := afterID
	for _, event := range events {
		payload := event.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		items = append(items, map[string]any{
			"id":          event.ID,
			"eventType":   event.EventType,
			"actor":       event.ActorName,
			"subjectType": event.SubjectType,
			"subjectId":   event.SubjectID,
			"payload":     payload,
			"createdAt":   event.CreatedAt,
		})
		if event.ID > cursor {
			cursor = event.ID
		}
	}
	return map[string]any{"events": items, "cursor": cursor}, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]map[string]any, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, userPayload(user))
	}
	return items, nil
}

func (s *Service) CreateUser(ctx context.Context, session Session, req account.CreateUserRequest) (map[string]any, error) {
	user, err := s.accounts.CreateUser(ctx, req)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, "user.created", session.UserName, "user", user.ID, map[string]any{"role": user.Role})
	return userPayload(user), nil
}

func (s *Service) UpdateUserRole(ctx context.Context, session Session, userID, role string) (map[string]any, error) {
	role = strings.TrimSpace(role)
	if !rbac.Valid(role) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "role must be viewer, editor, or admin", nil)
	}
	if userID == session.UserID && role != string(rbac.RoleAdmin) {
		return nil, domainError(http.StatusConflict, "SELF_DEMOTION", "Admins cannot remove their own admin role", nil)
	}
	if err := s.store.UpdateUserRole(ctx, userID, role); err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, "user.role_changed", session.UserName, "user", userID, map[string]any{"role": role})
	return userPayload(user), nil
}

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":          user.ID,
		"email":       user.Email,
		"displayName": user.DisplayName,
		"role":        string(rbac.Normalize(user.Role)),
		"deactivated": user.DeactivatedAt != nil,
		"createdAt":   user.CreatedAt,
	}
}

// Search queries the search index. Without one every search is empty.
func (s *Service) Search(ctx context.Context, text, rawType string, limit, offset int) (search.Response, error) {
	filter, ok := search.ParseResultType(rawType)
	if !ok {
		return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be clergy or wiki", nil)
	}
	text = strings.TrimSpace(text)
	if text == "" || s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text, Backend: "none"}, nil
	}
	return s.search.Search(ctx, search.Query{Text: text, FilterType: filter, Limit: limit, Offset: offset}), nil
}

func (s *Service) indexClergy(item store.Clergy) {
	if s.search == nil {
		return
	}
	s.search.IndexClergy(search.ClergyRecord{
		ID:     item.ID,
		Name:   item.Name,
		Rank:   item.Rank,
		Church: item.Church,
		Notes:  item.Notes,
	})
}

func (s *Service) indexWiki(page store.WikiPage) {
	if s.search == nil {
		return
	}
	s.search.IndexWiki(search.WikiRecord{ID: page.Slug, Title: page.Title, Body: page.Body})
}
