package app

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"lineage/api/internal/config"
	"lineage/api/internal/gitrepo"
	"lineage/api/internal/store"
	"lineage/api/internal/validity"
)

// fakeStore keeps users, sessions, clergy and wiki pages in memory. The Fn
// hooks override individual calls.
type fakeStore struct {
	mu      sync.Mutex
	users   map[string]store.User
	refresh map[string]string
	revoked map[string]bool
	clergy  map[string]store.Clergy
	wiki    map[string]store.WikiPage
	events  []store.AuditEvent
	calls   map[string]int

	pingFn            func(context.Context) error
	listClergyFn      func(context.Context) ([]store.Clergy, error)
	updateUserRoleFn  func(context.Context, string, string) error
	insertAuditFn     func(context.Context, store.AuditEvent) error
	listAuditEventsFn func(context.Context, int64, int) ([]store.AuditEvent, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   map[string]store.User{},
		refresh: map[string]string{},
		revoked: map[string]bool{},
		clergy:  map[string]store.Clergy{},
		wiki:    map[string]store.WikiPage{},
		calls:   map[string]int{},
	}
}

func (f *fakeStore) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeStore) record(name string) {
	f.calls[name]++
}

func (f *fakeStore) addUser(t *testing.T, id, email, role, password string) store.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := store.User{ID: id, Email: email, DisplayName: "User " + id, PasswordHash: string(hash), Role: role}
	f.mu.Lock()
	f.users[id] = user
	f.mu.Unlock()
	return user
}

func (f *fakeStore) addClergy(item store.Clergy) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clergy[item.ID] = item
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) ListUsers(context.Context) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.User, 0, len(f.users))
	for _, user := range f.users {
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) UpdateUserRole(ctx context.Context, id, role string) error {
	if f.updateUserRoleFn != nil {
		return f.updateUserRoleFn(ctx, id, role)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	user.Role = role
	f.users[id] = user
	return nil
}

func (f *fakeStore) UpdatePasswordHash(_ context.Context, id, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = hash
	f.users[id] = user
	return nil
}

func (f *fakeStore) CountUsers(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users), nil
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, hash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[hash] = userID
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, hash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.refresh[hash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return store.User{ID: userID}, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, hash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

func (f *fakeStore) ListClergy(ctx context.Context) ([]store.Clergy, error) {
	if f.listClergyFn != nil {
		return f.listClergyFn(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sortedClergy(), nil
}

func (f *fakeStore) sortedClergy() []store.Clergy {
	out := make([]store.Clergy, 0, len(f.clergy))
	for _, item := range f.clergy {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (f *fakeStore) GetClergy(_ context.Context, id string) (store.Clergy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetClergy")
	item, ok := f.clergy[id]
	if !ok {
		return store.Clergy{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) ClergyRecords(_ context.Context, id string) ([]store.SacramentRecord, []store.SacramentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ClergyRecords")
	item := f.clergy[id]
	return item.Ordinations, item.Consecrations, nil
}

func (f *fakeStore) CreateClergy(_ context.Context, item store.Clergy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateClergy")
	f.clergy[item.ID] = item
	return nil
}

func (f *fakeStore) UpdateClergy(_ context.Context, item store.Clergy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateClergy")
	if _, ok := f.clergy[item.ID]; !ok {
		return sql.ErrNoRows
	}
	f.clergy[item.ID] = item
	return nil
}

func (f *fakeStore) DeleteClergy(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clergy[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.clergy, id)
	return nil
}

func (f *fakeStore) SetClergyPhoto(_ context.Context, id, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.clergy[id]
	if !ok {
		return sql.ErrNoRows
	}
	item.PhotoKey = key
	f.clergy[id] = item
	return nil
}

func (f *fakeStore) LineageGraph(context.Context) ([]store.ClergyRef, []store.LineageLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.sortedClergy()
	refs := make([]store.ClergyRef, 0, len(items))
	var links []store.LineageLink
	for _, item := range items {
		refs = append(refs, store.ClergyRef{ID: item.ID, Name: item.Name})
		for _, r := range item.Ordinations {
			if r.BishopID != "" {
				links = append(links, store.LineageLink{Source: r.BishopID, Target: item.ID, Kind: validity.KindOrdination})
			}
		}
		for _, r := range item.Consecrations {
			if r.BishopID != "" {
				links = append(links, store.LineageLink{Source: r.BishopID, Target: item.ID, Kind: validity.KindConsecration})
			}
		}
	}
	return refs, links, nil
}

func (f *fakeStore) ListWikiPages(context.Context) ([]store.WikiPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.WikiPage, 0, len(f.wiki))
	for _, page := range f.wiki {
		out = append(out, page)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (f *fakeStore) GetWikiPage(_ context.Context, slug string) (store.WikiPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.wiki[slug]
	if !ok {
		return store.WikiPage{}, sql.ErrNoRows
	}
	return page, nil
}

func (f *fakeStore) UpsertWikiPage(_ context.Context, page store.WikiPage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wiki[page.Slug] = page
	return nil
}

func (f *fakeStore) WikiTitles(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	titles := make([]string, 0, len(f.wiki))
	for _, page := range f.wiki {
		titles = append(titles, page.Title)
	}
	sort.Strings(titles)
	return titles, nil
}

func (f *fakeStore) InsertAuditEvent(ctx context.Context, event store.AuditEvent) error {
	if f.insertAuditFn != nil {
		return f.insertAuditFn(ctx, event)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	event.ID = int64(len(f.events) + 1)
	f.events = append(f.events, event)
	return nil
}

func (f *fakeStore) ListAuditEvents(ctx context.Context, afterID int64, limit int) ([]store.AuditEvent, error) {
	if f.listAuditEventsFn != nil {
		return f.listAuditEventsFn(ctx, afterID, limit)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.AuditEvent
	for _, event := range f.events {
		if event.ID > afterID && len(out) < limit {
			out = append(out, event)
		}
	}
	return out, nil
}

func (f *fakeStore) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, event := range f.events {
		out = append(out, event.EventType)
	}
	return out
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

// fakeWiki stands in for the git-backed page history.
type fakeWiki struct {
	saved     []gitrepo.Page
	history   []store.CommitInfo
	historyFn func(string, int) ([]store.CommitInfo, error)
	pageAtFn  func(string, string) (gitrepo.Page, store.CommitInfo, error)
}

func (w *fakeWiki) SavePage(slug string, page gitrepo.Page, author, message string) (store.CommitInfo, error) {
	w.saved = append(w.saved, page)
	commit := store.CommitInfo{Hash: "abc1234", Message: message, Author: author, CreatedAt: time.Unix(1700000000, 0)}
	w.history = append([]store.CommitInfo{commit}, w.history...)
	return commit, nil
}

func (w *fakeWiki) History(slug string, limit int) ([]store.CommitInfo, error) {
	if w.historyFn != nil {
		return w.historyFn(slug, limit)
	}
	if len(w.history) == 0 {
		return nil, gitrepo.ErrPageNotFound
	}
	return w.history, nil
}

func (w *fakeWiki) PageAt(slug, hash string) (gitrepo.Page, store.CommitInfo, error) {
	if w.pageAtFn != nil {
		return w.pageAtFn(slug, hash)
	}
	return gitrepo.Page{}, store.CommitInfo{}, gitrepo.ErrRevisionNotFound
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		CORSOrigin: "*",
	}
}

func newTestService(t *testing.T, fs *fakeStore, mutate ...func(*Deps)) *Service {
	t.Helper()
	deps := Deps{Config: testConfig(), Store: fs, Logger: zap.NewNop()}
	for _, fn := range mutate {
		fn(&deps)
	}
	return New(deps)
}

func loginAs(t *testing.T, svc *Service, email, password string) Session {
	t.Helper()
	session, err := svc.Login(context.Background(), email, password)
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return session
}

// seedLineage stores a bishop whose only ordination is invalid and a priest
// validly ordained by that bishop.
func seedLineage(fs *fakeStore) {
	fs.addClergy(store.Clergy{
		ID:   "b1",
		Name: "Bishop Alpha",
		Rank: "bishop",
		Ordinations: []store.SacramentRecord{
			{Validity: "invalid"},
		},
	})
	fs.addClergy(store.Clergy{
		ID:   "p1",
		Name: "Father Beta",
		Rank: "priest",
		Ordinations: []store.SacramentRecord{
			{BishopID: "b1", BishopName: "Bishop Alpha", Validity: "valid"},
		},
	})
}
