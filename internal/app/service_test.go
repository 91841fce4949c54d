package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"lineage/api/internal/account"
	"lineage/api/internal/auth"
	"lineage/api/internal/photo"
	"lineage/api/internal/store"
	"lineage/api/internal/validity"
)

func TestLoginRefreshLogout(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(t, "u1", "editor@example.com", "editor", "correct horse")
	svc := newTestService(t, fs)
	ctx := context.Background()

	session := loginAs(t, svc, "  Editor@Example.com ", "correct horse")
	if session.Role != "editor" || session.UserID != "u1" || session.RefreshToken == "" {
		t.Fatalf("unexpected session %+v", session)
	}

	fromToken, err := svc.SessionFromToken(ctx, session.Token)
	if err != nil {
		t.Fatalf("session from token: %v", err)
	}
	if fromToken.UserID != "u1" || fromToken.JTI != session.JTI {
		t.Fatalf("unexpected parsed session %+v", fromToken)
	}

	refreshed, err := svc.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.RefreshToken == session.RefreshToken {
		t.Fatalf("refresh token was not rotated")
	}
	if _, err := svc.Refresh(ctx, session.RefreshToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected reused refresh token to be rejected, got %v", err)
	}

	if err := svc.Logout(ctx, refreshed, refreshed.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.SessionFromToken(ctx, refreshed.Token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected revoked access token, got %v", err)
	}
	if _, err := svc.Refresh(ctx, refreshed.RefreshToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected revoked refresh token, got %v", err)
	}
}

func TestLoginRejectsWrongPasswordAndDeactivatedUsers(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(t, "u1", "viewer@example.com", "viewer", "correct horse")
	svc := newTestService(t, fs)
	ctx := context.Background()

	if _, err := svc.Login(ctx, "viewer@example.com", "wrong password"); !errors.Is(err, account.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}

	session := loginAs(t, svc, "viewer@example.com", "correct horse")
	now := time.Now()
	fs.mu.Lock()
	user := fs.users["u1"]
	user.DeactivatedAt = &now
	fs.users["u1"] = user
	fs.mu.Unlock()

	if _, err := svc.SessionFromToken(ctx, session.Token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected deactivated user token to be rejected, got %v", err)
	}
	if _, err := svc.Login(ctx, "viewer@example.com", "correct horse"); !errors.Is(err, account.ErrDeactivated) {
		t.Fatalf("expected deactivated login to fail, got %v", err)
	}
}

func TestSessionRoleFollowsUserRow(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(t, "u1", "user@example.com", "viewer", "correct horse")
	svc := newTestService(t, fs)
	session := loginAs(t, svc, "user@example.com", "correct horse")

	if err := fs.UpdateUserRole(context.Background(), "u1", "editor"); err != nil {
		t.Fatalf("update role: %v", err)
	}
	got, err := svc.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("session from token: %v", err)
	}
	if got.Role != "editor" {
		t.Fatalf("expected role from user row, got %q", got.Role)
	}
}

func TestCreateClergyBlocksStatusTheOfficiantCannotConfer(t *testing.T) {
	fs := newFakeStore()
	seedLineage(fs)
	svc := newTestService(t, fs)
	session := Session{UserID: "u1", UserName: "Editor"}

	input := ClergyInput{
		Name: "Father Gamma",
		Rank: "priest",
		Ordinations: []RecordInput{
			{BishopID: "b1", Validity: "valid", Date: "1961-05-01"},
		},
	}
	_, err := svc.CreateClergy(context.Background(), session, input)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected domain error, got %v", err)
	}
	if domainErr.Status != http.StatusUnprocessableEntity || domainErr.Code != "STATUS_INHERITANCE" {
		t.Fatalf("unexpected domain error %+v", domainErr)
	}
	if domainErr.Message != "Status inheritance rules not met for ordination from Bishop Alpha." {
		t.Fatalf("unexpected message %q", domainErr.Message)
	}
	details := domainErr.Details.(map[string]any)
	violations := details["violations"].([]validity.Violation)
	if len(violations) != 1 || violations[0].BishopID != "b1" || violations[0].Status != validity.StatusValid {
		t.Fatalf("unexpected violations %+v", violations)
	}
	if fs.count("CreateClergy") != 0 {
		t.Fatalf("rejected record must not be stored")
	}

	input.Ordinations[0].Validity = "invalid"
	created, err := svc.CreateClergy(context.Background(), session, input)
	if err != nil {
		t.Fatalf("create with allowed status: %v", err)
	}
	if !strings.HasPrefix(created["id"].(string), "clg_") {
		t.Fatalf("unexpected id %v", created["id"])
	}
	ords := created["ordinations"].([]map[string]any)
	if ords[0]["bishopName"] != "Bishop Alpha" || ords[0]["effectiveStatus"] != validity.StatusInvalid {
		t.Fatalf("unexpected stored ordination %+v", ords[0])
	}
	if got := fs.eventTypes(); len(got) != 1 || got[0] != "clergy.created" {
		t.Fatalf("unexpected audit events %v", got)
	}
}

func TestCreateClergySkipsListedBishops(t *testing.T) {
	fs := newFakeStore()
	seedLineage(fs)
	svc := newTestService(t, fs)

	_, err := svc.CreateClergy(context.Background(), Session{UserName: "Editor"}, ClergyInput{
		Name:          "Father Gamma",
		Ordinations:   []RecordInput{{BishopID: "b1", Validity: "valid"}},
		SkipBishopIDs: []string{"b1"},
	})
	if err != nil {
		t.Fatalf("expected skipped bishop to pass, got %v", err)
	}
}

func TestClergyInputValidation(t *testing.T) {
	fs := newFakeStore()
	seedLineage(fs)
	svc := newTestService(t, fs)
	ctx := context.Background()

	tests := []struct {
		name  string
		id    string
		input ClergyInput
		field string
	}{
		{name: "missing name", input: ClergyInput{}, field: "name"},
		{name: "unknown rank", input: ClergyInput{Name: "X", Rank: "pope"}, field: "rank"},
		{name: "bad validity", input: ClergyInput{Name: "X", Ordinations: []RecordInput{{Validity: "maybe"}}}, field: "ordinations[0].validity"},
		{name: "unknown officiant", input: ClergyInput{Name: "X", Consecrations: []RecordInput{{BishopID: "nobody"}}}, field: "consecrations[0].bishopId"},
		{name: "own officiant", id: "p1", input: ClergyInput{Name: "X", Ordinations: []RecordInput{{BishopID: "p1"}}}, field: "ordinations[0].bishopId"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var err error
			if tc.id == "" {
				_, err = svc.CreateClergy(ctx, Session{}, tc.input)
			} else {
				_, err = svc.UpdateClergy(ctx, Session{}, tc.id, tc.input)
			}
			var domainErr *DomainError
			if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
				t.Fatalf("expected validation error, got %v", err)
			}
			if field := domainErr.Details.(map[string]any)["field"]; field != tc.field {
				t.Fatalf("expected field %q, got %v", tc.field, field)
			}
		})
	}
}

func TestUpdateClergyClearsCachedSummary(t *testing.T) {
	fs := newFakeStore()
	seedLineage(fs)
	svc := newTestService(t, fs)
	ctx := context.Background()

	first, err := svc.BishopValidity(ctx, "b1")
	if err != nil {
		t.Fatalf("bishop validity: %v", err)
	}
	if first.HasValidOrdination || first.WorstOrdinationStatus != validity.StatusInvalid {
		t.Fatalf("unexpected summary %+v", first)
	}
	if _, err := svc.BishopValidity(ctx, "b1"); err != nil {
		t.Fatalf("bishop validity (cached): %v", err)
	}
	if n := fs.count("ClergyRecords"); n != 1 {
		t.Fatalf("expected one records fetch before the edit, got %d", n)
	}

	_, err = svc.UpdateClergy(ctx, Session{UserName: "Editor"}, "b1", ClergyInput{
		Name:        "Bishop Alpha",
		Rank:        "bishop",
		Ordinations: []RecordInput{{Validity: "valid"}},
	})
	if err != nil {
		t.Fatalf("update bishop: %v", err)
	}

	second, err := svc.BishopValidity(ctx, "b1")
	if err != nil {
		t.Fatalf("bishop validity after update: %v", err)
	}
	if !second.HasValidOrdination {
		t.Fatalf("expected fresh summary after update, got %+v", second)
	}
	if n := fs.count("ClergyRecords"); n != 2 {
		t.Fatalf("expected a refetch after the edit, got %d fetches", n)
	}
}

func TestBishopValidityUnknownBishop(t *testing.T) {
	svc := newTestService(t, newFakeStore())
	_, err := svc.BishopValidity(context.Background(), "nobody")
	if !store.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRosterFlagsViolations(t *testing.T) {
	fs := newFakeStore()
	seedLineage(fs)
	svc := newTestService(t, fs)

	payload, err := svc.Roster(context.Background(), nil)
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if payload["flagged"] != 1 {
		t.Fatalf("expected one flagged entry, got %v", payload["flagged"])
	}
	warnings := map[string]bool{}
	for _, item := range payload["clergy"].([]map[string]any) {
		warnings[item["id"].(string)] = item["warning"].(bool)
	}
	if warnings["b1"] || !warnings["p1"] {
		t.Fatalf("unexpected warnings %v", warnings)
	}

	skipped, err := svc.Roster(context.Background(), []string{"b1"})
	if err != nil {
		t.Fatalf("roster with skip: %v", err)
	}
	if skipped["flagged"] != 0 {
		t.Fatalf("expected no flags when the bishop is skipped, got %v", skipped["flagged"])
	}
}

func TestRosterStoreError(t *testing.T) {
	fs := newFakeStore()
	fs.listClergyFn = func(context.Context) ([]store.Clergy, error) {
		return nil, errors.New("db down")
	}
	svc := newTestService(t, fs)
	if _, err := svc.Roster(context.Background(), nil); err == nil {
		t.Fatalf("expected store error")
	}
}

func TestCheckFormResetsDisallowedValues(t *testing.T) {
	fs := newFakeStore()
	seedLineage(fs)
	svc := newTestService(t, fs)

	payload := svc.CheckForm(context.Background(), CheckFormInput{
		Entries: []validity.Entry{
			{Kind: validity.KindOrdination, Validity: validity.ValidityValid, BishopID: "b1", BishopName: "Bishop Alpha"},
			{Kind: validity.KindConsecration, Validity: validity.ValidityValid},
		},
	})
	if payload["reset"] != 1 {
		t.Fatalf("expected one reset entry, got %v", payload["reset"])
	}
	entries := payload["entries"].([]validity.Entry)
	if entries[0].Validity != validity.ValidityInvalid || entries[0].Note == "" {
		t.Fatalf("expected restricted entry to be reset with a note, got %+v", entries[0])
	}
	status := payload["status"].(validity.FormStatus)
	if !status.Valid {
		t.Fatalf("expected the adjusted form to validate, got %+v", status)
	}
}

func TestDeleteClergyRecordsAuditEvent(t *testing.T) {
	fs := newFakeStore()
	seedLineage(fs)
	svc := newTestService(t, fs)

	if err := svc.DeleteClergy(context.Background(), Session{UserName: "Editor"}, "p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := fs.GetClergy(context.Background(), "p1"); !store.IsNotFound(err) {
		t.Fatalf("expected clergy to be removed, got %v", err)
	}
	if got := fs.eventTypes(); len(got) != 1 || got[0] != "clergy.deleted" {
		t.Fatalf("unexpected audit events %v", got)
	}
	if err := svc.DeleteClergy(context.Background(), Session{}, "p1"); !store.IsNotFound(err) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestAuditFailureDoesNotFailWrite(t *testing.T) {
	fs := newFakeStore()
	fs.insertAuditFn = func(context.Context, store.AuditEvent) error {
		return errors.New("audit table locked")
	}
	svc := newTestService(t, fs)
	if _, err := svc.CreateClergy(context.Background(), Session{}, ClergyInput{Name: "Father Delta"}); err != nil {
		t.Fatalf("expected write to succeed, got %v", err)
	}
}

func TestListAuditCursor(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	ctx := context.Background()
	for _, kind := range []string{"a", "b", "c"} {
		svc.audit(ctx, kind, "tester", "clergy", "c1", nil)
	}

	first, err := svc.ListAudit(ctx, 0, 2)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(first["events"].([]map[string]any)) != 2 || first["cursor"] != int64(2) {
		t.Fatalf("unexpected first page %+v", first)
	}
	rest, err := svc.ListAudit(ctx, first["cursor"].(int64), 0)
	if err != nil {
		t.Fatalf("list audit after cursor: %v", err)
	}
	events := rest["events"].([]map[string]any)
	if len(events) != 1 || events[0]["eventType"] != "c" {
		t.Fatalf("unexpected events after cursor %+v", events)
	}
}

func TestLineageSubgraphKeepsAncestorsAndDescendants(t *testing.T) {
	refs := []store.ClergyRef{
		{ID: "a", Name: "A"},
		{ID: "b", Name: "B"},
		{ID: "c", Name: "C"},
		{ID: "d", Name: "D"},
		{ID: "x", Name: "Unrelated"},
	}
	links := []store.LineageLink{
		{Source: "a", Target: "b", Kind: validity.KindConsecration},
		{Source: "b", Target: "c", Kind: validity.KindOrdination},
		{Source: "c", Target: "d", Kind: validity.KindOrdination},
		{Source: "x", Target: "a", Kind: validity.KindOrdination},
		{Source: "d", Target: "x", Kind: validity.KindOrdination},
	}

	nodes, edges := lineageSubgraph("c", refs, links[:3])
	var ids []string
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	if strings.Join(ids, ",") != "a,b,c,d" {
		t.Fatalf("unexpected nodes %v", ids)
	}
	if len(edges) != 3 {
		t.Fatalf("unexpected edges %+v", edges)
	}

	// A cycle through x reaches every node once.
	nodes, edges = lineageSubgraph("c", refs, links)
	if len(nodes) != 5 || len(edges) != 5 {
		t.Fatalf("unexpected cyclic subgraph %d nodes %d edges", len(nodes), len(edges))
	}

	if nodes, _ := lineageSubgraph("missing", refs, links); nodes != nil {
		t.Fatalf("expected no nodes for unknown focus")
	}
}

func TestLineageLayoutForClergy(t *testing.T) {
	fs := newFakeStore()
	seedLineage(fs)
	fs.addClergy(store.Clergy{ID: "z9", Name: "Unrelated"})
	svc := newTestService(t, fs)

	res, err := svc.Lineage(context.Background(), "p1", 100)
	if err != nil {
		t.Fatalf("lineage: %v", err)
	}
	if res.Width != minChartWidth {
		t.Fatalf("expected clamped width, got %v", res.Width)
	}
	if len(res.Nodes) != 2 || len(res.Edges) != 1 || res.Roots[0] != "b1" {
		t.Fatalf("unexpected layout %+v", res)
	}

	if _, err := svc.Lineage(context.Background(), "nobody", 0); !store.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateUserRole(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(t, "admin", "admin@example.com", "admin", "correct horse")
	fs.addUser(t, "u2", "user@example.com", "viewer", "correct horse")
	svc := newTestService(t, fs)
	admin := Session{UserID: "admin", UserName: "Admin", Role: "admin"}
	ctx := context.Background()

	user, err := svc.UpdateUserRole(ctx, admin, "u2", "editor")
	if err != nil {
		t.Fatalf("update role: %v", err)
	}
	if user["role"] != "editor" {
		t.Fatalf("unexpected user %+v", user)
	}

	var domainErr *DomainError
	if _, err := svc.UpdateUserRole(ctx, admin, "u2", "owner"); !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.UpdateUserRole(ctx, admin, "admin", "viewer"); !errors.As(err, &domainErr) || domainErr.Code != "SELF_DEMOTION" {
		t.Fatalf("expected self demotion to be refused, got %v", err)
	}
}

func TestSearchWithoutIndex(t *testing.T) {
	svc := newTestService(t, newFakeStore())
	resp, err := svc.Search(context.Background(), "alpha", "", 0, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Backend != "none" || len(resp.Results) != 0 {
		t.Fatalf("unexpected response %+v", resp)
	}
	var domainErr *DomainError
	if _, err := svc.Search(context.Background(), "alpha", "people", 0, 0); !errors.As(err, &domainErr) {
		t.Fatalf("expected invalid type to be rejected, got %v", err)
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{domainError(http.StatusConflict, "X", "x", nil), http.StatusConflict, "X"},
		{errors.Join(errors.New("ctx"), errNotInGraph), http.StatusNotFound, "NOT_FOUND"},
		{auth.ErrExpiredToken, http.StatusUnauthorized, "UNAUTHORIZED"},
		{account.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{account.ErrEmailTaken, http.StatusConflict, "EMAIL_EXISTS"},
		{&account.ValidationError{Field: "email", Message: "bad"}, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{photo.ErrUnsupportedImage, http.StatusUnsupportedMediaType, "UNSUPPORTED_IMAGE"},
		{fmt.Errorf("%w: 60000x60000 pixels", photo.ErrTooLarge), http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"},
		{fmt.Errorf("%w: unexpected EOF", photo.ErrCorruptImage), http.StatusUnprocessableEntity, "INVALID_IMAGE"},
		{errors.New("boom"), http.StatusInternalServerError, "SERVER_ERROR"},
	}
	for _, tc := range tests {
		status, code, _, _ := mapError(tc.err)
		if status != tc.status || code != tc.code {
			t.Fatalf("mapError(%v) = %d %s, want %d %s", tc.err, status, code, tc.status, tc.code)
		}
	}
}
