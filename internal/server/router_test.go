package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pulsehq/pulse/backend/internal/aggregate"
	"github.com/pulsehq/pulse/backend/internal/badges"
	"github.com/pulsehq/pulse/backend/internal/cache"
	"github.com/pulsehq/pulse/backend/internal/calendar"
	"github.com/pulsehq/pulse/backend/internal/commits"
	"github.com/pulsehq/pulse/backend/internal/members"
	"github.com/pulsehq/pulse/backend/internal/query"
)

type fakeRunner struct {
	mu       sync.Mutex
	requests []aggregate.Request
	err      error
	ran      chan aggregate.Request
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{ran: make(chan aggregate.Request, 8)}
}

func (r *fakeRunner) Run(_ context.Context, request aggregate.Request) (aggregate.Report, error) {
	r.mu.Lock()
	r.requests = append(r.requests, request)
	r.mu.Unlock()
	r.ran <- request
	if r.err != nil {
		return aggregate.Report{}, r.err
	}
	return aggregate.Report{RunID: "run-1", Mode: request.Mode, Succeeded: 2}, nil
}

type fakeQuery struct {
	lastGranularity query.Granularity
	lastAnchor      calendar.DayKey
	lastFirst       calendar.DayKey
	lastLast        calendar.DayKey
	err             error
}

func (q *fakeQuery) GetStats(_ context.Context, _ members.MemberID, granularity query.Granularity, anchor calendar.DayKey) (query.RangeStats, error) {
	q.lastGranularity = granularity
	q.lastAnchor = anchor
	if q.err != nil {
		return query.RangeStats{}, q.err
	}
	return query.RangeStats{Days: []query.DayStat{{Date: anchor.String(), CommitCount: 1, HasActivity: true}}}, nil
}

func (q *fakeQuery) GetCustomRange(_ context.Context, _ members.MemberID, first, last calendar.DayKey) (query.RangeStats, error) {
	q.lastFirst = first
	q.lastLast = last
	if q.err != nil {
		return query.RangeStats{}, q.err
	}
	return query.RangeStats{Days: []query.DayStat{{Date: first.String()}}}, nil
}

func (q *fakeQuery) GetBadges(context.Context, members.MemberID) ([]query.Badge, error) {
	if q.err != nil {
		return nil, q.err
	}
	return []query.Badge{{ID: "first-commit", Label: "First Commit"}}, nil
}

func (q *fakeQuery) GetTrophies(context.Context, members.MemberID) ([]badges.Trophy, error) {
	if q.err != nil {
		return nil, q.err
	}
	return []badges.Trophy{{Metric: badges.MetricTotalCommits, Tier: badges.TierSilver, Value: 60}}, nil
}

type fakeMembers struct {
	byEmail   map[string]members.Member
	upserted  []members.Member
	removed   []string
	removeErr error
}

func newFakeMembers() *fakeMembers {
	return &fakeMembers{byEmail: make(map[string]members.Member)}
}

func (m *fakeMembers) GetByEmail(_ context.Context, email string) (members.Member, error) {
	member, ok := m.byEmail[email]
	if !ok {
		return members.Member{}, members.ErrNotFound
	}
	return member, nil
}

func (m *fakeMembers) Upsert(_ context.Context, member members.Member) (members.Member, error) {
	if strings.TrimSpace(member.Email) == "" {
		return members.Member{}, members.ErrInvalidEmail
	}
	member.ID = "member-1"
	m.upserted = append(m.upserted, member)
	return member, nil
}

func (m *fakeMembers) Remove(_ context.Context, id members.MemberID) error {
	if m.removeErr != nil {
		return m.removeErr
	}
	m.removed = append(m.removed, id.String())
	return nil
}

type fakeRecorder struct {
	events  []commits.CommitEvent
	authors []string
	err     error
}

func (r *fakeRecorder) RecordEvents(_ context.Context, events []commits.CommitEvent) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.events = append(r.events, events...)
	return r.authors, nil
}

type fakeCleaner struct {
	mu      sync.Mutex
	deleted []string
}

func (c *fakeCleaner) DeleteForMember(_ context.Context, memberID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, memberID)
	return nil
}

type routerFixture struct {
	handler  http.Handler
	runner   *fakeRunner
	query    *fakeQuery
	members  *fakeMembers
	recorder *fakeRecorder
	activity *fakeCleaner
	snapshot *fakeCleaner
	cache    *cache.MemoryStore
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fixture := &routerFixture{
		runner:   newFakeRunner(),
		query:    &fakeQuery{},
		members:  newFakeMembers(),
		recorder: &fakeRecorder{},
		activity: &fakeCleaner{},
		snapshot: &fakeCleaner{},
		cache:    cache.NewMemoryStore(nil),
	}

	handler, err := NewHTTPHandler(Dependencies{
		Orchestrator: fixture.runner,
		Query:        fixture.query,
		Members:      fixture.members,
		Commits:      fixture.recorder,
		ActivityRows: fixture.activity,
		SnapshotRows: fixture.snapshot,
		Cache:        fixture.cache,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	fixture.handler = handler
	return fixture
}

func (f *routerFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	response := httptest.NewRecorder()
	f.handler.ServeHTTP(response, request)
	return response
}

func decodeBody(t *testing.T, response *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(response.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", response.Body.String(), err)
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	fixture := newRouterFixture(t)

	response := fixture.do(t, http.MethodGet, "/healthz", nil)
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.Code)
	}
	if body := decodeBody(t, response); body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestAggregateEndpointMemberMode(t *testing.T) {
	fixture := newRouterFixture(t)

	response := fixture.do(t, http.MethodPost, "/admin/aggregate", map[string]any{
		"mode":      "member",
		"member_id": "alice",
	})
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", response.Code, response.Body.String())
	}

	body := decodeBody(t, response)
	if body["run_id"] != "run-1" || body["mode"] != "member" {
		t.Fatalf("unexpected report: %v", body)
	}
	request := <-fixture.runner.ran
	if request.MemberID.String() != "alice" {
		t.Fatalf("unexpected member id: %s", request.MemberID)
	}
}

func TestAggregateEndpointDateRangeMode(t *testing.T) {
	fixture := newRouterFixture(t)

	response := fixture.do(t, http.MethodPost, "/admin/aggregate", map[string]any{
		"mode": "date-range",
		"from": "2026-03-10",
		"to":   "2026-03-12",
	})
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", response.Code, response.Body.String())
	}

	request := <-fixture.runner.ran
	if request.From.String() != "2026-03-10" || request.To.String() != "2026-03-12" {
		t.Fatalf("unexpected range: %s .. %s", request.From, request.To)
	}
}

func TestAggregateEndpointRejectsBadInput(t *testing.T) {
	fixture := newRouterFixture(t)

	tests := []struct {
		name          string
		payload       map[string]any
		expectedError string
	}{
		{
			name:          "unknown mode",
			payload:       map[string]any{"mode": "yearly"},
			expectedError: "invalid_mode",
		},
		{
			name:          "member mode without id",
			payload:       map[string]any{"mode": "member"},
			expectedError: "invalid_member_id",
		},
		{
			name:          "date-range with garbage dates",
			payload:       map[string]any{"mode": "date-range", "from": "yesterday", "to": "today"},
			expectedError: "invalid_date_range",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			response := fixture.do(t, http.MethodPost, "/admin/aggregate", tc.payload)
			if response.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", response.Code)
			}
			if body := decodeBody(t, response); body["error"] != tc.expectedError {
				t.Fatalf("expected %s, got %v", tc.expectedError, body)
			}
		})
	}
}

func TestAggregateEndpointMapsMemberNotFound(t *testing.T) {
	fixture := newRouterFixture(t)
	fixture.runner.err = members.ErrNotFound

	response := fixture.do(t, http.MethodPost, "/admin/aggregate", map[string]any{
		"mode":      "member",
		"member_id": "ghost",
	})
	if response.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", response.Code)
	}
}

func TestStatsEndpointDefaultsToWeek(t *testing.T) {
	fixture := newRouterFixture(t)

	response := fixture.do(t, http.MethodGet, "/members/alice/stats?anchor=2026-03-18", nil)
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", response.Code, response.Body.String())
	}
	if fixture.query.lastGranularity != query.GranularityWeek {
		t.Fatalf("expected week default, got %s", fixture.query.lastGranularity)
	}
	if fixture.query.lastAnchor.String() != "2026-03-18" {
		t.Fatalf("unexpected anchor: %s", fixture.query.lastAnchor)
	}
}

func TestStatsEndpointOmittedAnchorStaysZero(t *testing.T) {
	fixture := newRouterFixture(t)
	fixture.query.lastAnchor = calendar.NewDayKey(2026, time.March, 1)

	response := fixture.do(t, http.MethodGet, "/members/alice/stats", nil)
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", response.Code, response.Body.String())
	}
	// The query service owns the clock and timezone; the handler must not
	// substitute a host-derived day.
	if !fixture.query.lastAnchor.IsZero() {
		t.Fatalf("expected a zero anchor to pass through, got %s", fixture.query.lastAnchor)
	}
}

func TestStatsEndpointCustomRange(t *testing.T) {
	fixture := newRouterFixture(t)

	response := fixture.do(t, http.MethodGet, "/members/alice/stats?from=2026-03-01&to=2026-03-07", nil)
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.Code)
	}
	if fixture.query.lastFirst.String() != "2026-03-01" || fixture.query.lastLast.String() != "2026-03-07" {
		t.Fatalf("unexpected bounds: %s .. %s", fixture.query.lastFirst, fixture.query.lastLast)
	}
}

func TestStatsEndpointRejectsBadGranularity(t *testing.T) {
	fixture := newRouterFixture(t)

	response := fixture.do(t, http.MethodGet, "/members/alice/stats?granularity=decade", nil)
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", response.Code)
	}
	if body := decodeBody(t, response); body["error"] != "invalid_granularity" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestStatsEndpointMapsUnknownMember(t *testing.T) {
	fixture := newRouterFixture(t)
	fixture.query.err = members.ErrNotFound

	response := fixture.do(t, http.MethodGet, "/members/ghost/stats?anchor=2026-03-18", nil)
	if response.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", response.Code)
	}
}

func TestBadgesEndpoint(t *testing.T) {
	fixture := newRouterFixture(t)

	response := fixture.do(t, http.MethodGet, "/members/alice/badges", nil)
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.Code)
	}
	body := decodeBody(t, response)
	unlocked, ok := body["badges"].([]any)
	if !ok || len(unlocked) != 1 {
		t.Fatalf("unexpected badges payload: %v", body)
	}
}

func TestTrophiesEndpoint(t *testing.T) {
	fixture := newRouterFixture(t)

	response := fixture.do(t, http.MethodGet, "/members/alice/trophies", nil)
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.Code)
	}
	body := decodeBody(t, response)
	trophies, ok := body["trophies"].([]any)
	if !ok || len(trophies) != 1 {
		t.Fatalf("unexpected trophies payload: %v", body)
	}
}

func TestIngestRecordsAndTriggersAggregations(t *testing.T) {
	fixture := newRouterFixture(t)
	fixture.recorder.authors = []string{"alice@example.com", "ghost@example.com"}
	fixture.members.byEmail["alice@example.com"] = members.Member{
		ID: "alice", Email: "alice@example.com", Active: true,
	}

	response := fixture.do(t, http.MethodPost, "/admin/commits", map[string]any{
		"events": []map[string]any{
			{
				"sha":          "a1b2c3",
				"repository":   "pulse/backend",
				"author_email": "alice@example.com",
				"authored_at":  time.Date(2026, time.March, 18, 9, 0, 0, 0, time.UTC),
				"additions":    10,
				"deletions":    2,
				"message":      "feat: ingest endpoint",
			},
		},
	})
	if response.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", response.Code, response.Body.String())
	}

	body := decodeBody(t, response)
	if body["recorded"] != float64(1) {
		t.Fatalf("expected 1 recorded event, got %v", body)
	}
	if body["aggregations_triggered"] != float64(1) {
		t.Fatalf("unknown authors must not trigger aggregations, got %v", body)
	}

	select {
	case request := <-fixture.runner.ran:
		if request.Mode != aggregate.ModeMember || request.MemberID.String() != "alice" {
			t.Fatalf("unexpected background request: %+v", request)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("background aggregation never ran")
	}
}

func TestIngestSkipsMembersWithUnusableIDs(t *testing.T) {
	fixture := newRouterFixture(t)
	fixture.recorder.authors = []string{"blank@example.com"}
	fixture.members.byEmail["blank@example.com"] = members.Member{
		ID: "   ", Email: "blank@example.com", Active: true,
	}

	response := fixture.do(t, http.MethodPost, "/admin/commits", map[string]any{
		"events": []map[string]any{
			{
				"sha":          "a1b2c3",
				"repository":   "pulse/backend",
				"author_email": "blank@example.com",
				"authored_at":  time.Date(2026, time.March, 18, 9, 0, 0, 0, time.UTC),
				"message":      "fix: orphaned identity",
			},
		},
	})
	if response.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", response.Code, response.Body.String())
	}

	body := decodeBody(t, response)
	if body["aggregations_triggered"] != float64(0) {
		t.Fatalf("a blank member id must not trigger an aggregation, got %v", body)
	}
	select {
	case request := <-fixture.runner.ran:
		t.Fatalf("unexpected background aggregation: %+v", request)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestIngestRejectsEmptyBatch(t *testing.T) {
	fixture := newRouterFixture(t)

	response := fixture.do(t, http.MethodPost, "/admin/commits", map[string]any{"events": []map[string]any{}})
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", response.Code)
	}
}

func TestIngestMapsValidationErrors(t *testing.T) {
	fixture := newRouterFixture(t)
	fixture.recorder.err = commits.ErrInvalidSHA

	response := fixture.do(t, http.MethodPost, "/admin/commits", map[string]any{
		"events": []map[string]any{{"sha": "", "author_email": "alice@example.com"}},
	})
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", response.Code)
	}
	if body := decodeBody(t, response); body["error"] != "invalid_event" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestUpsertMemberEndpoint(t *testing.T) {
	fixture := newRouterFixture(t)

	response := fixture.do(t, http.MethodPost, "/admin/members", map[string]any{
		"email":        "alice@example.com",
		"display_name": "Alice",
	})
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", response.Code, response.Body.String())
	}

	body := decodeBody(t, response)
	if body["id"] != "member-1" || body["active"] != true {
		t.Fatalf("unexpected body: %v", body)
	}
	if len(fixture.members.upserted) != 1 {
		t.Fatalf("expected one upsert, got %d", len(fixture.members.upserted))
	}
}

func TestUpsertMemberRequiresEmail(t *testing.T) {
	fixture := newRouterFixture(t)

	response := fixture.do(t, http.MethodPost, "/admin/members", map[string]any{"display_name": "Nameless"})
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", response.Code)
	}
}

func TestRemoveMemberCleansDerivedState(t *testing.T) {
	fixture := newRouterFixture(t)
	ctx := context.Background()
	fixture.cache.Set(ctx, cache.MemberPrefix("alice")+"range:week", []byte("stale"), time.Minute)
	fixture.cache.Set(ctx, cache.MemberPrefix("bob")+"range:week", []byte("keep"), time.Minute)

	response := fixture.do(t, http.MethodDelete, "/admin/members/alice", nil)
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", response.Code, response.Body.String())
	}

	if len(fixture.members.removed) != 1 || fixture.members.removed[0] != "alice" {
		t.Fatalf("member row was not removed: %v", fixture.members.removed)
	}
	if len(fixture.activity.deleted) != 1 || fixture.activity.deleted[0] != "alice" {
		t.Fatalf("activity rows were not cleaned: %v", fixture.activity.deleted)
	}
	if len(fixture.snapshot.deleted) != 1 || fixture.snapshot.deleted[0] != "alice" {
		t.Fatalf("snapshot rows were not cleaned: %v", fixture.snapshot.deleted)
	}
	if _, ok := fixture.cache.Get(ctx, cache.MemberPrefix("alice")+"range:week"); ok {
		t.Fatalf("cached reads for the removed member must be invalidated")
	}
	if _, ok := fixture.cache.Get(ctx, cache.MemberPrefix("bob")+"range:week"); !ok {
		t.Fatalf("other members' cache entries must survive")
	}
}

func TestRemoveMemberMapsNotFound(t *testing.T) {
	fixture := newRouterFixture(t)
	fixture.members.removeErr = members.ErrNotFound

	response := fixture.do(t, http.MethodDelete, "/admin/members/ghost", nil)
	if response.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", response.Code)
	}
}
