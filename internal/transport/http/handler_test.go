package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ecolearn-gamification/internal/app"
	"ecolearn-gamification/internal/auth"
	"ecolearn-gamification/internal/badge"
	"ecolearn-gamification/internal/domain"
	"ecolearn-gamification/internal/infra/memory"
	"ecolearn-gamification/internal/leaderboard"
	"ecolearn-gamification/internal/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func sampleQuiz() []domain.Quiz {
	return []domain.Quiz{
		{
			ID: "quiz-1",
			Questions: []domain.Question{
				{
					ID:      "q1",
					Prompt:  "Is CO2 a greenhouse gas?",
					Options: []domain.Option{{ID: "yes"}, {ID: "no"}},
					Correct: []string{"yes"},
					Points:  10,
				},
			},
		},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *auth.JWTResolver) {
	t.Helper()
	rules, err := badge.LoadDefault()
	require.NoError(t, err)

	catalog := memory.NewCatalogRepository(memory.NewStaticCatalogLoader(sampleQuiz(), memory.SampleChallenges()), time.Minute)
	led := ledger.New(memory.NewDocumentStore(), ledger.DefaultConfig(), nil)
	service := app.NewSubmissionService(app.Dependencies{
		Catalog: catalog,
		Ledger:  led,
		Badges:  badge.NewEngine(rules),
		Ranking: leaderboard.NewIndex(),
		Counter: memory.NewCounter(),
	})
	resolver := auth.NewJWTResolver(testSecret, "")
	server := httptest.NewServer(NewRouter(service, resolver, 5, nil))
	t.Cleanup(server.Close)
	return server, resolver
}

func do(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestSubmitQuizOverHTTP(t *testing.T) {
	server, resolver := newTestServer(t)
	token, err := resolver.IssueToken("alice", time.Hour)
	require.NoError(t, err)

	body := map[string]any{"answers": [][]string{{"yes"}}, "idempotencyKey": "k1"}
	resp := do(t, http.MethodPost, server.URL+"/v1/quizzes/quiz-1/submissions", token, body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))

	var res domain.SubmissionResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, int64(10), res.TotalPoints)
	assert.Contains(t, res.NewBadges, "first_quiz")

	again := do(t, http.MethodPost, server.URL+"/v1/quizzes/quiz-1/submissions", token, body)
	require.Equal(t, http.StatusOK, again.StatusCode)
	var noop domain.SubmissionResult
	require.NoError(t, json.NewDecoder(again.Body).Decode(&noop))
	assert.True(t, noop.NoOp)
	assert.Equal(t, int64(10), noop.TotalPoints)

	progress := do(t, http.MethodGet, server.URL+"/v1/me/progress", token, nil)
	require.Equal(t, http.StatusOK, progress.StatusCode)
	var view map[string]any
	require.NoError(t, json.NewDecoder(progress.Body).Decode(&view))
	assert.EqualValues(t, 10, view["totalPoints"])
	assert.EqualValues(t, 1, view["level"])

	rank := do(t, http.MethodGet, server.URL+"/v1/leaderboard/users/alice", token, nil)
	require.Equal(t, http.StatusOK, rank.StatusCode)
	var entry domain.LeaderboardEntry
	require.NoError(t, json.NewDecoder(rank.Body).Decode(&entry))
	assert.Equal(t, 1, entry.Rank)
}

func TestChallengeCompletionAndLeaderboard(t *testing.T) {
	server, resolver := newTestServer(t)
	alice, _ := resolver.IssueToken("alice", time.Hour)
	bob, _ := resolver.IssueToken("bob", time.Hour)

	resp := do(t, http.MethodPost, server.URL+"/v1/challenges/recycling-champion/completions", alice, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = do(t, http.MethodPost, server.URL+"/v1/challenges/bike-to-work/completions", bob, map[string]any{"proof": "photo.jpg"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	lb := do(t, http.MethodGet, server.URL+"/v1/leaderboard?limit=1", bob, nil)
	require.Equal(t, http.StatusOK, lb.StatusCode)
	var board domain.Leaderboard
	require.NoError(t, json.NewDecoder(lb.Body).Decode(&board))
	assert.Equal(t, 2, board.Total)
	require.Len(t, board.Entries, 1)
	assert.Equal(t, "alice", board.Entries[0].UserID)
	assert.Equal(t, int64(45), board.Entries[0].Points)

	weekly := do(t, http.MethodGet, server.URL+"/v1/leaderboard?period=weekly", bob, nil)
	require.Equal(t, http.StatusOK, weekly.StatusCode)
	var week domain.Leaderboard
	require.NoError(t, json.NewDecoder(weekly.Body).Decode(&week))
	assert.Equal(t, 2, week.Total)

	summary := do(t, http.MethodGet, server.URL+"/v1/leaderboard/stats", bob, nil)
	require.Equal(t, http.StatusOK, summary.StatusCode)
	var ls app.LeaderboardStats
	require.NoError(t, json.NewDecoder(summary.Body).Decode(&ls))
	assert.Equal(t, 2, ls.ActiveUsers)
	require.NotNil(t, ls.TopPerformer)
	assert.Equal(t, "alice", ls.TopPerformer.UserID)

	stats := do(t, http.MethodGet, server.URL+"/v1/challenges/bike-to-work/stats", bob, nil)
	require.Equal(t, http.StatusOK, stats.StatusCode)
	var st app.ActivityStats
	require.NoError(t, json.NewDecoder(stats.Body).Decode(&st))
	assert.Equal(t, int64(1), st.Attempts)
}

func TestErrorMapping(t *testing.T) {
	server, resolver := newTestServer(t)
	token, _ := resolver.IssueToken("alice", time.Hour)
	expired, _ := resolver.IssueToken("alice", -time.Minute)

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   interface{}
		status int
		code   string
	}{
		{"no token", http.MethodGet, "/v1/me/progress", "", nil, http.StatusUnauthorized, "INVALID_TOKEN"},
		{"garbage token", http.MethodGet, "/v1/me/progress", "not-a-jwt", nil, http.StatusUnauthorized, "INVALID_TOKEN"},
		{"expired token", http.MethodGet, "/v1/me/progress", expired, nil, http.StatusUnauthorized, "TOKEN_EXPIRED"},
		{"unknown quiz", http.MethodPost, "/v1/quizzes/nope/submissions", token, map[string]any{"answers": [][]string{}}, http.StatusNotFound, "NOT_FOUND"},
		{"wrong answer count", http.MethodPost, "/v1/quizzes/quiz-1/submissions", token, map[string]any{"answers": [][]string{}}, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"no progress yet", http.MethodGet, "/v1/me/progress", token, nil, http.StatusNotFound, "NOT_FOUND"},
		{"bad paging", http.MethodGet, "/v1/leaderboard?offset=-1", token, nil, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"bad period", http.MethodGet, "/v1/leaderboard?period=yearly", token, nil, http.StatusBadRequest, "VALIDATION_FAILED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(t, tc.method, server.URL+tc.path, tc.token, tc.body)
			require.Equal(t, tc.status, resp.StatusCode)
			var body ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tc.code, body.Code)
			assert.False(t, body.Retryable)
		})
	}
}

func TestClassifyRetryableErrors(t *testing.T) {
	status, code := classify(&domain.ConflictError{UserID: "u", Attempts: 8})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "CONFLICT", code)

	status, _ = classify(domain.StoreError("read", assert.AnError))
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestHealthz(t *testing.T) {
	server, _ := newTestServer(t)
	resp := do(t, http.MethodGet, server.URL+"/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
