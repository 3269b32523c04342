package xclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// newTestClient points a client at ts with pacing disabled.
func newTestClient(ts *httptest.Server) *V1Client {
	c := NewV1Client(Credentials{
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
		AccessToken:    "at",
		AccessSecret:   "as",
	})
	c.baseURL = ts.URL
	c.httpClient = ts.Client()
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	return c
}

func TestUserTimelineDecodesPosts(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/statuses/user_timeline.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("screen_name") != "alice" || q.Get("tweet_mode") != "extended" {
			t.Errorf("query = %v", q)
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "OAuth ") || !strings.Contains(auth, "oauth_signature=") {
			t.Errorf("authorization = %q", auth)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id_str":"901","created_at":"Mon Sep 01 10:00:00 +0000 2025","full_text":"fresh thoughts","lang":"en","user":{"screen_name":"alice"}},
			{"id_str":"900","created_at":"Mon Sep 01 09:00:00 +0000 2025","full_text":"RT @bob: olds","lang":"en","user":{"screen_name":"alice"},"retweeted_status":{"id_str":"899"}}
		]`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	posts, err := c.UserTimeline(context.Background(), "alice", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 2 {
		t.Fatalf("posts = %d, want 2", len(posts))
	}
	first := posts[0]
	if first.ID != "901" || first.Author != "alice" || first.Text != "fresh thoughts" {
		t.Fatalf("first post = %+v", first)
	}
	want := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)
	if !first.CreatedAt.Equal(want) {
		t.Fatalf("created at = %v, want %v", first.CreatedAt, want)
	}
	if first.IsRepost {
		t.Fatal("original post flagged as repost")
	}
	if !posts[1].IsRepost {
		t.Fatal("retweet not flagged as repost")
	}
}

func TestPostReplySendsFormAndDecodes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/statuses/update.json" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("status"); got != "@alice great point" {
			t.Errorf("status = %q", got)
		}
		if got := r.PostForm.Get("in_reply_to_status_id"); got != "901" {
			t.Errorf("in_reply_to_status_id = %q", got)
		}
		if auth := r.Header.Get("Authorization"); !strings.Contains(auth, "oauth_signature=") {
			t.Errorf("authorization = %q", auth)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id_str":"1000","created_at":"Mon Sep 01 10:05:00 +0000 2025","text":"@alice great point","user":{"screen_name":"warblebot"}}`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	post, err := c.PostReply(context.Background(), "901", "alice", "great point")
	if err != nil {
		t.Fatal(err)
	}
	if post.ID != "1000" || post.Author != "warblebot" {
		t.Fatalf("posted = %+v", post)
	}
}

func TestLikePostSendsID(t *testing.T) {
	var gotID string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/favorites/create.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = r.ParseForm()
		gotID = r.PostForm.Get("id")
		_, _ = w.Write([]byte(`{"id_str":"901"}`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	if err := c.LikePost(context.Background(), "901"); err != nil {
		t.Fatal(err)
	}
	if gotID != "901" {
		t.Fatalf("liked id = %q", gotID)
	}
}

func TestRateLimitBecomesTypedError(t *testing.T) {
	reset := time.Now().Add(10 * time.Minute).Unix()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-rate-limit-reset", strconv.FormatInt(reset, 10))
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	err := c.LikePost(context.Background(), "901")
	if err == nil {
		t.Fatal("expected error")
	}
	rl, ok := IsRateLimited(err)
	if !ok {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if !rl.ResetAt.Equal(time.Unix(reset, 0).UTC()) {
		t.Fatalf("reset at = %v, want %v", rl.ResetAt, time.Unix(reset, 0).UTC())
	}
	if errors.Is(err, ErrTransient) {
		t.Fatal("rate limit must not be classified transient")
	}
}

func TestRetryAfterFallback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	before := time.Now()
	err := c.LikePost(context.Background(), "901")
	rl, ok := IsRateLimited(err)
	if !ok {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	wait := rl.ResetAt.Sub(before)
	if wait < 119*time.Second || wait > 121*time.Second {
		t.Fatalf("reset delay = %v, want ~120s", wait)
	}
}

func TestErrorCode88IsRateLimited(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errors":[{"code":88,"message":"Rate limit exceeded"}]}`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	err := c.LikePost(context.Background(), "901")
	rl, ok := IsRateLimited(err)
	if !ok {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if !rl.ResetAt.IsZero() {
		t.Fatalf("no reset header, want zero reset, got %v", rl.ResetAt)
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	_, err := c.UserTimeline(context.Background(), "alice", 5)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient, got %v", err)
	}
}

func TestClientErrorIsPermanent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errors":[{"code":220,"message":"credentials"}]}`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	err := c.LikePost(context.Background(), "901")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrTransient) {
		t.Fatalf("4xx must not be transient: %v", err)
	}
	if _, ok := IsRateLimited(err); ok {
		t.Fatalf("4xx must not be rate limited: %v", err)
	}
	if !strings.Contains(err.Error(), "403") {
		t.Fatalf("error should carry status: %v", err)
	}
}

func TestErrorSnippetCutsOnRuneBoundary(t *testing.T) {
	// 300 three-byte runes: a 200-byte cut would land mid-rune.
	body := strings.Repeat("☃", 300)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(body))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	err := c.LikePost(context.Background(), "901")
	if err == nil {
		t.Fatal("expected error")
	}
	if !utf8.ValidString(err.Error()) {
		t.Fatalf("error text is not valid UTF-8: %q", err.Error())
	}
	if n := utf8.RuneCountInString(err.Error()); n > 250 {
		t.Fatalf("error text runs %d runes, want the body bounded near 200", n)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	hits := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	for i := 0; i < 5; i++ {
		if err := c.LikePost(context.Background(), "901"); !errors.Is(err, ErrTransient) {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	hitsBefore := hits
	err := c.LikePost(context.Background(), "901")
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("open breaker must be transient: %v", err)
	}
	if hits != hitsBefore {
		t.Fatalf("open breaker still hit the server: %d -> %d", hitsBefore, hits)
	}
}
