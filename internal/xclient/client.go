package xclient

import (
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"warble/internal/model"
	"warble/internal/util"
)

// XClient defines the platform calls the scheduler performs.
type XClient interface {
	UserTimeline(ctx context.Context, handle string, count int) ([]model.Post, error)
	PostReply(ctx context.Context, inReplyTo, author, text string) (model.Post, error)
	LikePost(ctx context.Context, postID string) error
}

// V1Client talks to the X API v1.1 with OAuth 1.0a user credentials.
// It paces requests and classifies failures; it does not retry. The
// scheduler owns retry policy at tick granularity, so a failed call
// surfaces immediately as transient, rate-limited, or permanent.
type V1Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	creds      Credentials
	nowFn      func() time.Time
	nonceFn    func() string
}

var _ XClient = (*V1Client)(nil)

func NewV1Client(creds Credentials) *V1Client {
	return &V1Client{
		baseURL:    "https://api.twitter.com/1.1",
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    newLimiter(),
		breaker:    newBreaker("x-api"),
		creds:      creds,
		nowFn:      time.Now,
		nonceFn:    func() string { return strconv.FormatInt(rand.Int63(), 36) },
	}
}

// UserTimeline returns recent posts from one account, newest first,
// as the platform orders them. Reposts come back flagged so the
// caller can skip them.
func (c *V1Client) UserTimeline(ctx context.Context, handle string, count int) ([]model.Post, error) {
	if handle == "" {
		return nil, errors.New("empty handle")
	}
	query := url.Values{}
	query.Set("screen_name", handle)
	query.Set("count", strconv.Itoa(clamp(count, 1, 200)))
	query.Set("tweet_mode", "extended")
	data, err := c.do(ctx, http.MethodGet, "/statuses/user_timeline.json", query, nil)
	if err != nil {
		return nil, err
	}
	var raw []rawTweet
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.WithMessage(err, "decode timeline")
	}
	out := make([]model.Post, 0, len(raw))
	for _, t := range raw {
		out = append(out, t.post())
	}
	return out, nil
}

// PostReply publishes text as a reply to the given post, prefixed
// with the author mention the platform requires for threading.
func (c *V1Client) PostReply(ctx context.Context, inReplyTo, author, text string) (model.Post, error) {
	if inReplyTo == "" || author == "" {
		return model.Post{}, errors.New("reply needs a post id and author")
	}
	form := url.Values{}
	form.Set("status", "@"+author+" "+text)
	form.Set("in_reply_to_status_id", inReplyTo)
	data, err := c.do(ctx, http.MethodPost, "/statuses/update.json", nil, form)
	if err != nil {
		return model.Post{}, err
	}
	var raw rawTweet
	if err := json.Unmarshal(data, &raw); err != nil {
		return model.Post{}, errors.WithMessage(err, "decode update")
	}
	return raw.post(), nil
}

// LikePost favorites the given post.
func (c *V1Client) LikePost(ctx context.Context, postID string) error {
	if postID == "" {
		return errors.New("empty post id")
	}
	form := url.Values{}
	form.Set("id", postID)
	_, err := c.do(ctx, http.MethodPost, "/favorites/create.json", nil, form)
	return err
}

// do signs and executes one API call through the pacer and breaker.
// A nil error means the status was below 400 and the body is returned
// whole.
func (c *V1Client) do(ctx context.Context, method, endpoint string, query, form url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	reqURL := c.baseURL + endpoint
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	var body io.Reader
	if len(form) > 0 {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, err
	}
	if len(form) > 0 {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	// Query and form parameters both belong in the signature base.
	params := make(map[string]string, len(query)+len(form))
	for k := range query {
		params[k] = query.Get(k)
	}
	for k := range form {
		params[k] = form.Get(k)
	}
	ts := strconv.FormatInt(c.nowFn().Unix(), 10)
	req.Header.Set("Authorization", oauth1Header(c.creds, method, reqURL, params, ts, c.nonceFn()))
	req.Header.Set("Accept", "application/json")

	out, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, errors.WithMessagef(ErrTransient, "%s: %v", endpoint, err)
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, errors.WithMessagef(ErrTransient, "%s: read body: %v", endpoint, err)
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, &RateLimitError{Endpoint: endpoint, ResetAt: parseReset(resp.Header, c.nowFn())}
		case resp.StatusCode >= 500:
			return nil, errors.WithMessagef(ErrTransient, "%s: status %d", endpoint, resp.StatusCode)
		case resp.StatusCode >= 400:
			if rateLimitedBody(data) {
				return nil, &RateLimitError{Endpoint: endpoint, ResetAt: parseReset(resp.Header, c.nowFn())}
			}
			return nil, errors.Errorf("%s: status %d: %s", endpoint, resp.StatusCode, snippet(data))
		}
		return data, nil
	})
	if err != nil {
		return nil, breakerErr(err)
	}
	return out.([]byte), nil
}

// parseReset reads the platform's backoff signal from response
// headers: x-rate-limit-reset carries epoch seconds, Retry-After a
// delay or an HTTP date. Zero when neither is present.
func parseReset(h http.Header, now time.Time) time.Time {
	if v := h.Get("x-rate-limit-reset"); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs > 0 {
			return time.Unix(secs, 0).UTC()
		}
	}
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return now.Add(time.Duration(secs) * time.Second).UTC()
		}
		if t, err := http.ParseTime(v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// rateLimitedBody reports whether a v1.1 error payload carries code 88
// ("Rate limit exceeded"), which the platform sometimes sends without a
// 429 status.
func rateLimitedBody(data []byte) bool {
	var payload struct {
		Errors []struct {
			Code int `json:"code"`
		} `json:"errors"`
	}
	if json.Unmarshal(data, &payload) != nil {
		return false
	}
	for _, e := range payload.Errors {
		if e.Code == 88 {
			return true
		}
	}
	return false
}

// rawTweet is the subset of a v1.1 status payload the bot reads.
type rawTweet struct {
	IDStr     string `json:"id_str"`
	CreatedAt string `json:"created_at"`
	FullText  string `json:"full_text"`
	Text      string `json:"text"`
	Lang      string `json:"lang"`
	User      struct {
		ScreenName string `json:"screen_name"`
	} `json:"user"`
	RetweetedStatus json.RawMessage `json:"retweeted_status"`
}

func (t rawTweet) post() model.Post {
	// Example: Mon Jan 2 15:04:05 -0700 2006
	ts, _ := time.Parse(time.RubyDate, t.CreatedAt)
	text := t.FullText
	if text == "" {
		text = t.Text
	}
	return model.Post{
		ID:        t.IDStr,
		Author:    t.User.ScreenName,
		Text:      text,
		CreatedAt: ts,
		Language:  t.Lang,
		IsRepost:  len(t.RetweetedStatus) > 0 || util.IsRepost(text),
	}
}

// snippet bounds an error body for log-friendly messages, cutting on
// rune boundaries.
func snippet(data []byte) string {
	return util.TruncateRunes(strings.TrimSpace(string(data)), 200)
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
