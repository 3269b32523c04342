package xclient

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Credentials are the four OAuth 1.0a secrets of a v1.1 app + user pair.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string
}

// oauth1Signature computes the HMAC-SHA1 request signature over the
// method, the bare endpoint URL, and every query, form, and oauth
// parameter, per RFC 5849. Pure so it can be checked against the
// platform's published signing example.
func oauth1Signature(creds Credentials, method, rawURL string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	paramParts := make([]string, 0, len(keys))
	for _, k := range keys {
		paramParts = append(paramParts, rfc3986(k)+"="+rfc3986(params[k]))
	}
	paramStr := strings.Join(paramParts, "&")

	u, _ := url.Parse(rawURL)
	baseURL := u.Scheme + "://" + u.Host + u.Path
	base := strings.ToUpper(method) + "&" + rfc3986(baseURL) + "&" + rfc3986(paramStr)
	signingKey := rfc3986(creds.ConsumerSecret) + "&" + rfc3986(creds.AccessSecret)
	mac := hmac.New(sha1.New, []byte(signingKey))
	_, _ = mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// oauth1Header assembles the Authorization header value for a request
// with the given extra (query + form) parameters.
func oauth1Header(creds Credentials, method, rawURL string, extra map[string]string, timestamp, nonce string) string {
	oauth := map[string]string{
		"oauth_consumer_key":     creds.ConsumerKey,
		"oauth_nonce":            nonce,
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        timestamp,
		"oauth_token":            creds.AccessToken,
		"oauth_version":          "1.0",
	}
	all := make(map[string]string, len(oauth)+len(extra))
	for k, v := range oauth {
		all[k] = v
	}
	for k, v := range extra {
		all[k] = v
	}
	oauth["oauth_signature"] = oauth1Signature(creds, method, rawURL, all)

	keys := make([]string, 0, len(oauth))
	for k := range oauth {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=\"%s\"", rfc3986(k), rfc3986(oauth[k])))
	}
	return "OAuth " + strings.Join(parts, ", ")
}

// rfc3986 percent-encodes s the way OAuth base strings require:
// space as %20 rather than +, and * escaped.
func rfc3986(s string) string {
	s = url.QueryEscape(s)
	s = strings.ReplaceAll(s, "+", "%20")
	s = strings.ReplaceAll(s, "*", "%2A")
	return s
}
