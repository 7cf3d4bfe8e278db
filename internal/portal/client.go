// Package portal is a minimal client for the k8n.cn student check-in pages.
// It impersonates the WeChat in-app browser the portal expects and keeps one
// authenticated session per account.
package portal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// userAgent is the fixed mobile-browser impersonation string the portal is
// known to accept. Do not reformat.
const userAgent = "Mozilla/5.0 (Linux; Android 9; AKT-AK47 Build/USER-AK47; wv) AppleWebKit/537.36 (KHTML, like Gecko) Version/4.0 Chrome/116.0.0.0 Mobile Safari/537.36 XWEB/1160065 MMWEBSDK/20231202 MMWEBID/1136 MicroMessenger/8.0.47.2560(0x28002F35) WeChat/arm64 Weixin NetType/4G Language/zh_CN ABI/arm64"

// SuccessPhrase is the portal's canonical success result.
const SuccessPhrase = "签到成功"

// Server-rendered markers.
const (
	errorMarker    = "出错"
	loginMarker    = "登录"
	passwordMarker = "输入密码"
	signedMarker   = "已签"
)

var (
	gpsCardRe = regexp.MustCompile(`punchcard_(\d+)`)
	pwdCardRe = regexp.MustCompile(`punch_pwd_frm_(\d+)`)
)

// ErrSessionInvalid reports that the account's cookie no longer
// authenticates and a human has to log in again.
var ErrSessionInvalid = errors.New("portal: session requires re-authentication")

// Client is one authenticated session against the portal for exactly one
// account and course. It performs no retries; that policy belongs to the
// check-in engine.
type Client struct {
	hc       *http.Client
	base     string
	courseID string
	cred     Credential
}

// NewClient parses the raw cookie and builds a session. A cookie without the
// credential fragment fails here with ErrMalformedCookie.
func NewClient(baseURL, courseID, rawCookie string) (*Client, error) {
	cred, err := ParseCookie(rawCookie)
	if err != nil {
		return nil, err
	}
	return &Client{
		hc:       &http.Client{Timeout: 10 * time.Second},
		base:     strings.TrimRight(baseURL, "/"),
		courseID: courseID,
		cred:     cred,
	}, nil
}

// DisplayName is the username embedded in the cookie, if any.
func (c *Client) DisplayName() string { return c.cred.DisplayName }

func (c *Client) courseURL() string {
	return fmt.Sprintf("%s/student/course/%s", c.base, c.courseID)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Cookie", c.cred.Fragment)
	req.Header.Set("Referer", c.courseURL())
}

// DiscoverPending fetches the course punch page and returns the ids of
// check-in cards that are still open. A card already marked signed is
// skipped. Returns ErrSessionInvalid when the page demands re-login;
// transport and parse failures surface as ordinary errors so the caller can
// tell them apart from "nothing pending".
func (c *Client) DiscoverPending(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.courseURL()+"/punchs", nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("discover: status %d", res.StatusCode)
	}

	page := string(body)
	if strings.Contains(page, errorMarker) ||
		(strings.Contains(page, loginMarker) && strings.Contains(page, passwordMarker)) {
		return nil, ErrSessionInvalid
	}

	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("discover: parse page: %w", err)
	}

	var targets []string
	for _, card := range findAll(doc, isCardBody) {
		markup := renderNode(card)
		if strings.Contains(markup, signedMarker) {
			continue
		}
		// Plain GPS card first, password-protected form second; first hit wins.
		if m := gpsCardRe.FindStringSubmatch(markup); m != nil {
			targets = append(targets, m[1])
			continue
		}
		if m := pwdCardRe.FindStringSubmatch(markup); m != nil {
			targets = append(targets, m[1])
		}
	}
	return targets, nil
}

// Submit posts one check-in and returns the portal's human-readable outcome.
// A transport failure becomes the outcome text itself, which can never match
// the success phrase.
func (c *Client) Submit(ctx context.Context, targetID string, lat, lng, acc float64, password string) string {
	form := url.Values{
		"id":       {targetID},
		"lat":      {formatCoord(lat)},
		"lng":      {formatCoord(lng)},
		"acc":      {formatCoord(acc)},
		"res":      {""},
		"gps_addr": {""},
		"pwd":      {password},
	}

	submitURL := fmt.Sprintf("%s/student/punchs/course/%s/%s", c.base, c.courseID, targetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, submitURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err.Error()
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.hc.Do(req)
	if err != nil {
		return err.Error()
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return err.Error()
	}
	if res.StatusCode >= 400 {
		return fmt.Sprintf("submit: status %d", res.StatusCode)
	}

	outcome, ok := resultText(body)
	if !ok {
		return "unrecognized response"
	}
	return outcome
}

// resultText extracts the first heading-level element of the response, with
// the portal's <div id="title"> wrapper as fallback.
func resultText(body []byte) (string, bool) {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return "", false
	}
	if h := findFirst(doc, isHeading); h != nil {
		return strings.TrimSpace(innerText(h)), true
	}
	if d := findFirst(doc, isTitleDiv); d != nil {
		return strings.TrimSpace(innerText(d)), true
	}
	return "", false
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// --- HTML helpers ---

func isCardBody(n *html.Node) bool {
	if n.Type != html.ElementNode || n.Data != "div" {
		return false
	}
	for _, a := range n.Attr {
		if a.Key == "class" && strings.Contains(a.Val, "card-body") {
			return true
		}
	}
	return false
}

func isHeading(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.Data {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return true
	}
	return false
}

func isTitleDiv(n *html.Node) bool {
	if n.Type != html.ElementNode || n.Data != "div" {
		return false
	}
	for _, a := range n.Attr {
		if a.Key == "id" && a.Val == "title" {
			return true
		}
	}
	return false
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if match(n) {
			out = append(out, n)
			return // card blocks don't nest
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func innerText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func renderNode(n *html.Node) string {
	var sb strings.Builder
	_ = html.Render(&sb, n)
	return sb.String()
}
