package robots

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hyperifyio/webpipe/internal/cache"
)

type Source int

const (
	SourceNetwork Source = iota
	SourceMemory
	SourceCache304
)

type Rules struct {
	Groups []Group
}

type Group struct {
	Agents     []string
	Allow      []string
	Disallow   []string
	CrawlDelay *time.Duration
}

type Manager struct {
	HTTPClient        *http.Client
	Cache             *cache.HTTPCache
	UserAgent         string
	EntryExpiry       time.Duration
	AllowPrivateHosts bool

	mu  sync.Mutex
	mem map[string]memEntry
	now func() time.Time
}

type memEntry struct {
	rules  Rules
	expiry time.Time
}

// IsAllowed fetches (or reuses the cached) robots.txt for targetURL's origin
// and reports whether userAgent may fetch targetURL's path. This is the
// politeness gate the Fetcher consults before a network fetch when honoring
// robots is enabled. A transport failure or a non-2xx status other than 404
// yields Get's deny-all ruleset (fails closed); an error returned by Get
// (e.g. a private host, an unreadable body) fails open (allowed=true).
func (m *Manager) IsAllowed(ctx context.Context, targetURL, userAgent string) (bool, error) {
	u, err := url.Parse(targetURL)
	if err != nil || u == nil || !isHTTPScheme(u) {
		return false, fmt.Errorf("parse url: %w", err)
	}
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
	rules, _, err := m.Get(ctx, robotsURL)
	if err != nil {
		return true, nil
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return rules.IsAllowed(userAgent, path), nil
}

func (m *Manager) Get(ctx context.Context, robotsURL string) (Rules, Source, error) {
	if m.now == nil {
		m.now = time.Now
	}
	if m.mem == nil {
		m.mem = make(map[string]memEntry)
	}
	u, err := url.Parse(robotsURL)
	if err != nil {
		return Rules{}, SourceNetwork, fmt.Errorf("parse url: %w", err)
	}
	if u == nil || !isHTTPScheme(u) {
		return Rules{}, SourceNetwork, fmt.Errorf("unsupported url scheme: %q", robotsURL)
	}
	host := u.Hostname()
	if !m.AllowPrivateHosts && isLocalOrPrivateHost(host) {
		return Rules{}, SourceNetwork, fmt.Errorf("private host not allowed: %s", host)
	}

	m.mu.Lock()
	if ent, ok := m.mem[robotsURL]; ok && m.now().Before(ent.expiry) {
		r := ent.rules
		m.mu.Unlock()
		return r, SourceMemory, nil
	}
	m.mu.Unlock()

	var etag, lastMod string
	if m.Cache != nil {
		if meta, err := m.Cache.LoadMeta(ctx, robotsURL); err == nil && meta != nil {
			etag = meta.ETag
			lastMod = meta.LastModified
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return Rules{}, SourceNetwork, fmt.Errorf("new request: %w", err)
	}
	if m.UserAgent != "" {
		req.Header.Set("User-Agent", m.UserAgent)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastMod != "" {
		req.Header.Set("If-Modified-Since", lastMod)
	}
	client := m.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		// Transport failure (timeout, connection refused): treat the host as
		// temporarily fully disallowed rather than surfacing an error, so a
		// flaky robots.txt fetch fails closed instead of open.
		rules := denyAllRules()
		m.storeMem(robotsURL, rules)
		return rules, SourceNetwork, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && m.Cache != nil {
		body, err := m.Cache.LoadBody(ctx, robotsURL)
		if err != nil {
			return Rules{}, SourceCache304, fmt.Errorf("load cached robots: %w", err)
		}
		rules := parseRobots(string(body))
		m.storeMem(robotsURL, rules)
		return rules, SourceCache304, nil
	}
	if resp.StatusCode == http.StatusNotFound {
		rules := Rules{}
		m.storeMem(robotsURL, rules)
		return rules, SourceNetwork, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rules := denyAllRules()
		m.storeMem(robotsURL, rules)
		return rules, SourceNetwork, nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Rules{}, SourceNetwork, fmt.Errorf("read robots: %w", err)
	}
	if m.Cache != nil {
		_ = m.Cache.Save(ctx, robotsURL, "text/plain", resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), data)
	}
	rules := parseRobots(string(data))
	m.storeMem(robotsURL, rules)
	return rules, SourceNetwork, nil
}

func (m *Manager) storeMem(key string, rules Rules) {
	exp := m.EntryExpiry
	if exp <= 0 {
		exp = 30 * time.Minute
	}
	m.mu.Lock()
	m.mem[key] = memEntry{rules: rules, expiry: m.now().Add(exp)}
	m.mu.Unlock()
}

// denyAllRules is the fail-closed ruleset applied when robots.txt could not
// be retrieved due to a transport error or an infrastructure-class status
// (5xx, 401, 403): disallow everything for every agent until the entry
// expires and a fetch is retried.
func denyAllRules() Rules {
	return Rules{Groups: []Group{{Agents: []string{"*"}, Disallow: []string{"/"}}}}
}

func parseRobots(text string) Rules {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var groups []Group
	current := Group{}
	flush := func() {
		if len(current.Agents) == 0 && len(current.Allow) == 0 && len(current.Disallow) == 0 && current.CrawlDelay == nil {
			return
		}
		groups = append(groups, current)
		current = Group{}
	}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:colon]))
		val := strings.TrimSpace(line[colon+1:])
		switch key {
		case "user-agent", "useragent":
			if len(current.Agents) > 0 && (len(current.Allow) > 0 || len(current.Disallow) > 0 || current.CrawlDelay != nil) {
				flush()
			}
			current.Agents = append(current.Agents, strings.ToLower(val))
		case "allow":
			current.Allow = append(current.Allow, val)
		case "disallow":
			current.Disallow = append(current.Disallow, val)
		case "crawl-delay", "crawldelay":
			if s := strings.TrimSpace(val); s != "" {
				if d, err := time.ParseDuration(s + "s"); err == nil {
					dd := d
					current.CrawlDelay = &dd
				}
			}
		}
	}
	flush()
	return Rules{Groups: groups}
}

// IsAllowed reports whether userAgent may fetch path under rules, using the
// standard longest-pattern-wins precedence: among all Allow/Disallow
// patterns in the group matching userAgent (falling back to "*" when no
// specific group matches), the pattern with the most characters wins; ties
// favor Allow. No matching pattern means allowed. Patterns support '*' as a
// multi-character wildcard and a trailing '$' as an end-of-path anchor, per
// the de-facto robots.txt extensions.
func (rules Rules) IsAllowed(userAgent, path string) bool {
	group, ok := matchGroup(rules, userAgent)
	if !ok {
		return true
	}
	bestLen := -1
	bestAllow := true
	consider := func(pattern string, allow bool) {
		if pattern == "" {
			return
		}
		re, err := compileRobotsPattern(pattern)
		if err != nil || !re.MatchString(path) {
			return
		}
		if len(pattern) > bestLen || (len(pattern) == bestLen && allow) {
			bestLen = len(pattern)
			bestAllow = allow
		}
	}
	for _, p := range group.Disallow {
		consider(p, false)
	}
	for _, p := range group.Allow {
		consider(p, true)
	}
	if bestLen < 0 {
		return true
	}
	return bestAllow
}

// CrawlDelayFor returns the crawl delay of the group matching userAgent, or
// nil when no group matches or the matched group sets none.
func (rules Rules) CrawlDelayFor(userAgent string) *time.Duration {
	group, ok := matchGroup(rules, userAgent)
	if !ok {
		return nil
	}
	return group.CrawlDelay
}

// compileRobotsPattern translates a robots.txt path pattern ('*' wildcard,
// optional trailing '$' end anchor) into an anchored-at-start regexp.
func compileRobotsPattern(pattern string) (*regexp.Regexp, error) {
	endAnchor := strings.HasSuffix(pattern, "$")
	body := strings.TrimSuffix(pattern, "$")
	parts := strings.Split(body, "*")
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = regexp.QuoteMeta(p)
	}
	s := "^" + strings.Join(quoted, ".*")
	if endAnchor {
		s += "$"
	}
	return regexp.Compile(s)
}

// matchGroup finds the most specific group whose Agents list contains
// userAgent (case-insensitive), falling back to a "*" group.
func matchGroup(rules Rules, userAgent string) (Group, bool) {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	var wildcard Group
	haveWildcard := false
	for _, g := range rules.Groups {
		for _, a := range g.Agents {
			if a == ua {
				return g, true
			}
			if a == "*" {
				wildcard = g
				haveWildcard = true
			}
		}
	}
	return wildcard, haveWildcard
}

func isHTTPScheme(u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

func isLocalOrPrivateHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "localhost" || h == "localhost.localdomain" || h == "::1" || h == "[::1]" {
		return true
	}
	if ip := net.ParseIP(h); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return true
		}
	}
	return false
}
