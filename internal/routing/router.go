package routing

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
)

// Rule 将 URL 模式映射到策略。
type Rule struct {
	Kind     MatchKind
	Pattern  string
	Strategy Strategy
}

// Request 是路由判断所需的最小请求视图。
type Request struct {
	Method   string
	URL      *url.URL
	Navigate bool
}

// Decision 是一次分类的结果；Intercept 为 false 时请求原样透传。
type Decision struct {
	Intercept bool
	Strategy  Strategy
	// Rule 记录命中的规则，默认策略或导航请求时为空。
	Rule   *Rule
	Reason string
}

// DefaultExcludePatterns 是浏览器扩展等永不拦截的 URL 片段。
var DefaultExcludePatterns = []string{"chrome-extension", "moz-extension", "safari-extension"}

// DefaultRules 返回站点未配置路由时使用的规则表。
func DefaultRules() []Rule {
	return []Rule{
		{Kind: MatchPrefix, Pattern: "/api/", Strategy: NetworkFirst},
		{Kind: MatchPrefix, Pattern: "/static/", Strategy: CacheFirst},
		{Kind: MatchSuffix, Pattern: ".png", Strategy: CacheFirst},
		{Kind: MatchSuffix, Pattern: ".jpg", Strategy: CacheFirst},
		{Kind: MatchSuffix, Pattern: ".svg", Strategy: CacheFirst},
		{Kind: MatchSuffix, Pattern: ".css", Strategy: StaleWhileRevalidate},
		{Kind: MatchSuffix, Pattern: ".js", Strategy: StaleWhileRevalidate},
	}
}

// Router 按固定优先级（prefix → suffix → origin）评估规则。
type Router struct {
	prefix   []Rule
	suffix   []Rule
	origin   []Rule
	fallback Strategy
	exclude  []string
}

// Options 用于构造 Router。
type Options struct {
	Rules           []Rule
	DefaultStrategy Strategy
	ExcludePatterns []string
}

// NewRouter 校验规则并按类别分组，同一类别内保持配置顺序。
func NewRouter(opts Options) (*Router, error) {
	fallback := opts.DefaultStrategy
	if fallback == 0 {
		fallback = NetworkFirst
	}
	if !fallback.Valid() {
		return nil, errors.New("invalid default strategy")
	}

	exclude := opts.ExcludePatterns
	if exclude == nil {
		exclude = DefaultExcludePatterns
	}

	r := &Router{
		fallback: fallback,
		exclude:  append([]string(nil), exclude...),
	}
	for _, rule := range opts.Rules {
		if rule.Pattern == "" {
			return nil, errors.New("rule pattern required")
		}
		if !rule.Strategy.Valid() {
			return nil, errors.New("rule strategy invalid: " + rule.Pattern)
		}
		switch rule.Kind {
		case MatchPrefix:
			r.prefix = append(r.prefix, rule)
		case MatchSuffix:
			r.suffix = append(r.suffix, rule)
		case MatchOrigin:
			r.origin = append(r.origin, rule)
		default:
			return nil, errors.New("rule kind invalid: " + rule.Pattern)
		}
	}
	return r, nil
}

// Classify 为请求选出唯一策略，无副作用。
func (r *Router) Classify(req Request) Decision {
	if req.Method != http.MethodGet {
		return Decision{Reason: "method"}
	}
	if req.URL == nil {
		return Decision{Reason: "url"}
	}
	scheme := strings.ToLower(req.URL.Scheme)
	if scheme != "http" && scheme != "https" {
		return Decision{Reason: "scheme"}
	}
	raw := req.URL.String()
	for _, pattern := range r.exclude {
		if pattern != "" && strings.Contains(raw, pattern) {
			return Decision{Reason: "excluded"}
		}
	}

	if req.Navigate {
		return Decision{Intercept: true, Strategy: NetworkFirst, Reason: "navigation"}
	}

	path := req.URL.Path
	if path == "" {
		path = "/"
	}
	for i := range r.prefix {
		if strings.HasPrefix(path, r.prefix[i].Pattern) {
			return r.matched(&r.prefix[i])
		}
	}
	for i := range r.suffix {
		if strings.HasSuffix(path, r.suffix[i].Pattern) {
			return r.matched(&r.suffix[i])
		}
	}
	for i := range r.origin {
		if originMatches(req.URL, r.origin[i].Pattern) {
			return r.matched(&r.origin[i])
		}
	}
	return Decision{Intercept: true, Strategy: r.fallback, Reason: "default"}
}

// Default 返回未命中任何规则时的策略。
func (r *Router) Default() Strategy {
	return r.fallback
}

func (r *Router) matched(rule *Rule) Decision {
	matched := *rule
	return Decision{Intercept: true, Strategy: rule.Strategy, Rule: &matched, Reason: rule.Kind.String()}
}

// originMatches 支持 "https://cdn.example.com" 与裸 host 两种写法。
func originMatches(u *url.URL, pattern string) bool {
	pattern = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(pattern), "/"))
	host := strings.ToLower(u.Host)
	if strings.Contains(pattern, "://") {
		return strings.ToLower(u.Scheme)+"://"+host == pattern
	}
	return host == pattern
}

// IsNavigation 根据 Fetch Metadata 判断是否为顶层文档加载。
func IsNavigation(method string, header http.Header) bool {
	if method != http.MethodGet {
		return false
	}
	if mode := header.Get("Sec-Fetch-Mode"); mode != "" {
		return strings.EqualFold(mode, "navigate")
	}
	if dest := header.Get("Sec-Fetch-Dest"); dest != "" {
		return strings.EqualFold(dest, "document")
	}
	accept := header.Get("Accept")
	return strings.HasPrefix(strings.TrimSpace(accept), "text/html")
}
