// Package proxy forwards client requests to the configured LLM upstreams and
// attaches an observer to every response body on the way back.
package proxy

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"

	"github.com/lmgate/lmgate/internal/auth"
	"github.com/lmgate/lmgate/internal/config"
	"github.com/lmgate/lmgate/internal/observe"
	log "github.com/sirupsen/logrus"
)

type route struct {
	prefix string
	target *url.URL
}

// Proxy routes requests by path prefix to an upstream.
type Proxy struct {
	routes    []route
	allowlist *auth.AllowList
	observer  *observe.Observer
	transport http.RoundTripper
}

// New builds a proxy over upstreams. A nil allowlist disables key checks.
func New(upstreams []config.Upstream, allowlist *auth.AllowList, observer *observe.Observer, transport http.RoundTripper) (*Proxy, error) {
	p := &Proxy{allowlist: allowlist, observer: observer, transport: transport}
	for _, u := range upstreams {
		target, err := url.Parse(u.Target)
		if err != nil {
			return nil, fmt.Errorf("parse upstream %q: %w", u.Target, err)
		}
		if target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("invalid upstream url %q", u.Target)
		}
		p.routes = append(p.routes, route{prefix: strings.TrimRight(u.Prefix, "/"), target: target})
	}
	// Longest prefix wins.
	sort.Slice(p.routes, func(i, j int) bool { return len(p.routes[i].prefix) > len(p.routes[j].prefix) })
	return p, nil
}

func (p *Proxy) match(path string) (route, bool) {
	for _, rt := range p.routes {
		if path == rt.prefix || strings.HasPrefix(path, rt.prefix+"/") {
			return rt, true
		}
	}
	return route{}, false
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt, ok := p.match(r.URL.Path)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "no upstream for path")
		return
	}

	var lmgateID string
	if p.allowlist != nil {
		key, err := auth.ExtractKey(r.Header)
		if err != nil {
			writeJSONError(w, http.StatusForbidden, "forbidden")
			return
		}
		entry, ok := p.allowlist.Lookup(key)
		if !ok {
			writeJSONError(w, http.StatusForbidden, "forbidden")
			return
		}
		lmgateID = entry.ID
	}

	meta := observe.Meta{
		ClientIP:      clientIP(r),
		Method:        r.Method,
		URI:           r.URL.RequestURI(),
		Host:          rt.target.Host,
		Authorization: r.Header.Get("Authorization"),
		APIKey:        r.Header.Get("X-Api-Key"),
		LMGateID:      lmgateID,
	}

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Path = strings.TrimPrefix(pr.In.URL.Path, rt.prefix)
			pr.Out.URL.RawPath = ""
			pr.SetURL(rt.target)
			pr.SetXForwarded()
		},
		ModifyResponse: func(resp *http.Response) error {
			if observe.Skipped(resp.StatusCode) {
				return nil
			}
			m := meta
			m.Status = resp.StatusCode
			m.ContentEncoding = resp.Header.Get("Content-Encoding")
			resp.Body = observe.NewBody(resp.Request.Context(), resp.Body, p.observer, m)
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Warnf("proxy: upstream %s: %v", rt.target.Host, err)
			writeJSONError(w, http.StatusBadGateway, "upstream request failed")
		},
		Transport:     p.transport,
		FlushInterval: -1,
	}
	rp.ServeHTTP(w, r)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
		},
	})
}
