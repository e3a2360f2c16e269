// Package registry holds the hibernator's per-site table: each configured
// site's immutable config alongside the one SiteController that owns it.
//
// Sites is built once during bootstrap and handed by reference to the
// dispatcher and the inspection API, so no synchronization is needed for
// the lookups both of them do on every request.
package registry

import (
	"sort"
	"strings"

	"github.com/nginx-hibernator/hibernator/internal/config"
	"github.com/nginx-hibernator/hibernator/internal/controller"
)

// Entry pairs one site's config with the controller driving its lifecycle.
type Entry struct {
	Config     config.SiteConfig
	Controller *controller.SiteController
}

// Sites is the read-only, host-and-name-indexed table of every configured
// site. Once New returns, a Sites value is never mutated again.
type Sites struct {
	byHost map[string]*Entry
	byName map[string]*Entry
	all    []*Entry
}

// New indexes entries by every host alias and by site name. It panics on a
// duplicate host or name. config.Load already rejects duplicate site names;
// a host listed by two sites is not rejected there and panics here.
func New(entries []*Entry) *Sites {
	s := &Sites{
		byHost: make(map[string]*Entry, len(entries)),
		byName: make(map[string]*Entry, len(entries)),
		all:    append([]*Entry(nil), entries...),
	}

	sort.Slice(s.all, func(i, j int) bool { return s.all[i].Config.Name < s.all[j].Config.Name })

	for _, e := range entries {
		if _, dup := s.byName[e.Config.Name]; dup {
			panic("registry: duplicate site name " + e.Config.Name)
		}
		s.byName[e.Config.Name] = e

		for host := range e.Config.HostSet() {
			host = strings.ToLower(host)
			if _, dup := s.byHost[host]; dup {
				panic("registry: duplicate host " + host)
			}
			s.byHost[host] = e
		}
	}

	return s
}

// ByHost resolves the site owning the (already-lowercased) authority from a
// request's Host header.
func (s *Sites) ByHost(host string) (*Entry, bool) {
	e, ok := s.byHost[strings.ToLower(host)]
	return e, ok
}

// ByName resolves a site by its configured name, used by the inspection API
// path parameters.
func (s *Sites) ByName(name string) (*Entry, bool) {
	e, ok := s.byName[name]
	return e, ok
}

// All returns every site, ordered by name.
func (s *Sites) All() []*Entry {
	return s.all
}
