package api

import (
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/nginx-hibernator/hibernator/internal/domain"
	"github.com/nginx-hibernator/hibernator/internal/httpwire"
	"github.com/nginx-hibernator/hibernator/internal/registry"
)

type serviceSummary struct {
	Name            string           `json:"name"`
	State           domain.SiteState `json:"state"`
	LastChangedUnix int64            `json:"last_changed_unix"`
}

// listServices answers GET /hibernator-api/services.
func (h *Handler) listServices() httpwire.Response {
	out := make([]serviceSummary, 0, len(h.sites.All()))
	for _, e := range h.sites.All() {
		state, at, err := h.lastState(e.Config.Name)
		if err != nil {
			return httpwire.Text(500, err.Error())
		}
		out = append(out, serviceSummary{Name: e.Config.Name, State: state, LastChangedUnix: at.Unix()})
	}
	return jsonResponse(out)
}

// serviceConfig answers GET /hibernator-api/services/:name/config.
func (h *Handler) serviceConfig(entry *registry.Entry) httpwire.Response {
	return jsonResponse(entry.Config.Redacted())
}

func jsonResponse(v interface{}) httpwire.Response {
	body, err := json.Marshal(v)
	if err != nil {
		return httpwire.Text(500, err.Error())
	}
	return httpwire.JSON(200, body)
}

// queryUint64 parses an optional unsigned query parameter. ok is false only
// when the parameter is present but not a valid uint64; absence yields
// (nil, true).
func queryUint64(q url.Values, key string) (value *uint64, ok bool) {
	raw := q.Get(key)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, false
	}
	return &v, true
}

func queryIntDefault(q url.Values, key string, def int) int {
	raw := q.Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
