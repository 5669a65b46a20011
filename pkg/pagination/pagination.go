// Package pagination implements offset/limit paging for list endpoints.
package pagination

import (
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Params is a clamped offset/limit window.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads ?limit= and ?offset=. Unparseable or out-of-range
// values fall back to DefaultLimit and 0; limit is capped at MaxLimit.
func FromContext(c echo.Context) Params {
	return Params{
		Limit:  clamp(atoiOr(c.QueryParam("limit"), DefaultLimit), 1, MaxLimit, DefaultLimit),
		Offset: clamp(atoiOr(c.QueryParam("offset"), 0), 0, -1, 0),
	}
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// clamp returns def when n < lo and caps n at hi when hi >= 0.
func clamp(n, lo, hi, def int) int {
	if n < lo {
		return def
	}
	if hi >= 0 && n > hi {
		return hi
	}
	return n
}

// Response is the JSON envelope of a paged listing.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
	Links   []Link      `json:"links,omitempty"`
}

// Link is a navigation link inside a Response.
type Link struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

func NewResponse(data interface{}, total, limit, offset int) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}
}

// Page returns the window of items selected by p. The result is never nil.
func Page[T any](items []T, p Params) []T {
	if p.Offset >= len(items) {
		return []T{}
	}
	end := p.Offset + p.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[p.Offset:end]
}

// Links builds self, next and previous links for a listing of total items
// at basePath. next and previous are omitted at the ends of the listing.
func (p Params) Links(basePath string, total int) []Link {
	at := func(rel string, offset int) Link {
		return Link{Relation: rel, URL: fmt.Sprintf("%s?offset=%d&limit=%d", basePath, offset, p.Limit)}
	}
	links := []Link{at("self", p.Offset)}
	if p.Offset+p.Limit < total {
		links = append(links, at("next", p.Offset+p.Limit))
	}
	if p.Offset > 0 {
		prev := p.Offset - p.Limit
		if prev < 0 {
			prev = 0
		}
		links = append(links, at("previous", prev))
	}
	return links
}
