// Package event maps parsed homeserver JSON onto a closed set of typed,
// read-only event views. A view wraps a *gabs.Container and resolves each
// accessor through a declarative schema table at access time; building a
// view never copies or walks the tree.
package event

import (
	"encoding/json"

	"github.com/Jeffail/gabs/v2"
)

// Variant tags the kind of tree a view wraps.
type Variant int

const (
	VariantTimeline Variant = iota
	VariantState
	VariantInvite
	VariantLogin
	VariantSync
)

func (v Variant) String() string {
	switch v {
	case VariantTimeline:
		return "timeline"
	case VariantState:
		return "state"
	case VariantInvite:
		return "invite"
	case VariantLogin:
		return "login"
	case VariantSync:
		return "sync"
	default:
		return "unknown"
	}
}

// Field names one accessor and the key paths it may resolve through.
// Paths are tried in order; the first one present in the tree wins.
type Field struct {
	Name  string
	Paths [][]string
}

func path(keys ...string) []string { return keys }

// Schema is the accessor table for every variant.
var Schema = map[Variant][]Field{
	VariantTimeline: {
		{Name: "event_id", Paths: [][]string{path("event_id")}},
		{Name: "sender", Paths: [][]string{path("sender")}},
		{Name: "type", Paths: [][]string{path("type")}},
		{Name: "msgtype", Paths: [][]string{path("content", "msgtype")}},
		{Name: "body", Paths: [][]string{path("content", "body")}},
		{Name: "content", Paths: [][]string{path("content")}},
		{Name: "origin_server_ts", Paths: [][]string{path("origin_server_ts")}},
	},
	VariantState: {
		{Name: "event_id", Paths: [][]string{path("event_id")}},
		{Name: "sender", Paths: [][]string{path("sender")}},
		{Name: "type", Paths: [][]string{path("type")}},
		{Name: "state_key", Paths: [][]string{path("state_key")}},
		{Name: "content", Paths: [][]string{path("content")}},
		{Name: "prev_content", Paths: [][]string{
			path("unsigned", "prev_content"),
			path("prev_content"),
		}},
	},
	VariantInvite: {
		{Name: "sender", Paths: [][]string{path("sender")}},
		{Name: "type", Paths: [][]string{path("type")}},
		{Name: "state_key", Paths: [][]string{path("state_key")}},
		{Name: "content", Paths: [][]string{path("content")}},
	},
	VariantLogin: {
		{Name: "user_id", Paths: [][]string{path("user_id")}},
		{Name: "access_token", Paths: [][]string{path("access_token")}},
		{Name: "device_id", Paths: [][]string{path("device_id")}},
	},
	VariantSync: {
		{Name: "next_batch", Paths: [][]string{path("next_batch")}},
		{Name: "join", Paths: [][]string{path("rooms", "join")}},
		{Name: "invite", Paths: [][]string{path("rooms", "invite")}},
		{Name: "presence", Paths: [][]string{path("presence", "events")}},
	},
}

var index = buildIndex(Schema)

func buildIndex(table map[Variant][]Field) map[Variant]map[string][][]string {
	idx := make(map[Variant]map[string][][]string, len(table))
	for variant, fields := range table {
		byName := make(map[string][][]string, len(fields))
		for _, f := range fields {
			byName[f.Name] = f.Paths
		}
		idx[variant] = byName
	}
	return idx
}

// Lookup resolves accessor name of variant against tree. It returns nil when
// the accessor is unknown or none of its paths exist.
func Lookup(variant Variant, tree *gabs.Container, name string) *gabs.Container {
	if tree == nil {
		return nil
	}
	for _, p := range index[variant][name] {
		if found := tree.Search(p...); found != nil {
			return found
		}
	}
	return nil
}

func asString(c *gabs.Container) string {
	if c == nil {
		return ""
	}
	s, _ := c.Data().(string)
	return s
}

func asInt64(c *gabs.Container) int64 {
	if c == nil {
		return 0
	}
	switch n := c.Data().(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case json.Number:
		v, _ := n.Int64()
		return v
	}
	return 0
}

// elements returns the members of the array at c, in order. Anything that is
// not an array yields nil.
func elements(c *gabs.Container) []*gabs.Container {
	if c == nil {
		return nil
	}
	arr, ok := c.Data().([]interface{})
	if !ok {
		return nil
	}
	out := make([]*gabs.Container, 0, len(arr))
	for _, item := range arr {
		out = append(out, gabs.Wrap(item))
	}
	return out
}
