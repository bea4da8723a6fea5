package dvm

import (
	"github.com/nbd-wtf/go-nostr"
)

// Input is a job request's declared input ("i" tag).
type Input struct {
	Value  string
	Type   string
	Relay  string
	Marker string
}

// RequestInput returns the first input declared on the request.
func RequestInput(ev *nostr.Event) (Input, bool) {
	tag := InputTag(ev)
	if tag == nil {
		return Input{}, false
	}

	in := Input{}
	if len(tag) > 1 {
		in.Value = tag[1]
	}
	if len(tag) > 2 {
		in.Type = tag[2]
	}
	if len(tag) > 3 {
		in.Relay = tag[3]
	}
	if len(tag) > 4 {
		in.Marker = tag[4]
	}
	return in, true
}

// InputTag returns the raw "i" tag of the request, or nil.
func InputTag(ev *nostr.Event) nostr.Tag {
	for _, tag := range ev.Tags {
		if len(tag) > 0 && tag[0] == "i" {
			return tag
		}
	}
	return nil
}

// RequestParam returns the named "param" tag value, or fallback when the
// parameter is absent.
func RequestParam(ev *nostr.Event, name, fallback string) string {
	for _, tag := range ev.Tags {
		if len(tag) > 2 && tag[0] == "param" && tag[1] == name {
			return tag[2]
		}
	}
	return fallback
}

// PreferredRelays returns the requester's declared relay endpoints from the
// "relays" tag. Responses are broadcast to these in addition to the agent's
// own relays.
func PreferredRelays(ev *nostr.Event) []string {
	for _, tag := range ev.Tags {
		if len(tag) > 1 && tag[0] == "relays" {
			return tag[1:]
		}
	}
	return nil
}

// UnionRelays merges relay lists, dropping duplicates and preserving order.
func UnionRelays(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, url := range list {
			if _, ok := seen[url]; ok || url == "" {
				continue
			}
			seen[url] = struct{}{}
			out = append(out, url)
		}
	}
	return out
}
