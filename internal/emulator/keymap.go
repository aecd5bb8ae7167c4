package emulator

import "bytes"

// Keymap substitutes the composed characters some platform keyboard layouts
// emit for modifier-key combinations (AltGr / Option plus a base key) with
// the plain characters a remote shell expects. This is a purely local
// input-translation concern; the wire protocol always carries the
// substituted bytes.
type Keymap struct {
	subs map[string]string
}

// NewKeymap builds a Keymap from explicit substitutions.
func NewKeymap(subs map[string]string) *Keymap {
	copied := make(map[string]string, len(subs))
	for k, v := range subs {
		copied[k] = v
	}
	return &Keymap{subs: copied}
}

// DefaultKeymap covers the common Option-key compositions of macOS-style
// layouts where the dead-key output shadows characters shells need.
func DefaultKeymap() *Keymap {
	return NewKeymap(map[string]string{
		"ª": "{",  // Option+(
		"º": "}",  // Option+)
		"“": "[",  // Option+[
		"‘": "]",  // Option+]
		"«": "\\", // Option+\
		"€": "@",  // AltGr+E on several EU layouts
		"ø": "|",  // Option+L (Nordic)
		"≈": "~",  // Option+X
	})
}

// Translate applies all substitutions to p. The input is returned unchanged
// (same backing array) when nothing matches.
func (k *Keymap) Translate(p []byte) []byte {
	if k == nil || len(k.subs) == 0 {
		return p
	}
	matched := false
	for from := range k.subs {
		if bytes.Contains(p, []byte(from)) {
			matched = true
			break
		}
	}
	if !matched {
		return p
	}
	out := p
	for from, to := range k.subs {
		out = bytes.ReplaceAll(out, []byte(from), []byte(to))
	}
	return out
}
