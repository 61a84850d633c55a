package client

import "github.com/helloworlde/meshkeeper/pkg/utils"

// MergeDetail overlays a detail response onto a previously fetched object.
// Objects merge key by key; an empty incoming value (null, "", [] or {})
// never replaces what is already known.
func MergeDetail(existing, incoming interface{}) interface{} {
	if utils.IsEmpty(incoming) {
		return existing
	}
	em, eok := existing.(map[string]interface{})
	im, iok := incoming.(map[string]interface{})
	if !eok || !iok {
		return incoming
	}

	out := make(map[string]interface{}, len(em)+len(im))
	for k, v := range em {
		out[k] = v
	}
	for k, v := range im {
		if utils.IsEmpty(v) {
			continue
		}
		out[k] = MergeDetail(em[k], v)
	}
	return out
}
