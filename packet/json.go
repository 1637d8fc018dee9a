package packet

import "encoding/json"

// DecodeJSON is listener-side sugar over encoding/json.Unmarshal. The
// codec never looks inside Data itself — this exists purely so a
// listener handling a JSON packet doesn't have to import encoding/json
// just to get at p.Data.
func DecodeJSON(p Packet, v any) error {
	return json.Unmarshal(p.Data, v)
}
