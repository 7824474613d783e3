package session

import (
	"encoding/json"
	"fmt"
)

func encode(sess *Session) ([]byte, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*Session, error) {
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// Filter returns the turns whose tool name equals tool (all turns when tool
// is empty), keeping at most the limit most recent ones. Order is preserved.
func Filter(turns []Turn, limit int, tool string) []Turn {
	out := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if tool != "" && t.ToolName != tool {
			continue
		}
		out = append(out, t)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
