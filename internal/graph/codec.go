package graph

import (
	"encoding/json"
	"fmt"
)

// graphAlias drops PhraseGraph's methods so the codec below does not recurse.
type graphAlias PhraseGraph

type wireGraph struct {
	*graphAlias
	CreatedAt json.RawMessage `json:"createdAt"`
}

// MarshalJSON writes createdAt as seconds since the Unix epoch.
func (g PhraseGraph) MarshalJSON() ([]byte, error) {
	ts, err := json.Marshal(FormatTimestamp(g.CreatedAt))
	if err != nil {
		return nil, err
	}
	a := graphAlias(g)
	return json.Marshal(wireGraph{graphAlias: &a, CreatedAt: ts})
}

// UnmarshalJSON accepts every historical createdAt encoding.
func (g *PhraseGraph) UnmarshalJSON(data []byte) error {
	w := wireGraph{graphAlias: (*graphAlias)(g)}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	t, err := ParseTimestamp(w.CreatedAt)
	if err != nil {
		return fmt.Errorf("createdAt: %w", err)
	}
	g.CreatedAt = t
	return nil
}
