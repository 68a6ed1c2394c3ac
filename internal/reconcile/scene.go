package reconcile

import (
	"bytes"
	"encoding/json"
)

// Scene message types whose payload carries elements.
const (
	SceneInit   = "SCENE_INIT"
	SceneUpdate = "SCENE_UPDATE"
)

// Scene is a room snapshot: elements plus the binary files they reference.
type Scene struct {
	Elements []Element                  `json:"elements"`
	Files    map[string]json.RawMessage `json:"files,omitempty"`
}

type sceneMessage struct {
	Type    string `json:"type"`
	Payload Scene  `json:"payload"`
}

// ParseSceneMessage decodes a plain (unencrypted) scene broadcast. It reports
// false for anything else, including encrypted payloads.
func ParseSceneMessage(payload []byte) (Scene, bool) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Scene{}, false
	}
	var msg sceneMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return Scene{}, false
	}
	if msg.Type != SceneInit && msg.Type != SceneUpdate {
		return Scene{}, false
	}
	return msg.Payload, true
}

// Apply merges update into s with no local edit in progress and reports
// whether anything changed.
func (s *Scene) Apply(update Scene) bool {
	before := ByID(s.Elements)
	s.Elements = Merge(s.Elements, update.Elements, nil)

	changed := len(before) != len(s.Elements)
	if !changed {
		for _, el := range s.Elements {
			prev := before[el.ID]
			if prev.Version != el.Version || prev.VersionNonce != el.VersionNonce {
				changed = true
				break
			}
		}
	}
	for id, f := range update.Files {
		if s.Files == nil {
			s.Files = make(map[string]json.RawMessage)
		}
		if _, ok := s.Files[id]; !ok {
			s.Files[id] = f
			changed = true
		}
	}
	return changed
}
