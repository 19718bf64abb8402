package led

import (
	"fmt"

	"github.com/google/uuid"
)

// Profile names the GATT service and characteristics of the LED firmware.
type Profile struct {
	Service   uuid.UUID
	Scene     uuid.UUID
	Control   uuid.UUID
	State     uuid.UUID
	Time      uuid.UUID
	TimeTasks uuid.UUID
}

func DefaultProfile() Profile {
	return Profile{
		Service:   uuid.MustParse("e572775c-0df9-4b44-926b-b692e31d6971"),
		Scene:     uuid.MustParse("c7d7ee2f-c84b-4f5c-a2a4-e642c97a880d"),
		Control:   uuid.MustParse("bc00dad8-280c-49f9-9efd-3a8137594ef2"),
		State:     uuid.MustParse("e192efae-9626-4767-8a27-b96cb9753e10"),
		Time:      uuid.MustParse("9ae95835-6543-4bd0-8aec-6c48fe9fd989"),
		TimeTasks: uuid.MustParse("f144af69-9642-97e1-d712-9448d1b450a1"),
	}
}

// Validate rejects nil or repeated characteristic ids.
func (p Profile) Validate() error {
	chars := map[string]uuid.UUID{
		"service":    p.Service,
		"scene":      p.Scene,
		"control":    p.Control,
		"state":      p.State,
		"time":       p.Time,
		"time_tasks": p.TimeTasks,
	}
	seen := make(map[uuid.UUID]string, len(chars))
	for name, id := range chars {
		if id == uuid.Nil {
			return fmt.Errorf("%s uuid is not set", name)
		}
		if other, ok := seen[id]; ok {
			return fmt.Errorf("%s and %s share uuid %s", name, other, id)
		}
		seen[id] = name
	}
	return nil
}

// Endpoint names a characteristic of p for logs and events.
func (p Profile) Endpoint(char uuid.UUID) string {
	switch char {
	case p.Scene:
		return "scene"
	case p.Control:
		return "control"
	case p.State:
		return "state"
	case p.Time:
		return "time"
	case p.TimeTasks:
		return "time_tasks"
	default:
		return char.String()
	}
}
