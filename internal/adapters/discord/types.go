package discord

import "strings"

// ComponentKey: prefijo del custom_id de un botón, el resto es el nombre de la cola.
// ej: "lfg_join:ranked 5v5"
type ComponentKey string

const (
	ComponentJoin  ComponentKey = "lfg_join"
	ComponentLeave ComponentKey = "lfg_leave"
)

// Discord corta custom_id en 100 caracteres.
const maxCustomID = 100

func (k ComponentKey) ID(queue string) (string, bool) {
	id := string(k) + ":" + queue
	return id, len(id) <= maxCustomID
}

// parseCustomID separa "lfg_join:<cola>" en key y cola.
func parseCustomID(id string) (ComponentKey, string, bool) {
	k, q, ok := strings.Cut(id, ":")
	if !ok || q == "" {
		return "", "", false
	}
	switch ComponentKey(k) {
	case ComponentJoin, ComponentLeave:
		return ComponentKey(k), q, true
	}
	return "", "", false
}
