package gateway

import (
	"strconv"
	"strings"
)

// Device topics come in two observed addressing schemes: a direct
// desk/{id}/confirm form, and the same suffix prefixed by the device's
// hardware address ({addr}/desk/{id}/confirm). Leading slashes appear on
// some firmware builds and are tolerated.

// ParseConfirmTopic extracts the desk identifier from a confirmation topic.
// Returns false for anything that does not match either scheme.
func ParseConfirmTopic(topic string) (int64, bool) {
	parts := splitTopic(topic)
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] != "desk" || parts[i+2] != "confirm" {
			continue
		}
		id, err := strconv.ParseInt(parts[i+1], 10, 64)
		if err != nil || id <= 0 {
			return 0, false
		}
		return id, true
	}
	return 0, false
}

// ParseStatusTopic extracts the hardware address and status kind from a
// device bookkeeping topic of the form {addr}/online or {addr}/temperature.
func ParseStatusTopic(topic string) (addr, kind string, ok bool) {
	parts := splitTopic(topic)
	if len(parts) != 2 {
		return "", "", false
	}
	if parts[1] != "online" && parts[1] != "temperature" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func splitTopic(topic string) []string {
	raw := strings.Split(topic, "/")
	parts := raw[:0]
	for _, p := range raw {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
