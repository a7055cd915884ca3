// Package commands implements the portal-trace CLI commands.
package commands

import (
	"fmt"
	"strings"
	"time"

	portallog "github.com/instance-portal/portal-go/pkg/log"
)

// FilterOptions holds the raw filter flags shared by view, export and
// filter. Empty fields match everything.
type FilterOptions struct {
	ConnID    string
	Target    string
	TimeStart string
	TimeEnd   string
	Layer     string
	Direction string
	Category  string
}

// Build converts the flags into a reader filter.
func (o FilterOptions) Build() (portallog.Filter, error) {
	filter := portallog.Filter{
		ConnectionID: o.ConnID,
		Target:       o.Target,
	}

	if o.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, o.TimeStart)
		if err != nil {
			return filter, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}
	if o.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, o.TimeEnd)
		if err != nil {
			return filter, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}
	if o.Layer != "" {
		l, err := ParseLayer(o.Layer)
		if err != nil {
			return filter, err
		}
		filter.Layer = &l
	}
	if o.Direction != "" {
		d, err := ParseDirection(o.Direction)
		if err != nil {
			return filter, err
		}
		filter.Direction = &d
	}
	if o.Category != "" {
		c, err := ParseCategory(o.Category)
		if err != nil {
			return filter, err
		}
		filter.Category = &c
	}
	return filter, nil
}

// ParseLayer parses a layer name (case-insensitive).
func ParseLayer(s string) (portallog.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return portallog.LayerTransport, nil
	case "stream":
		return portallog.LayerStream, nil
	case "tunnel":
		return portallog.LayerTunnel, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, stream, or tunnel)", s)
	}
}

// ParseDirection parses a direction name (case-insensitive).
func ParseDirection(s string) (portallog.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return portallog.DirectionIn, nil
	case "out":
		return portallog.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategory parses a category name (case-insensitive).
func ParseCategory(s string) (portallog.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return portallog.CategoryMessage, nil
	case "control":
		return portallog.CategoryControl, nil
	case "state":
		return portallog.CategoryState, nil
	case "error":
		return portallog.CategoryError, nil
	case "probe":
		return portallog.CategoryProbe, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, control, state, error, or probe)", s)
	}
}

// eventType returns the short label of the event's payload.
func eventType(event portallog.Event) string {
	switch {
	case event.Frame != nil:
		return "Frame"
	case event.StateChange != nil:
		return "State"
	case event.ControlMsg != nil:
		return event.ControlMsg.Type.String()
	case event.Reconnect != nil:
		return "Reconnect"
	case event.Probe != nil:
		return "Probe"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

const timestampLayout = "2006-01-02T15:04:05.000000Z"
