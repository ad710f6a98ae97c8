package units

import (
	"fmt"
	"time"
)

// Zone resolves the timezone reports are written in. The empty name and
// "Local" select the host zone.
func Zone(name string) (*time.Location, error) {
	switch name {
	case "", "Local":
		return time.Local, nil
	case "UTC":
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	return loc, nil
}
