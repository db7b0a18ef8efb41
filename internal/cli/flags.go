package cli

import (
	"fmt"
	"time"
)

func parseTimeFlag(name, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s value: %w", name, err)
	}
	return t, nil
}
