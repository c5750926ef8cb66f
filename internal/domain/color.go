package domain

import (
	"fmt"
	"math/rand/v2"
)

// RandomColor returns a #rrggbb color whose channels are all at least brightness.
func RandomColor(brightness int) string {
	brightness = min(max(brightness, 0), 255)
	channel := func() int {
		return brightness + rand.IntN(256-brightness)
	}
	return fmt.Sprintf("#%02x%02x%02x", channel(), channel(), channel())
}
