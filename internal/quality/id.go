package quality

import (
	"crypto/rand"
	"fmt"
	"time"
)

// NewID creates an entity ID in the format {prefix}_{date}_{time}_{hex}.
// IDs sort roughly by creation time, which keeps audit listings readable.
func NewID(prefix string) string {
	now := time.Now().UTC()
	b := make([]byte, 3)
	rand.Read(b)
	return fmt.Sprintf("%s_%s_%s_%x",
		prefix,
		now.Format("20060102"),
		now.Format("150405"),
		b,
	)
}
