package storagekey

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateVersionID produces a token that sorts by creation time. The
// nanosecond timestamp carries the ordering; the uuid fragment keeps two
// versions minted in the same nanosecond from colliding.
func GenerateVersionID() string {
	return fmt.Sprintf("%020d-%s", time.Now().UnixNano(), strings.Split(uuid.NewString(), "-")[0])
}
