package rotation

import (
	"fmt"
	"time"
)

// Namer generates capture file names in the compatibility format
// <host>_<dd-MM-yy>-<HHmmss><ext>. Timestamp resolution is one second, so a
// rotation landing in the same second as the previous one gets a monotonic
// -N suffix to avoid a collision.
type Namer struct {
	host string
	ext  string

	lastBase string
	dup      int
}

func NewNamer(host, ext string) *Namer {
	return &Namer{host: host, ext: ext}
}

// Next returns the file name for a capture starting at t.
func (n *Namer) Next(t time.Time) string {
	base := fmt.Sprintf("%s_%s-%s", n.host, t.Format("02-01-06"), t.Format("150405"))
	if base == n.lastBase {
		n.dup++
		return fmt.Sprintf("%s-%d%s", base, n.dup, n.ext)
	}
	n.lastBase = base
	n.dup = 0
	return base + n.ext
}
