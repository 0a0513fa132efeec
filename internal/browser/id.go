package browser

import (
	"hash/fnv"

	"github.com/chromedp/cdproto/target"

	"pkt.systems/tabrotor/schema"
)

// TabIDFor maps a DevTools target id to a stable non-negative tab id. The
// mapping survives restarts of this process as long as the browser keeps the tab.
func TabIDFor(id target.ID) schema.TabID {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return schema.TabID(h.Sum64() & (1<<63 - 1))
}
