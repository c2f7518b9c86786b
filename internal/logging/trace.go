package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/wlkit/wlkit/wire"
)

// WireTraceEnabled reports whether the WAYLAND_DEBUG trace is on.
// Checked once per connection, not per message.
func WireTraceEnabled() bool {
	return os.Getenv(EnvWireDebug) != ""
}

// TraceMessage prints one message in the conventional readable form:
//
//	[sec.micros] -> wl_registry@2.bind(3, "example", 2, new_id(5))
//
// Direction is "->" for sent and "<-" for received. Output goes to
// stderr like every other diagnostic.
func TraceMessage(dir, iface string, id wire.ObjectID, msgName string, args []wire.Arg) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	now := time.Now()
	fmt.Fprintf(os.Stderr, "[%d.%06d] %s %s@%d.%s(%s)\n",
		now.Unix(), now.Nanosecond()/1000, dir, iface, id, msgName,
		strings.Join(parts, ", "))
}
