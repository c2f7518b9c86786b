package observability

import (
	"testing"
	"time"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordMessage("client", "out")
	RecordMessage("server", "in")
	RecordProtocolError("client", "decode")
	RecordDispatch("client", "wl_registry", 12*time.Millisecond)
	ObjectCreated("client")
	ObjectReleased("client")
	ClientConnected("wayland-0")
	ClientDisconnected("wayland-0")
}
