package relay

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/peterouob/pionCall/pkg/signal"
	"github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusCollector(t *testing.T) {
	metrics := NewPrometheusCollector(prometheus.NewRegistry())
	reg := NewRegistry()
	t.Cleanup(reg.Close)
	router := NewRouter(reg, metrics, nil, quietLogger())

	alice := &recordingHandle{id: "a"}
	bob := &recordingHandle{id: "b"}
	router.Connect("alice", signal.CallerInfo{}, alice)
	router.Connect("bob", signal.CallerInfo{}, bob)
	router.Route("alice", signal.Signal{Type: signal.TypeCallInitiate, To: "bob", MediaKind: signal.MediaAudio, SDP: offer})
	router.Route("alice", signal.Signal{Type: signal.TypeCallInitiate, To: "carol", MediaKind: signal.MediaAudio, SDP: offer})
	router.Disconnect("bob", bob)

	srv := httptest.NewServer(metrics.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		"callrelay_active_clients 1",
		"callrelay_active_calls 0",
		`callrelay_calls_started_total{media_kind="audio"} 1`,
		`callrelay_calls_ended_total{reason="call-end"} 1`,
		`callrelay_messages_rejected_total{code="unreachable",type="call-initiate"} 1`,
		`callrelay_messages_routed_total{type="incoming-call"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}
