package producer

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStats_CountersStartAtZero(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newStats(reg, "p1", "orders")

	if got := testutil.ToFloat64(s.messagesSent); got != 0 {
		t.Fatalf("messagesSent = %v, want 0", got)
	}
}

func TestStats_IncrementsReflectInGetStats(t *testing.T) {
	p, _ := newTestProducer(t, nil)

	p.stats.messagesSent.Add(3)
	p.stats.messagesAcked.Inc()
	p.stats.bytesSent.Add(128)

	snap := p.GetStats()
	if snap.MessagesSent != 3 {
		t.Fatalf("MessagesSent = %d, want 3", snap.MessagesSent)
	}
	if snap.MessagesAcked != 1 {
		t.Fatalf("MessagesAcked = %d, want 1", snap.MessagesAcked)
	}
	if snap.BytesSent != 128 {
		t.Fatalf("BytesSent = %d, want 128", snap.BytesSent)
	}
}

func TestStats_MultipleProducersDoNotCollide(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := newStats(reg, "producer-a", "orders")
	b := newStats(reg, "producer-b", "orders")

	a.messagesSent.Inc()
	if got := testutil.ToFloat64(a.messagesSent); got != 1 {
		t.Fatalf("producer-a messagesSent = %v, want 1", got)
	}
	if got := testutil.ToFloat64(b.messagesSent); got != 0 {
		t.Fatalf("producer-b messagesSent = %v, want 0 (distinct label set)", got)
	}
}
