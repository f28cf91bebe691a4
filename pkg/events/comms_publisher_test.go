package events

import (
	"context"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/message-relay/pkg/relay"
)

const commsPublisherTestPrefix = "events:comms_publisher_test"

// startTestServer starts an in-process NATS server for testing.
func startTestServer(t *testing.T) (*comms.Conn, func()) {
	t.Helper()

	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", commsPublisherTestPrefix, err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", commsPublisherTestPrefix)
	}

	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("%s - failed to connect: %v", commsPublisherTestPrefix, err)
	}

	return nc, func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	}
}

func sampleEvent(processID string) *EvaluationEvent {
	return &EvaluationEvent{
		ProcessID: processID,
		MessageID: "tx-1",
		LogID:     "log-1",
		Messages:  []relay.Message{{Target: "proc-next", Data: "ping"}},
		Timestamp: "2025-01-01T00:00:00Z",
	}
}

func awaitEvent(t *testing.T, ch <-chan *EvaluationEvent, what string) *EvaluationEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - timeout waiting for %s", commsPublisherTestPrefix, what)
		return nil
	}
}

func TestCommsPublisher_PerProcessAndGlobalSubjects(t *testing.T) {
	nc, cleanup := startTestServer(t)
	defer cleanup()

	perProcess := make(chan *EvaluationEvent, 2)
	global := make(chan *EvaluationEvent, 2)
	other := make(chan *EvaluationEvent, 2)

	for _, s := range []struct {
		pid string
		ch  chan *EvaluationEvent
	}{{"proc-1", perProcess}, {"", global}, {"proc-2", other}} {
		ch := s.ch
		sub, err := SubscribeEvaluations(nc, "", s.pid, func(ev *EvaluationEvent) { ch <- ev })
		if err != nil {
			t.Fatalf("%s - subscribe %q: %v", commsPublisherTestPrefix, s.pid, err)
		}
		defer sub.Unsubscribe()
	}
	nc.Flush()

	pub := NewCommsPublisher(nc, nil)
	if err := pub.PublishEvaluation(context.Background(), sampleEvent("proc-1")); err != nil {
		t.Fatalf("%s - PublishEvaluation: %v", commsPublisherTestPrefix, err)
	}
	nc.Flush()

	got := awaitEvent(t, perProcess, "per-process event")
	if got.ProcessID != "proc-1" || len(got.Messages) != 1 {
		t.Errorf("%s - unexpected event %+v", commsPublisherTestPrefix, got)
	}
	awaitEvent(t, global, "global event")

	select {
	case ev := <-other:
		t.Errorf("%s - listener for proc-2 received %+v", commsPublisherTestPrefix, ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCommsPublisher_SkipsEmptyResults(t *testing.T) {
	nc, cleanup := startTestServer(t)
	defer cleanup()

	received := make(chan *EvaluationEvent, 1)
	sub, err := SubscribeEvaluations(nc, "", "", func(ev *EvaluationEvent) { received <- ev })
	if err != nil {
		t.Fatalf("%s - subscribe: %v", commsPublisherTestPrefix, err)
	}
	defer sub.Unsubscribe()

	pub := NewCommsPublisher(nc, nil)
	empty := sampleEvent("proc-1")
	empty.Messages = nil
	if err := pub.PublishEvaluation(context.Background(), empty); err != nil {
		t.Fatalf("%s - PublishEvaluation: %v", commsPublisherTestPrefix, err)
	}
	if err := pub.PublishEvaluation(context.Background(), nil); err != nil {
		t.Fatalf("%s - PublishEvaluation(nil): %v", commsPublisherTestPrefix, err)
	}
	nc.Flush()

	select {
	case ev := <-received:
		t.Errorf("%s - empty result was broadcast: %+v", commsPublisherTestPrefix, ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestCommsPublisher_CustomSubject(t *testing.T) {
	nc, cleanup := startTestServer(t)
	defer cleanup()

	received := make(chan *EvaluationEvent, 1)
	sub, err := SubscribeEvaluations(nc, "staging.evals", "proc-9", func(ev *EvaluationEvent) { received <- ev })
	if err != nil {
		t.Fatalf("%s - subscribe: %v", commsPublisherTestPrefix, err)
	}
	defer sub.Unsubscribe()
	nc.Flush()

	pub := NewCommsPublisher(nc, &CommsPublisherOpts{EvaluationSubject: "staging.evals"})
	if err := pub.PublishEvaluation(context.Background(), sampleEvent("proc-9")); err != nil {
		t.Fatalf("%s - PublishEvaluation: %v", commsPublisherTestPrefix, err)
	}
	nc.Flush()
	awaitEvent(t, received, "custom subject event")
}

func TestCommsPublisher_ClosedConnection(t *testing.T) {
	nc, cleanup := startTestServer(t)
	defer cleanup()
	nc.Close()

	pub := NewCommsPublisher(nc, nil)
	if err := pub.PublishEvaluation(context.Background(), sampleEvent("proc-1")); err == nil {
		t.Errorf("%s - expected error on a closed connection", commsPublisherTestPrefix)
	}
}
