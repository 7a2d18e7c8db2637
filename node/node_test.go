package node_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/containerd/errdefs"

	"lancom"
	"lancom/codec"
	"lancom/node"
)

// Each test gets its own multicast port so concurrent tests do not hear
// each other's heartbeats.
var groupPortSeq atomic.Int32

func init() { groupPortSeq.Store(27720) }

func testConfig(name string) lancom.Config {
	return lancom.Config{
		NodeName:  name,
		IP:        "127.0.0.1",
		GroupPort: int(groupPortSeq.Add(1)),
		GroupName: "lancom_test_group",
	}
}

func startNode(t *testing.T, cfg lancom.Config) *node.Node {
	t.Helper()
	n, err := node.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = n.Stop() })
	return n
}

func waitUntil(t *testing.T, timeout time.Duration, what string, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEchoService(t *testing.T) {
	n := startNode(t, testConfig("A"))

	err := node.RegisterService(n, "Echo", func(s string) (string, error) {
		return "echo:" + s, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := n.WaitForService(context.Background(), "Echo", time.Second); err != nil {
		t.Fatal(err)
	}

	var resp string
	if err := node.Request(context.Background(), n, "Echo", "hello", &resp); err != nil {
		t.Fatal(err)
	}
	if resp != "echo:hello" {
		t.Errorf("got %q, want %q", resp, "echo:hello")
	}
}

func TestEmptyRequest(t *testing.T) {
	n := startNode(t, testConfig("A"))

	err := node.RegisterService(n, "Ping", func(codec.Empty) (string, error) {
		return "pong", nil
	})
	if err != nil {
		t.Fatal(err)
	}

	var resp string
	if err := node.Request(context.Background(), n, "Ping", codec.Empty{}, &resp); err != nil {
		t.Fatal(err)
	}
	if resp != "pong" {
		t.Errorf("got %q, want %q", resp, "pong")
	}
}

func TestEmptyResponse(t *testing.T) {
	n := startNode(t, testConfig("A"))

	var served atomic.Bool
	err := node.RegisterService(n, "Sink", func(s string) (codec.Empty, error) {
		served.Store(true)
		return codec.Empty{}, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	resp := codec.Empty{}
	if err := node.Request(context.Background(), n, "Sink", "x", &resp); err != nil {
		t.Fatal(err)
	}
	if !served.Load() {
		t.Error("handler never ran")
	}
}

func TestMissingServiceLeavesResponseUnchanged(t *testing.T) {
	n := startNode(t, testConfig("A"))

	resp := "untouched"
	err := node.Request(context.Background(), n, "Absent", "x", &resp,
		node.WithMaxWait(200*time.Millisecond))
	if !errors.Is(err, errdefs.ErrNotFound) {
		t.Fatalf("got %v, want not found", err)
	}
	if resp != "untouched" {
		t.Errorf("resp mutated to %q", resp)
	}
}

func TestFailingHandlerRepliesServiceFail(t *testing.T) {
	n := startNode(t, testConfig("A"))

	err := node.RegisterService(n, "Flaky", func(string) (string, error) {
		return "", errors.New("downstream unavailable")
	})
	if err != nil {
		t.Fatal(err)
	}

	var resp string
	err = node.Request(context.Background(), n, "Flaky", "x", &resp)
	var replyErr *lancom.ReplyError
	if !errors.As(err, &replyErr) || replyErr.Status != lancom.StatusServiceFail {
		t.Fatalf("got %v, want SERVICE_FAIL reply error", err)
	}
	if resp != "" {
		t.Errorf("resp mutated to %q", resp)
	}
}

func TestTypeMismatchRepliesInvalidRequest(t *testing.T) {
	n := startNode(t, testConfig("A"))

	err := node.RegisterService(n, "Strict", func(v uint32) (uint32, error) {
		return v, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	var resp uint32
	err = node.Request(context.Background(), n, "Strict", codec.Empty{}, &resp)
	var replyErr *lancom.ReplyError
	if !errors.As(err, &replyErr) || replyErr.Status != lancom.StatusInvalidRequest {
		t.Fatalf("got %v, want INVALID_REQUEST reply error", err)
	}
}

func TestLocalNamespacePubSub(t *testing.T) {
	n := startNode(t, testConfig("A"))

	var mu sync.Mutex
	var got []string
	node.Subscribe(n, "lc.local.T", func(s string) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})

	pub, err := node.NewPublisher[string](n, "T", node.WithLocalNamespace())
	if err != nil {
		t.Fatal(err)
	}
	if pub.Topic() != "lc.local.T" {
		t.Fatalf("topic %q, want lc.local.T", pub.Topic())
	}

	time.Sleep(200 * time.Millisecond) // let the subscriber connect
	if err := pub.Publish("m"); err != nil {
		t.Fatal(err)
	}

	waitUntil(t, time.Second, "message delivery", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == "m"
	})
}

func TestPublishBeforeSubscriberConnectsIsLost(t *testing.T) {
	n := startNode(t, testConfig("A"))

	pub, err := node.NewPublisher[string](n, "B4")
	if err != nil {
		t.Fatal(err)
	}
	if err := pub.Publish("lost"); err != nil {
		t.Fatal(err)
	}

	var count atomic.Int32
	node.Subscribe(n, "B4", func(string) { count.Add(1) })
	time.Sleep(300 * time.Millisecond)

	if err := pub.Publish("kept"); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, time.Second, "second message", func() bool { return count.Load() == 1 })
}

func TestDuplicateServiceRejected(t *testing.T) {
	n := startNode(t, testConfig("A"))

	h := func(s string) (string, error) { return s, nil }
	if err := node.RegisterService(n, "Twice", h); err != nil {
		t.Fatal(err)
	}
	before := n.Info().InfoID

	err := node.RegisterService(n, "Twice", h)
	if !errors.Is(err, errdefs.ErrAlreadyExists) {
		t.Fatalf("got %v, want already exists", err)
	}
	if got := n.Info().InfoID; got != before {
		t.Errorf("rejected registration bumped info id %d -> %d", before, got)
	}
}

func TestRemoveAndReRegisterService(t *testing.T) {
	n := startNode(t, testConfig("A"))

	if err := node.RegisterService(n, "Cycle", func(s string) (string, error) {
		return "first:" + s, nil
	}); err != nil {
		t.Fatal(err)
	}

	n.RemoveService("Cycle")
	if _, ok := n.ServiceEndpoint("Cycle"); ok {
		t.Fatal("removed service still announced")
	}

	if err := node.RegisterService(n, "Cycle", func(s string) (string, error) {
		return "second:" + s, nil
	}); err != nil {
		t.Fatal(err)
	}

	var resp string
	if err := node.Request(context.Background(), n, "Cycle", "x", &resp); err != nil {
		t.Fatal(err)
	}
	if resp != "second:x" {
		t.Errorf("got %q, want the re-registered handler's reply", resp)
	}
}

func TestInfoIDBumpsPerRegistration(t *testing.T) {
	n := startNode(t, testConfig("A"))
	if got := n.Info().InfoID; got != 0 {
		t.Fatalf("fresh node info id %d, want 0", got)
	}

	if _, err := node.NewPublisher[string](n, "T1"); err != nil {
		t.Fatal(err)
	}
	if got := n.Info().InfoID; got != 1 {
		t.Errorf("after publisher: info id %d, want 1", got)
	}
	if err := node.RegisterService(n, "S1", func(s string) (string, error) { return s, nil }); err != nil {
		t.Fatal(err)
	}
	if got := n.Info().InfoID; got != 2 {
		t.Errorf("after service: info id %d, want 2", got)
	}
}

func TestFreshNodeIDPerLifetime(t *testing.T) {
	cfg := testConfig("A")

	a, err := node.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	firstID := a.ID()
	if err := a.Stop(); err != nil {
		t.Fatal(err)
	}

	b, err := node.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = b.Stop() }()

	if b.ID() == firstID {
		t.Error("restarted node reused the previous node id")
	}
	if len(b.Info().Topics) != 0 || len(b.Info().Services) != 0 || b.Info().InfoID != 0 {
		t.Errorf("state leaked into the new node: %+v", b.Info())
	}
}

func TestLifecyclePhases(t *testing.T) {
	n, err := node.New(testConfig("A"))
	if err != nil {
		t.Fatal(err)
	}
	if n.Phase() != node.PhaseInitialized {
		t.Fatalf("fresh phase %s", n.Phase())
	}

	if err := n.Start(); err != nil {
		t.Fatal(err)
	}
	if n.Phase() != node.PhaseRunning {
		t.Fatalf("phase after start %s", n.Phase())
	}
	if err := n.Start(); !errors.Is(err, errdefs.ErrFailedPrecondition) {
		t.Errorf("double start: got %v, want failed precondition", err)
	}

	if err := n.Stop(); err != nil {
		t.Fatal(err)
	}
	if n.Phase() != node.PhaseStopped {
		t.Fatalf("phase after stop %s", n.Phase())
	}
	if err := n.Stop(); err != nil {
		t.Errorf("second stop: %v", err)
	}
	if err := n.Start(); !errors.Is(err, errdefs.ErrFailedPrecondition) {
		t.Errorf("start after stop: got %v, want failed precondition", err)
	}
}

func TestTwoNodeDiscovery(t *testing.T) {
	cfgA := testConfig("A")
	cfgB := cfgA
	cfgB.NodeName = "B"

	a := startNode(t, cfgA)
	b, err := node.New(cfgB)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	stopped := false
	defer func() {
		if !stopped {
			_ = b.Stop()
		}
	}()

	if err := node.RegisterService(b, "EchoB", func(s string) (string, error) {
		return "b:" + s, nil
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := node.NewPublisher[string](b, "TopicB"); err != nil {
		t.Fatal(err)
	}

	// Discovery: A learns B's endpoints from B's heartbeats.
	waitUntil(t, 3*time.Second, "peer discovery", func() bool {
		_, okService := a.ServiceEndpoint("EchoB")
		return okService && len(a.PublisherEndpoints("TopicB")) == 1 && len(a.Peers()) == 1
	})

	// Cross-node request from A to B's service.
	var resp string
	if err := node.Request(context.Background(), a, "EchoB", "hi", &resp); err != nil {
		t.Fatal(err)
	}
	if resp != "b:hi" {
		t.Errorf("got %q, want %q", resp, "b:hi")
	}

	// Kill B; its entries must vanish within the peer timeout plus slack.
	if err := b.Stop(); err != nil {
		t.Fatal(err)
	}
	stopped = true

	waitUntil(t, lancom.DefaultPeerTimeout+3*time.Second, "peer removal", func() bool {
		_, ok := a.ServiceEndpoint("EchoB")
		return !ok && len(a.Peers()) == 0 && len(a.PublisherEndpoints("TopicB")) == 0
	})
}

func TestTwoNodePubSub(t *testing.T) {
	cfgA := testConfig("A")
	cfgB := cfgA
	cfgB.NodeName = "B"

	a := startNode(t, cfgA)
	b := startNode(t, cfgB)

	var mu sync.Mutex
	var got []string
	node.Subscribe(a, "shared", func(s string) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})

	pub, err := node.NewPublisher[string](b, "shared")
	if err != nil {
		t.Fatal(err)
	}

	// Wait for A's subscriber to discover and connect to B's publisher.
	waitUntil(t, 3*time.Second, "publisher discovery", func() bool {
		return len(a.PublisherEndpoints("shared")) == 1
	})
	time.Sleep(300 * time.Millisecond) // reader dial + accept

	if err := pub.Publish("across"); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, 2*time.Second, "cross-node delivery", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == "across"
	})
}

func TestRejectsBadConfig(t *testing.T) {
	cases := []lancom.Config{
		{IP: "127.0.0.1"},                               // no name
		{NodeName: "A"},                                 // no ip
		{NodeName: "A", IP: "not-an-ip"},                //
		{NodeName: "A", IP: "::1"},                      // not IPv4
		{NodeName: "A", IP: "127.0.0.1", Group: "10.0.0.1"}, // not multicast
	}
	for _, cfg := range cases {
		if _, err := node.New(cfg); !errors.Is(err, errdefs.ErrInvalidArgument) {
			t.Errorf("config %+v: got %v, want invalid argument", cfg, err)
		}
	}
}
