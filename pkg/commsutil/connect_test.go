package commsutil

import (
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nkeys"
)

const connectTestPrefix = "commsutil:connect_test"

func TestConnect_InvalidURL(t *testing.T) {
	nc, err := Connect("invalid://not-a-nats-server", "test-client", ConnectOptions{MaxReconnects: -1})
	if err == nil {
		if nc != nil {
			nc.Close()
		}
		t.Fatalf("%s - expected error for invalid URL", connectTestPrefix)
	}
	if nc != nil {
		t.Errorf("%s - expected nil connection on error", connectTestPrefix)
	}
}

func TestConnect_InvalidSeed(t *testing.T) {
	if _, err := Connect("nats://127.0.0.1:1", "test-client", ConnectOptions{NkeySeed: "SUBOGUS"}); err == nil {
		t.Fatalf("%s - expected error for invalid seed", connectTestPrefix)
	}
}

func TestConnect_NkeyAuth(t *testing.T) {
	kp, err := nkeys.CreateUser()
	if err != nil {
		t.Fatalf("%s - CreateUser: %v", connectTestPrefix, err)
	}
	pub, _ := kp.PublicKey()
	seed, _ := kp.Seed()

	srv, err := commsserver.NewServer(&commsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
		Nkeys:  []*commsserver.NkeyUser{{Nkey: pub}},
	})
	if err != nil {
		t.Fatalf("%s - NewServer: %v", connectTestPrefix, err)
	}
	go srv.Start()
	defer srv.Shutdown()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatalf("%s - server not ready", connectTestPrefix)
	}

	nc, err := Connect(srv.ClientURL(), "nkey-client", ConnectOptions{NkeySeed: string(seed)})
	if err != nil {
		t.Fatalf("%s - authenticated connect failed: %v", connectTestPrefix, err)
	}
	nc.Close()

	if nc, err := Connect(srv.ClientURL(), "anon-client", ConnectOptions{MaxReconnects: -1}); err == nil {
		nc.Close()
		t.Errorf("%s - anonymous connect should be rejected", connectTestPrefix)
	}
}
