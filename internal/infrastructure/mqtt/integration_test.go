//go:build integration

package mqtt

import (
	"testing"
	"time"
)

// Integration tests need a broker at 127.0.0.1:1883.
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...

func TestIntegration_RetainedStateRoundtrip(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "exhibit-int-roundtrip"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	received := make(chan string, 1)
	topic := client.Topics().DeviceState("int_test_001")
	if err := client.Subscribe(client.Topics().AllStates(), 1, func(tp string, payload []byte) error {
		if tp == topic {
			received <- string(payload)
		}
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(client.Topics().AllStates()) {
		t.Error("subscription not tracked")
	}

	if err := client.Publish(topic, []byte(`{"power_on":true}`), 1, true); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != `{"power_on":true}` {
			t.Errorf("payload = %s", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}

	if st := client.Stats(); st.Published != 1 || st.Received == 0 {
		t.Errorf("Stats() = %+v", st)
	}

	// Clear the retained message.
	client.Publish(topic, nil, 1, true) //nolint:errcheck // cleanup
}
