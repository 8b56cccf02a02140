package bus

import "testing"

func TestSubscribedMessageTargetsOnlyRequester(t *testing.T) {
	b := New(8)
	chA := b.Connect("a")
	chB := b.Connect("b")
	defer b.Disconnect("a")
	defer b.Disconnect("b")

	b.Publish(Envelope{Type: TypeSubscribed, TargetClientID: "a", Payload: "snapshot"})

	select {
	case env := <-chA:
		if env.Payload != "snapshot" {
			t.Fatalf("unexpected payload: %+v", env)
		}
	default:
		t.Fatal("expected client a to receive the subscribed snapshot")
	}
	select {
	case env := <-chB:
		t.Fatalf("client b should not receive targeted message, got %+v", env)
	default:
	}
}

func TestDeviceScopedDeliveryRequiresSubscription(t *testing.T) {
	b := New(8)
	ch := b.Connect("a")
	defer b.Disconnect("a")

	b.Publish(Envelope{Type: TypeMeasurement, DeviceID: "dev1"})
	select {
	case <-ch:
		t.Fatal("should not deliver device-scoped message to unsubscribed client")
	default:
	}

	b.SubscribeDevice("a", "dev1")
	b.Publish(Envelope{Type: TypeMeasurement, DeviceID: "dev1"})
	select {
	case <-ch:
	default:
		t.Fatal("expected delivery after subscribing")
	}
}

func TestGlobalMessageReachesEveryClient(t *testing.T) {
	b := New(8)
	chA := b.Connect("a")
	chB := b.Connect("b")
	defer b.Disconnect("a")
	defer b.Disconnect("b")

	b.Publish(Envelope{Type: TypeDeviceList})
	for _, ch := range []<-chan Envelope{chA, chB} {
		select {
		case <-ch:
		default:
			t.Fatal("expected global message delivered to all clients")
		}
	}
}

func TestMeasurementDroppedBeforeFieldUnderBackpressure(t *testing.T) {
	b := New(1)
	ch := b.Connect("a")
	defer b.Disconnect("a")
	b.SubscribeDevice("a", "dev1")

	b.Publish(Envelope{Type: TypeMeasurement, DeviceID: "dev1", Payload: 1})
	b.Publish(Envelope{Type: TypeField, DeviceID: "dev1", Payload: "field"})

	env := <-ch
	if env.Type != TypeField {
		t.Fatalf("expected the non-droppable field message to survive, got %v", env.Type)
	}
	if b.DroppedCount() != 1 {
		t.Fatalf("expected 1 dropped message, got %d", b.DroppedCount())
	}
}
