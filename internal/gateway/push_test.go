package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agenthub/hubd/internal/store"
)

type fakeDeviceStore struct {
	mu      sync.Mutex
	records map[string]store.DeviceRecord
}

func newFakeDeviceStore() *fakeDeviceStore {
	return &fakeDeviceStore{records: make(map[string]store.DeviceRecord)}
}

func (f *fakeDeviceStore) Upsert(ctx context.Context, rec store.DeviceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.DeviceID] = rec
	return nil
}

func (f *fakeDeviceStore) Get(ctx context.Context, deviceID string) (*store.DeviceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[deviceID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *fakeDeviceStore) SetVisibility(ctx context.Context, deviceID string, active, visible bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.records[deviceID]
	rec.DeviceID = deviceID
	rec.Active = active
	rec.Visible = visible
	f.records[deviceID] = rec
	return nil
}

func (f *fakeDeviceStore) ListActive(ctx context.Context) ([]store.DeviceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.DeviceRecord
	for _, rec := range f.records {
		if rec.Active {
			out = append(out, rec)
		}
	}
	return out, nil
}

type fakePushSink struct {
	mu  sync.Mutex
	got []string
}

func (f *fakePushSink) Send(ctx context.Context, deviceID string, payload PushPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, deviceID)
	return nil
}

func TestDeviceManagerPinHandshake(t *testing.T) {
	devices := newFakeDeviceStore()
	dm := NewDeviceManager(devices, &fakePushSink{})

	pin, err := dm.BeginSubscribe("device-1")
	if err != nil {
		t.Fatalf("BeginSubscribe: %v", err)
	}
	if len(pin) != 4 {
		t.Fatalf("expected a 4-digit PIN, got %q", pin)
	}

	ok, err := dm.VerifyPIN(context.Background(), "device-1", pin)
	if err != nil {
		t.Fatalf("VerifyPIN: %v", err)
	}
	if !ok {
		t.Fatal("expected correct PIN to verify")
	}

	rec, err := devices.Get(context.Background(), "device-1")
	if err != nil || rec == nil {
		t.Fatalf("expected device record to be created, err=%v rec=%v", err, rec)
	}
}

func TestDeviceManagerVerifyPINWrongPinFails(t *testing.T) {
	devices := newFakeDeviceStore()
	dm := NewDeviceManager(devices, &fakePushSink{})
	dm.mu.Lock()
	dm.pending["device-1"] = &pendingSubscription{deviceID: "device-1", pin: "1234", createdAt: time.Now()}
	dm.mu.Unlock()

	ok, err := dm.VerifyPIN(context.Background(), "device-1", "9999")
	if err != nil {
		t.Fatalf("VerifyPIN: %v", err)
	}
	if ok {
		t.Fatal("wrong PIN must not verify")
	}
}

func TestDeviceManagerVerifyPINConsumesOnce(t *testing.T) {
	devices := newFakeDeviceStore()
	dm := NewDeviceManager(devices, &fakePushSink{})
	pin, _ := dm.BeginSubscribe("device-1")

	ok, _ := dm.VerifyPIN(context.Background(), "device-1", pin)
	if !ok {
		t.Fatal("expected first verification to succeed")
	}
	ok2, _ := dm.VerifyPIN(context.Background(), "device-1", pin)
	if ok2 {
		t.Fatal("a PIN must not verify twice")
	}
}

func TestDeviceManagerVerifyPINExpires(t *testing.T) {
	devices := newFakeDeviceStore()
	dm := NewDeviceManager(devices, &fakePushSink{})
	dm.mu.Lock()
	dm.pending["device-1"] = &pendingSubscription{
		deviceID:  "device-1",
		pin:       "1234",
		createdAt: time.Now().Add(-pushPinTTL - time.Minute),
	}
	dm.mu.Unlock()

	ok, err := dm.VerifyPIN(context.Background(), "device-1", "1234")
	if err != nil {
		t.Fatalf("VerifyPIN: %v", err)
	}
	if ok {
		t.Fatal("expired PIN must not verify")
	}
}

func TestNotifyUserSuppressedWhenAnyDeviceVisible(t *testing.T) {
	devices := newFakeDeviceStore()
	devices.Upsert(context.Background(), store.DeviceRecord{DeviceID: "d1", Active: true, Visible: true})
	devices.Upsert(context.Background(), store.DeviceRecord{DeviceID: "d2", Active: true, Visible: false})
	sink := &fakePushSink{}
	dm := NewDeviceManager(devices, sink)

	dm.NotifyUser(context.Background(), PushPayload{Title: "t", Body: "b", AgentID: "a1"})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.got) != 0 {
		t.Fatalf("expected push to be suppressed, sink received %v", sink.got)
	}
}

func TestNotifyUserDispatchesToAllActiveDevicesWhenNoneVisible(t *testing.T) {
	devices := newFakeDeviceStore()
	devices.Upsert(context.Background(), store.DeviceRecord{DeviceID: "d1", Active: true, Visible: false})
	devices.Upsert(context.Background(), store.DeviceRecord{DeviceID: "d2", Active: true, Visible: false})
	sink := &fakePushSink{}
	dm := NewDeviceManager(devices, sink)

	dm.NotifyUser(context.Background(), PushPayload{Title: "t", Body: "b", AgentID: "a1"})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.got) != 2 {
		t.Fatalf("expected push dispatched to both devices, got %v", sink.got)
	}
}
