package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kozaktomas/face-checkin/internal/config"
	"github.com/kozaktomas/face-checkin/internal/database"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken(err error, complete bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if complete {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	connectErr   error
	publishErr   error
	hang         bool
	connected    bool
	disconnected bool
	messages     []published
}

func (c *fakeClient) Connect() mqtt.Token {
	c.connected = c.connectErr == nil
	return newToken(c.connectErr, true)
}

func (c *fakeClient) Disconnect(uint) {
	c.disconnected = true
	c.connected = false
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload any) mqtt.Token {
	c.messages = append(c.messages, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return newToken(c.publishErr, !c.hang)
}

func withFakeClient(t *testing.T, fc *fakeClient) {
	t.Helper()
	orig := NewClientFunc
	NewClientFunc = func(*mqtt.ClientOptions) client { return fc }
	t.Cleanup(func() { NewClientFunc = orig })
}

var testCfg = config.MQTTConfig{
	Broker:   "localhost",
	Port:     1883,
	ClientID: "test",
	Topic:    "face-checkin/attendance",
}

func TestMQTTPublisher_Publish(t *testing.T) {
	fc := &fakeClient{}
	withFakeClient(t, fc)

	p, err := NewMQTTPublisher(testCfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recordedAt := time.Date(2026, 3, 2, 8, 15, 0, 0, time.UTC)
	event := EventFromRecord(database.AttendanceRecord{
		ID:         7,
		IdentityID: "id-1",
		Name:       "Jana Nováková",
		EventRef:   "PHYS-101",
		Score:      0.04,
		Metric:     "mean_distance",
		RecordedAt: recordedAt,
	})
	if err := p.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(fc.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fc.messages))
	}
	msg := fc.messages[0]
	if msg.topic != testCfg.Topic || msg.qos != 1 {
		t.Errorf("unexpected topic/qos %s/%d", msg.topic, msg.qos)
	}

	var decoded map[string]any
	if err := json.Unmarshal(msg.payload, &decoded); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"identity_id", "name", "event_ref", "score", "metric", "recorded_at"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("payload missing %q: %s", key, msg.payload)
		}
	}
	if decoded["identity_id"] != "id-1" || decoded["recorded_at"] != "2026-03-02T08:15:00Z" {
		t.Errorf("unexpected payload %s", msg.payload)
	}

	p.Close()
	if !fc.disconnected {
		t.Error("expected disconnect on close")
	}
}

func TestMQTTPublisher_Errors(t *testing.T) {
	if _, err := NewMQTTPublisher(config.MQTTConfig{}); err == nil {
		t.Error("expected error without broker")
	}

	withFakeClient(t, &fakeClient{connectErr: errors.New("connection refused")})
	if _, err := NewMQTTPublisher(testCfg); err == nil {
		t.Error("expected connect error")
	}

	fc := &fakeClient{publishErr: errors.New("not authorized")}
	withFakeClient(t, fc)
	p, err := NewMQTTPublisher(testCfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Publish(context.Background(), AttendanceEvent{IdentityID: "x"}); err == nil {
		t.Error("expected publish error")
	}

	fc.publishErr = nil
	fc.hang = true
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Publish(ctx, AttendanceEvent{IdentityID: "x"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), AttendanceEvent{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	p.Close()
}
