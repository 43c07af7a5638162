// Package mqtt publishes each linked kid's latest-activity sensor to Home
// Assistant over MQTT. It defines the Publisher interface with a no-op
// StubPublisher and an HAPublisher that announces discovery configs, keeps
// state and attributes topics current from the EventBus and turns button
// presses into refresh requests.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/trymwestin/procare/internal/core/activity"
	"github.com/trymwestin/procare/internal/core/state"
	"github.com/trymwestin/procare/internal/entries"
	"github.com/trymwestin/procare/internal/integration"
	"github.com/trymwestin/procare/internal/sensor"
)

// Publisher sends state to an MQTT broker.
type Publisher interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// StubPublisher is used when MQTT is disabled.
type StubPublisher struct {
	log *slog.Logger
}

// NewStubPublisher creates a no-op publisher.
func NewStubPublisher(log *slog.Logger) *StubPublisher {
	return &StubPublisher{log: log}
}

// Start is a no-op.
func (s *StubPublisher) Start(_ context.Context) error {
	s.log.Info("MQTT publisher disabled (stub)")
	return nil
}

// Stop is a no-op.
func (s *StubPublisher) Stop(_ context.Context) error {
	return nil
}

var (
	_ Publisher = (*StubPublisher)(nil)
	_ Publisher = (*HAPublisher)(nil)
)

// Options configures the broker connection and topic layout.
type Options struct {
	Broker          string
	Username        string
	Password        string
	ClientID        string
	TopicPrefix     string
	DiscoveryPrefix string
}

// Hub is the view of loaded entries the publisher works from.
type Hub interface {
	Runtimes() []*integration.Runtime
	Runtime(entryID string) (*integration.Runtime, bool)
	RequestRefresh(entryID string) error
	Bus() *state.EventBus
}

// HAPublisher implements Home Assistant MQTT discovery for every loaded entry.
type HAPublisher struct {
	opts Options
	hub  Hub
	log  *slog.Logger

	client pahomqtt.Client

	unsub    func()
	stopC    chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHAPublisher creates a publisher for the entries loaded in hub.
func NewHAPublisher(opts Options, hub Hub, log *slog.Logger) *HAPublisher {
	if opts.DiscoveryPrefix == "" {
		opts.DiscoveryPrefix = "homeassistant"
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "procare"
	}
	return &HAPublisher{
		opts:  opts,
		hub:   hub,
		log:   log,
		stopC: make(chan struct{}),
	}
}

// Start connects to the broker and follows the event bus.
func (p *HAPublisher) Start(_ context.Context) error {
	opts := pahomqtt.NewClientOptions().
		AddBroker(p.opts.Broker).
		SetClientID(p.opts.ClientID).
		SetUsername(p.opts.Username).
		SetPassword(p.opts.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(bridgeTopic(p.opts), "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			p.log.Info("MQTT connected, publishing discovery and state")
			p.onConnect()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			p.log.Warn("MQTT connection lost", "error", err)
		})

	p.client = pahomqtt.NewClient(opts)

	token := p.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	evtCh, unsub := p.hub.Bus().Subscribe(128)
	p.unsub = unsub

	p.wg.Add(1)
	go p.eventLoop(evtCh)

	p.log.Info("MQTT publisher started", "broker", p.opts.Broker)
	return nil
}

// Stop marks everything offline and disconnects. Later calls are no-ops.
func (p *HAPublisher) Stop(_ context.Context) error {
	p.stopOnce.Do(func() {
		close(p.stopC)
		if p.unsub != nil {
			p.unsub()
		}
		p.wg.Wait()

		if p.client != nil && p.client.IsConnected() {
			p.publish(bridgeTopic(p.opts), "offline", true)
			p.client.Disconnect(1000)
		}
		p.log.Info("MQTT publisher stopped")
	})
	return nil
}

func (p *HAPublisher) onConnect() {
	p.publish(bridgeTopic(p.opts), "online", true)

	cmd := p.opts.TopicPrefix + "/+/refresh"
	if token := p.client.Subscribe(cmd, 1, p.handleRefreshCmd); token.Wait() && token.Error() != nil {
		p.log.Error("failed to subscribe to command topic", "topic", cmd, "error", token.Error())
	}

	p.client.Subscribe(p.opts.DiscoveryPrefix+"/status", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if string(msg.Payload()) == "online" {
			p.log.Info("Home Assistant came online, re-publishing discovery")
			p.publishAll()
		}
	})

	p.publishAll()
}

func (p *HAPublisher) publishAll() {
	for _, rt := range p.hub.Runtimes() {
		p.publishDiscovery(rt.Sensor)
		p.publishState(rt.Sensor)
	}
}

// ---------------------------------------------------------------------------
// Discovery
// ---------------------------------------------------------------------------

func discoveryTopic(opts Options, component, objectID string) string {
	return fmt.Sprintf("%s/%s/%s/config", opts.DiscoveryPrefix, component, objectID)
}

func bridgeTopic(opts Options) string {
	return opts.TopicPrefix + "/bridge/status"
}

// kidTopic builds {prefix}/{kid_id}/{suffix}.
func kidTopic(opts Options, kidID, suffix string) string {
	return fmt.Sprintf("%s/%s/%s", opts.TopicPrefix, kidID, suffix)
}

func refreshButtonID(kidID string) string {
	return "procare_" + kidID + "_refresh"
}

func availability(opts Options, kidID string) []map[string]string {
	return []map[string]string{
		{"topic": bridgeTopic(opts)},
		{"topic": kidTopic(opts, kidID, "availability")},
	}
}

func deviceBlock(s *sensor.Sensor) map[string]interface{} {
	dev := s.DeviceInfo()
	ids := make([]string, 0, len(dev.Identifiers))
	for _, id := range dev.Identifiers {
		ids = append(ids, id[0]+"_"+id[1])
	}
	return map[string]interface{}{
		"identifiers":  ids,
		"name":         dev.Name,
		"manufacturer": dev.Manufacturer,
		"model":        dev.Model,
	}
}

func sensorDiscovery(opts Options, s *sensor.Sensor) map[string]interface{} {
	kidID := s.Kid().ID
	return map[string]interface{}{
		"name":                  s.Name(),
		"unique_id":             s.UniqueID(),
		"icon":                  s.Icon(),
		"state_topic":           kidTopic(opts, kidID, "state"),
		"json_attributes_topic": kidTopic(opts, kidID, "attributes"),
		"availability":          availability(opts, kidID),
		"availability_mode":     "all",
		"device":                deviceBlock(s),
	}
}

func buttonDiscovery(opts Options, s *sensor.Sensor) map[string]interface{} {
	kidID := s.Kid().ID
	return map[string]interface{}{
		"name":          s.Kid().Name + " Refresh Activities",
		"unique_id":     refreshButtonID(kidID),
		"icon":          "mdi:refresh",
		"command_topic": kidTopic(opts, kidID, "refresh"),
		"payload_press": "PRESS",
		"availability":  []map[string]string{{"topic": bridgeTopic(opts)}},
		"device":        deviceBlock(s),
	}
}

func (p *HAPublisher) publishDiscovery(s *sensor.Sensor) {
	p.publishJSON(discoveryTopic(p.opts, "sensor", s.UniqueID()), sensorDiscovery(p.opts, s))
	p.publishJSON(discoveryTopic(p.opts, "button", refreshButtonID(s.Kid().ID)), buttonDiscovery(p.opts, s))
}

// clearEntry removes the retained discovery and state of a removed kid.
func (p *HAPublisher) clearEntry(kidID string) {
	s := sensor.New(activity.Kid{ID: kidID}, nil)
	for _, topic := range []string{
		discoveryTopic(p.opts, "sensor", s.UniqueID()),
		discoveryTopic(p.opts, "button", refreshButtonID(kidID)),
		kidTopic(p.opts, kidID, "state"),
		kidTopic(p.opts, kidID, "attributes"),
		kidTopic(p.opts, kidID, "availability"),
	} {
		p.publish(topic, "", true)
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

// kidFromCommandTopic extracts the kid id from {prefix}/{kid_id}/refresh.
func kidFromCommandTopic(opts Options, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, opts.TopicPrefix+"/")
	if !ok {
		return "", false
	}
	kidID, ok := strings.CutSuffix(rest, "/refresh")
	if !ok || kidID == "" || strings.Contains(kidID, "/") {
		return "", false
	}
	return kidID, true
}

func (p *HAPublisher) handleRefreshCmd(_ pahomqtt.Client, msg pahomqtt.Message) {
	kidID, ok := kidFromCommandTopic(p.opts, msg.Topic())
	if !ok {
		return
	}
	for _, rt := range p.hub.Runtimes() {
		if rt.Entry.Data.KidID != kidID {
			continue
		}
		p.log.Info("MQTT command: refresh", "entry_id", rt.Entry.ID, "kid_id", kidID)
		if err := p.hub.RequestRefresh(rt.Entry.ID); err != nil {
			p.log.Error("failed to request refresh", "entry_id", rt.Entry.ID, "error", err)
		}
		return
	}
	p.log.Warn("refresh command for unknown kid", "kid_id", kidID)
}

// ---------------------------------------------------------------------------
// State
// ---------------------------------------------------------------------------

func availabilityPayload(s *sensor.Sensor) string {
	if s.Available() {
		return "online"
	}
	return "offline"
}

func (p *HAPublisher) publishState(s *sensor.Sensor) {
	kidID := s.Kid().ID
	p.publish(kidTopic(p.opts, kidID, "state"), s.State(), true)
	p.publishJSON(kidTopic(p.opts, kidID, "attributes"), s.Attributes())
	p.publish(kidTopic(p.opts, kidID, "availability"), availabilityPayload(s), true)
}

func (p *HAPublisher) eventLoop(ch <-chan state.Event) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopC:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			p.handleEvent(evt)
		}
	}
}

func (p *HAPublisher) handleEvent(evt state.Event) {
	switch evt.Type {
	case state.EventActivitiesUpdate, state.EventUpdateFailed, state.EventReauthRequired:
		if rt, ok := p.hub.Runtime(evt.EntryID); ok {
			p.publishState(rt.Sensor)
		}

	case state.EventEntryAdded:
		if rt, ok := p.hub.Runtime(evt.EntryID); ok {
			p.publishDiscovery(rt.Sensor)
			p.publishState(rt.Sensor)
		}

	case state.EventEntryRemoved:
		entry, ok := evt.Data.(entries.Entry)
		if !ok {
			p.log.Warn("unexpected data type for entry_removed")
			return
		}
		p.clearEntry(entry.Data.KidID)
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (p *HAPublisher) publishJSON(topic string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		p.log.Error("failed to marshal payload", "topic", topic, "error", err)
		return
	}
	p.publish(topic, string(data), true)
}

func (p *HAPublisher) publish(topic, payload string, retained bool) {
	if p.client == nil || !p.client.IsConnected() {
		return
	}
	token := p.client.Publish(topic, 1, retained, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		p.log.Error("mqtt publish failed", "topic", topic, "error", err)
	}
}
