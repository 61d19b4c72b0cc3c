package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ericogr/hdc1080-to-graphite/pkg/config"
	"github.com/ericogr/hdc1080-to-graphite/pkg/metric"
	"github.com/ericogr/hdc1080-to-graphite/pkg/output"
)

const (
	// defaults
	DefaultServer     = "tcp://localhost:1883"
	DefaultClientID   = "hdc1080-client"
	DefaultStateTopic = "hdc1080"
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyDeviceClass         = "device_class"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	stateClassMeasurement  = "measurement"
	valueTemplateValue     = "{{ value_json.value }}"
)

// quantity describes one of the measured quantities for discovery.
type quantity struct {
	suffix      string
	deviceClass string
	unit        string
}

var quantities = []quantity{
	{suffix: "temperature", deviceClass: "temperature", unit: "°C"},
	{suffix: "humidity", deviceClass: "humidity", unit: "%"},
}

type MQTTOutput struct {
	client         mqtt.Client
	stateTopic     string
	discoveryTopic string
}

// NewMQTT connects to the broker and, when a discovery topic is configured,
// announces one Home Assistant sensor per quantity of location.
func NewMQTT(cfg config.MQTTConfig, location string) (output.Output, error) {
	server := cfg.Server
	if server == "" {
		server = DefaultServer
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = DefaultClientID
	}
	opts := mqtt.NewClientOptions().AddBroker(server).SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, errors.Wrap(token.Error(), "mqtt connect")
	}

	st := cfg.StateTopic
	if st == "" {
		st = DefaultStateTopic
	}
	m := &MQTTOutput{client: client, stateTopic: st, discoveryTopic: cfg.DiscoveryTopic}

	if m.discoveryTopic != "" {
		for _, q := range quantities {
			label := location + "." + q.suffix
			dTopic := discoveryTopicFor(m.discoveryTopic, label)
			payload := discoveryPayload(cfg, q, label, stateTopicFor(st, label))
			if err := publishJSON(client, dTopic, true, payload); err != nil {
				log.Errorf("mqtt discovery publish error: %v", err)
			}
		}
	}

	return m, nil
}

func (m *MQTTOutput) Publish(batch metric.Batch) error {
	for _, p := range batch {
		payload := map[string]interface{}{"value": p.Value, "timestamp": p.Timestamp}
		if err := publishJSON(m.client, stateTopicFor(m.stateTopic, p.Label), false, payload); err != nil {
			return err
		}
	}
	return nil
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
	}
	return nil
}

// stateTopicFor maps a dotted metric label below base, one level per dot.
func stateTopicFor(base, label string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.ReplaceAll(label, ".", "/")
}

func discoveryObjectID(label string) string {
	return strings.ReplaceAll(label, ".", "_")
}

// discoveryTopicFor returns the retained config topic of one quantity. A %s in
// pattern is replaced by the object id; otherwise pattern is taken as the
// component prefix and "<object id>/config" is appended below it, so each
// quantity keeps its own retained announcement.
func discoveryTopicFor(pattern, label string) string {
	id := discoveryObjectID(label)
	if strings.Contains(pattern, "%s") {
		return fmt.Sprintf(pattern, id)
	}
	base := strings.TrimSuffix(strings.TrimSuffix(pattern, "/"), "/config")
	return base + "/" + id + "/config"
}

// helper: discovery payload for one quantity of the station
func discoveryPayload(cfg config.MQTTConfig, q quantity, label, stateTopic string) map[string]interface{} {
	name := cfg.DiscoveryName
	if name == "" {
		name = "HDC1080"
	}
	payload := map[string]interface{}{
		keyName:                fmt.Sprintf("%s %s", name, label),
		keyStateTopic:          stateTopic,
		keyUnitOfMeasurement:   q.unit,
		keyDeviceClass:         q.deviceClass,
		keyStateClass:          stateClassMeasurement,
		keyValueTemplate:       valueTemplateValue,
		keyJSONAttributesTopic: stateTopic,
	}
	uid := cfg.DiscoveryUniqueID
	if uid == "" {
		uid = cfg.ClientID
	}
	if uid != "" {
		payload[keyUniqueID] = uid + "_" + discoveryObjectID(label)
	}
	return payload
}

// helper: marshal and publish JSON payload
func publishJSON(client mqtt.Client, topic string, retained bool, payload map[string]interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	token := client.Publish(topic, 0, retained, b)
	token.Wait()
	return token.Error()
}
