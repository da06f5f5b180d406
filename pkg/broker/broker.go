// Package broker runs a local MQTT broker for development that logs and
// checks OTA traffic.
package broker

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/DrmagicE/gmqtt"
	"github.com/DrmagicE/gmqtt/pkg/packets"
	"github.com/goccy/go-json"
	"github.com/matt-g-everett/logger/pkg/errors"
	"github.com/matt-g-everett/logger/pkg/ota"
)

// Options configures a Broker.
type Options struct {
	Listen         string
	AdvertiseTopic string
	ReportTopic    string
	// Strict drops advertisements and reports that fail to decode instead of
	// forwarding them.
	Strict bool
}

// Broker is a gmqtt server with an OTA traffic plugin.
type Broker struct {
	ln   net.Listener
	p    *plugin
	stop func(ctx context.Context)
}

// plugin is the plugin for GMQTT
type plugin struct {
	opts    Options
	service gmqtt.Server

	mu      sync.Mutex
	reports map[string]ota.Report
	counts  map[string]int
}

// New binds the listener. The broker does not serve until Start.
func New(opts Options) (*Broker, error) {
	ln, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		slog.Error("broker_listen_failed", "listen", opts.Listen, "error", err)
		return nil, errors.Wrap(err, "failed to listen")
	}

	return &Broker{
		ln: ln,
		p: &plugin{
			opts:    opts,
			reports: make(map[string]ota.Report),
			counts:  make(map[string]int),
		},
	}, nil
}

// Addr is the bound listener address.
func (b *Broker) Addr() string {
	return b.ln.Addr().String()
}

// Start serves in the background.
func (b *Broker) Start() {
	s := gmqtt.NewServer(
		gmqtt.WithTCPListener(b.ln),
		gmqtt.WithPlugin(b.p),
	)
	s.Run()
	b.stop = func(ctx context.Context) { s.Stop(ctx) }

	slog.Info("broker_started", "addr", b.Addr())
}

// Stop shuts the server down.
func (b *Broker) Stop(ctx context.Context) {
	if b.stop != nil {
		b.stop(ctx)
	}
	slog.Info("broker_stopped", "addr", b.Addr())
}

// Publish injects a QoS 0 message from the broker itself.
func (b *Broker) Publish(topic string, payload []byte) {
	b.p.service.PublishService().Publish(gmqtt.NewMessage(topic, payload, packets.QOS_0))
}

// Reports returns the latest identity report per client id.
func (b *Broker) Reports() map[string]ota.Report {
	b.p.mu.Lock()
	defer b.p.mu.Unlock()

	out := make(map[string]ota.Report, len(b.p.reports))
	for k, v := range b.p.reports {
		out[k] = v
	}
	return out
}

// Count returns how many messages arrived on topic.
func (b *Broker) Count(topic string) int {
	b.p.mu.Lock()
	defer b.p.mu.Unlock()
	return b.p.counts[topic]
}

// Load implements plugin interface
func (p *plugin) Load(service gmqtt.Server) error {
	p.service = service
	return nil
}

// Unload implements plugin interface
func (p *plugin) Unload() error {
	return nil
}

// Name implements plugin interface
func (p *plugin) Name() string { return "ota" }

// HookWrapper implements plugin interface
func (p *plugin) HookWrapper() gmqtt.HookWrapper {
	return gmqtt.HookWrapper{
		OnConnectWrapper:    p.OnConnectWrapper,
		OnSubscribedWrapper: p.OnSubscribedWrapper,
		OnMsgArrivedWrapper: p.OnMsgArrivedWrapper,
	}
}

// OnConnectWrapper logs client connections
func (p *plugin) OnConnectWrapper(connect gmqtt.OnConnect) gmqtt.OnConnect {
	return func(ctx context.Context, client gmqtt.Client) (code uint8) {
		slog.Info("broker_client_connected", "client_id", client.OptionsReader().ClientID())
		return connect(ctx, client)
	}
}

// OnSubscribedWrapper logs subscriptions, which is where devices show they
// picked up an advertisement
func (p *plugin) OnSubscribedWrapper(subscribed gmqtt.OnSubscribed) gmqtt.OnSubscribed {
	return func(ctx context.Context, client gmqtt.Client, topic packets.Topic) {
		slog.Info("broker_client_subscribed", "client_id", client.OptionsReader().ClientID(), "topic", topic.Name)
		subscribed(ctx, client, topic)
	}
}

// OnMsgArrivedWrapper checks advertisements and records identity reports
func (p *plugin) OnMsgArrivedWrapper(arrived gmqtt.OnMsgArrived) gmqtt.OnMsgArrived {
	return func(ctx context.Context, client gmqtt.Client, msg packets.Message) (valid bool) {
		clientID := client.OptionsReader().ClientID()
		topic := msg.Topic()
		body := msg.Payload()

		p.mu.Lock()
		p.counts[topic]++
		p.mu.Unlock()

		switch topic {
		case p.opts.AdvertiseTopic:
			adv, err := ota.ParseAdvertisement(body)
			if err != nil {
				slog.Warn("broker_advertisement_invalid", "client_id", clientID, "payload", string(body), "error", err)
				if p.opts.Strict {
					return false
				}
				break
			}
			slog.Info("broker_advertisement", "client_id", clientID, "software", adv.SoftwareType, "version", adv.Version, "channel", adv.Channel)

		case p.opts.ReportTopic:
			var report ota.Report
			if !json.Valid(body) || json.Unmarshal(body, &report) != nil {
				slog.Warn("broker_report_invalid", "client_id", clientID, "payload", string(body))
				if p.opts.Strict {
					return false
				}
				break
			}
			p.mu.Lock()
			p.reports[clientID] = report
			p.mu.Unlock()
			slog.Info("broker_report", "client_id", clientID, "ip", report.IP, "type", report.Type, "version", report.Version)

		default:
			slog.Debug("broker_message", "client_id", clientID, "topic", topic, "bytes", len(body))
		}

		return arrived(ctx, client, msg)
	}
}
