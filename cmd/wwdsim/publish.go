package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	mqtt "github.com/soypat/natiu-mqtt"

	"github.com/soypat/wwd/scan"
	"github.com/soypat/wwd/whd"
)

// publisher sends scan tables to an MQTT broker. Each publication uses its
// own connection.
type publisher struct {
	broker   string
	clientID []byte
	topic    []byte
	packetID uint16
	logger   *slog.Logger
}

func newPublisher(broker, clientID, topic string, logger *slog.Logger) *publisher {
	return &publisher{
		broker:   broker,
		clientID: []byte(clientID),
		topic:    []byte(topic),
		logger:   logger,
	}
}

func (p *publisher) Publish(ctx context.Context, results []whd.ScanResult) error {
	var payload bytes.Buffer
	err := scan.WriteTable(&payload, results)
	if err != nil {
		return err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.broker)
	if err != nil {
		return err
	}
	defer conn.Close()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	conn.SetDeadline(deadline)

	client := mqtt.NewClient(mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: make([]byte, 1024)},
		OnPub: func(pubHead mqtt.Header, varPub mqtt.VariablesPublish, r io.Reader) error {
			return nil
		},
	})
	var varconn mqtt.VariablesConnect
	varconn.SetDefaultMQTT(p.clientID)
	err = client.StartConnect(conn, &varconn)
	if err != nil {
		return errors.Join(errors.New("mqtt: start connect"), err)
	}
	for !client.IsConnected() {
		err = client.HandleNext()
		if err != nil {
			return errors.Join(errors.New("mqtt: connect"), err)
		}
	}
	pubFlags, err := mqtt.NewPublishFlags(mqtt.QoS0, false, false)
	if err != nil {
		return err
	}
	p.packetID++
	err = client.PublishPayload(pubFlags, mqtt.VariablesPublish{
		TopicName:        p.topic,
		PacketIdentifier: p.packetID,
	}, payload.Bytes())
	if err != nil {
		return errors.Join(errors.New("mqtt: publish"), err)
	}
	p.logger.Info("published scan table",
		slog.String("topic", string(p.topic)),
		slog.Int("networks", len(results)),
		slog.Uint64("packetID", uint64(p.packetID)),
	)
	return nil
}
