// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/gps_tracker/internal/config"
	"github.com/relabs-tech/gps_tracker/internal/session"
)

const publishTimeout = 2 * time.Second

// publisher is the part of mqtt.Client the sink needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// mqttSink publishes accepted fixes and status changes, retained, so late
// subscribers see the latest of each.
type mqttSink struct {
	pub   publisher
	cfg   config.MQTTConfig
	board *statusBoard
	log   logrus.FieldLogger
}

func connectMQTT(broker, clientID string, log logrus.FieldLogger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	log.WithField("broker", broker).Info("connected to MQTT broker")
	return client, nil
}

func newMQTTSink(pub publisher, cfg config.MQTTConfig, board *statusBoard, log logrus.FieldLogger) *mqttSink {
	return &mqttSink{pub: pub, cfg: cfg, board: board, log: log.WithField("component", "mqtt")}
}

func (s *mqttSink) publish(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.log.WithError(err).Error("JSON marshal error")
		return
	}
	token := s.pub.Publish(topic, 0, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		s.log.WithField("topic", topic).Warn("publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		s.log.WithError(err).WithField("topic", topic).Warn("publish error")
	}
}

// Handle is a session.Listener. It must be subscribed after the status
// board so the status it publishes already includes ev.
func (s *mqttSink) Handle(ev session.Event) {
	switch ev.(type) {
	case session.PositionUpdate:
		st := s.board.Snapshot()
		if st.Last != nil {
			s.publish(s.cfg.TopicPosition, st.Last)
		}
	case session.StateChanged, session.ConnectionMade, session.ConnectionFailed,
		session.ConnectionLost, session.AcquisitionHalted:
		s.publish(s.cfg.TopicStatus, s.board.Snapshot())
	}
}
