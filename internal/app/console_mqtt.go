// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/gps_tracker/internal/config"
)

// RunConsoleMQTT prints what a running tracker publishes.
func RunConsoleMQTT(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	logger, err := NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	log := logger.WithField("component", "console")

	client, err := connectMQTT(cfg.MQTT.Broker, cfg.MQTT.ClientIDConsole, log)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	// Subscribe to accepted positions
	posToken := client.Subscribe(cfg.MQTT.TopicPosition, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var m PositionMessage
		if err := json.Unmarshal(msg.Payload(), &m); err != nil {
			log.WithError(err).Warn("position unmarshal error")
			return
		}
		fmt.Print(formatPosition(m))
	})
	posToken.Wait()
	if posToken.Error() != nil {
		return posToken.Error()
	}
	log.WithField("topic", cfg.MQTT.TopicPosition).Info("subscribed")

	// Subscribe to tracker status
	statusToken := client.Subscribe(cfg.MQTT.TopicStatus, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s Status
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.WithError(err).Warn("status unmarshal error")
			return
		}
		fmt.Print(formatStatus(s))
	})
	statusToken.Wait()
	if statusToken.Error() != nil {
		return statusToken.Error()
	}
	log.WithField("topic", cfg.MQTT.TopicStatus).Info("subscribed")

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	return nil
}
