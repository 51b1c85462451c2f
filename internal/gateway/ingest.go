package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"deskhub-backend/internal/store"
)

// deviceEvent is the inbound JSON body from a desk device.
type deviceEvent struct {
	Action string `json:"action"`
}

func (g *MQTTGateway) handleConfirm(_ mqtt.Client, msg mqtt.Message) {
	g.processConfirm(msg.Topic(), msg.Payload())
}

// processConfirm parses a confirmation message and drives the claim state
// machine. Malformed input is logged and dropped without retry: the button
// is the source of truth and the user can press it again. The confirm call
// takes the same per-desk lock as every user-triggered operation.
func (g *MQTTGateway) processConfirm(topic string, payload []byte) {
	deskID, ok := ParseConfirmTopic(topic)
	if !ok {
		zap.S().Warnw("unparseable confirmation topic, dropped", "topic", topic)
		return
	}
	var ev deviceEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		zap.S().Warnw("malformed confirmation payload, dropped", "topic", topic, "error", err)
		return
	}
	if ev.Action != ActionConfirmButton {
		return
	}
	if g.confirmer == nil {
		zap.S().Errorw("confirmation received before coordinator wired", "desk_id", deskID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), confirmTimeout)
	defer cancel()
	if _, err := g.confirmer.ConfirmClaim(ctx, deskID); err != nil {
		zap.S().Warnw("device confirmation not applied", "desk_id", deskID, "error", err)
	}
}

func (g *MQTTGateway) handleStatus(_ mqtt.Client, msg mqtt.Message) {
	g.processStatus(msg.Topic(), msg.Payload())
}

// processStatus updates device bookkeeping from online/temperature topics.
// These never touch occupancy state.
func (g *MQTTGateway) processStatus(topic string, payload []byte) {
	addr, kind, ok := ParseStatusTopic(topic)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), confirmTimeout)
	defer cancel()
	now := time.Now().UTC()

	switch kind {
	case "online":
		online := string(payload) == "1"
		if err := g.store.UpdateDeviceByAddr(ctx, addr, online, now); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				zap.S().Warnw("status from unknown device", "addr", addr)
				return
			}
			zap.S().Errorw("update device status", "addr", addr, "error", err)
		}
	case "temperature":
		temp, err := strconv.ParseFloat(string(payload), 64)
		if err != nil {
			zap.S().Warnw("malformed temperature payload, dropped", "addr", addr, "error", err)
			return
		}
		g.recordReading(addr, temp, now)
		if err := g.store.UpdateDeviceByAddr(ctx, addr, true, now); err != nil && !errors.Is(err, store.ErrNotFound) {
			zap.S().Errorw("update device last seen", "addr", addr, "error", err)
		}
	}
}

// Reading is a buffered temperature sample from a desk device.
type Reading struct {
	Temperature float64   `json:"temperature"`
	At          time.Time `json:"at"`
}

// recordReading appends to the device's in-memory reading buffer, capped at
// the most recent samples.
func (g *MQTTGateway) recordReading(addr string, temp float64, at time.Time) {
	var buf []Reading
	if v, found := g.readings.Get(addr); found {
		buf = v.([]Reading)
	}
	buf = append(buf, Reading{Temperature: temp, At: at})
	if len(buf) > maxReadings {
		buf = buf[len(buf)-maxReadings:]
	}
	g.readings.SetDefault(addr, buf)
}

// RecentReadings returns the buffered temperature samples for a device.
func (g *MQTTGateway) RecentReadings(addr string) []Reading {
	if v, found := g.readings.Get(addr); found {
		return v.([]Reading)
	}
	return nil
}
