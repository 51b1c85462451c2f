// Package gateway is the process-wide bridge to the desk confirmation
// devices over MQTT: outbound display directives, inbound confirmation
// events and device status bookkeeping. There is one gateway per process,
// owned by the composition root; its connection lifecycle (connect once,
// auto-reconnect on drop) is explicit, never reached for ambiently.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"deskhub-backend/config"
	"deskhub-backend/internal/model"
	"deskhub-backend/internal/store"
)

// Directive actions understood by the desk display firmware.
const (
	ActionShowConfirmButton  = "show_confirm_button"
	ActionShowInUse          = "show_in_use"
	ActionShowAvailable      = "show_available"
	ActionUpdateHeight       = "update_height"
	ActionCancelVerification = "cancel_pending_verification"

	// Inbound action marker for a physical button press.
	ActionConfirmButton = "confirm_button"
)

const (
	publishQoS     = 1
	publishTimeout = 5 * time.Second
	confirmTimeout = 10 * time.Second
	maxReadings    = 10
)

// ClaimConfirmer is the occupancy entry point the inbound confirmation
// handler invokes. Set after construction to break the wiring cycle between
// the gateway and the coordinator.
type ClaimConfirmer interface {
	ConfirmClaim(ctx context.Context, deskID int64) (*model.Desk, error)
}

// directive is the outbound JSON body published to a desk's display topic.
type directive struct {
	Action   string  `json:"action"`
	DeskID   int64   `json:"desk_id"`
	DeskName string  `json:"desk_name,omitempty"`
	User     string  `json:"user,omitempty"`
	Height   float64 `json:"height,omitempty"`
	IsMoving *bool   `json:"is_moving,omitempty"`
}

// MQTTGateway is the paho-backed gateway implementation.
type MQTTGateway struct {
	client    mqtt.Client
	store     store.Store
	confirmer ClaimConfirmer
	readings  *cache.Cache // recent temperature readings per hardware addr
}

// New builds a gateway for the given broker settings. Connect must be
// called before the gateway is useful; directives published while
// disconnected are dropped with a warning.
func New(cfg *config.MQTTConfig, s store.Store) *MQTTGateway {
	g := &MQTTGateway{
		store:    s,
		readings: cache.New(time.Hour, 10*time.Minute),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(g.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		zap.S().Warnw("mqtt connection lost", "error", err)
	})

	g.client = mqtt.NewClient(opts)
	return g
}

// SetConfirmer installs the occupancy coordinator as the target of inbound
// confirmation events.
func (g *MQTTGateway) SetConfirmer(c ClaimConfirmer) { g.confirmer = c }

// Connect dials the broker and blocks until the connection attempt settles.
func (g *MQTTGateway) Connect() error {
	token := g.client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect failed: %w", err)
	}
	return nil
}

// Disconnect closes the broker connection, letting in-flight work finish.
func (g *MQTTGateway) Disconnect() {
	g.client.Disconnect(250)
}

// onConnect (re)subscribes; it runs on every successful connection so
// subscriptions survive broker reconnects.
func (g *MQTTGateway) onConnect(c mqtt.Client) {
	zap.S().Info("connected to mqtt broker")
	subs := map[string]mqtt.MessageHandler{
		"desk/+/confirm":   g.handleConfirm,
		"+/desk/+/confirm": g.handleConfirm,
		"+/online":         g.handleStatus,
		"+/temperature":    g.handleStatus,
	}
	for filter, handler := range subs {
		if token := c.Subscribe(filter, publishQoS, handler); token.Wait() && token.Error() != nil {
			zap.S().Errorw("mqtt subscribe failed", "filter", filter, "error", token.Error())
		}
	}
}

// Connected reports whether the broker connection is up.
func (g *MQTTGateway) Connected() bool {
	return g.client.IsConnectionOpen()
}

// AwaitConnected waits up to timeout for the broker connection, polling.
// Used for the bounded pre-publish wait; callers never treat a false return
// as fatal.
func (g *MQTTGateway) AwaitConnected(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if g.Connected() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// publish sends a directive to the desk's display topic. Best-effort: when
// the connection is down the message is dropped and the caller's state
// transition stands.
func (g *MQTTGateway) publish(deskID int64, d directive) {
	if !g.Connected() {
		zap.S().Warnw("mqtt disconnected, directive dropped", "action", d.Action, "desk_id", deskID)
		return
	}
	payload, err := json.Marshal(d)
	if err != nil {
		zap.S().Errorw("marshal directive", "action", d.Action, "error", err)
		return
	}
	topic := fmt.Sprintf("desk/%d/display", deskID)
	token := g.client.Publish(topic, publishQoS, false, payload)
	if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
		zap.S().Warnw("mqtt publish failed", "topic", topic, "error", token.Error())
	}
}

// ShowConfirmButton asks the desk device to display its confirm prompt.
func (g *MQTTGateway) ShowConfirmButton(deskID int64, deskName, userName string) {
	g.publish(deskID, directive{
		Action: ActionShowConfirmButton, DeskID: deskID, DeskName: deskName, User: userName,
	})
}

// ShowInUse marks the desk display as occupied by the named user.
func (g *MQTTGateway) ShowInUse(deskID int64, deskName, userName string) {
	g.publish(deskID, directive{
		Action: ActionShowInUse, DeskID: deskID, DeskName: deskName, User: userName,
	})
}

// ShowAvailable clears the desk display back to free.
func (g *MQTTGateway) ShowAvailable(deskID int64) {
	g.publish(deskID, directive{Action: ActionShowAvailable, DeskID: deskID})
}

// UpdateHeight pushes the live height and movement flag to the display.
func (g *MQTTGateway) UpdateHeight(deskID int64, height float64, isMoving bool, userName string) {
	g.publish(deskID, directive{
		Action: ActionUpdateHeight, DeskID: deskID, Height: height, IsMoving: &isMoving, User: userName,
	})
}

// CancelPendingVerification tells the device to drop its confirm prompt.
func (g *MQTTGateway) CancelPendingVerification(deskID int64) {
	g.publish(deskID, directive{Action: ActionCancelVerification, DeskID: deskID})
}
