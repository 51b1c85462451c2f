package notification

import (
	"context"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"deskhub-backend/internal/model"
	"deskhub-backend/internal/store"
)

// Sender defines the interface for sending a single web push notification.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real Sender backed by the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Notice is a queued push message addressed to all of a user's registered
// browser subscriptions.
type Notice struct {
	UserID  int64
	Message string
}

// WorkerPool fans notices out to webpush across a fixed set of workers.
type WorkerPool struct {
	size    int
	jobs    chan Notice
	store   store.Store
	webpush *webpush.Options
	sender  Sender
}

// NewWorkerPool creates a worker pool.
func NewWorkerPool(size int, s store.Store, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Notice, size),
		store:   s,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	zap.S().Debugw("notification worker started", "worker", id)
	for {
		select {
		case notice := <-wp.jobs:
			wp.deliver(ctx, notice)
		case <-ctx.Done():
			zap.S().Debugw("notification worker shutting down", "worker", id)
			return
		}
	}
}

// Dispatch queues a notice for delivery.
func (wp *WorkerPool) Dispatch(notice Notice) {
	wp.jobs <- notice
}

// Jobs exposes the queue for tests.
func (wp *WorkerPool) Jobs() chan Notice { return wp.jobs }

// deliver sends the notice to every subscription the user has registered.
func (wp *WorkerPool) deliver(ctx context.Context, notice Notice) {
	subs, err := wp.store.UserSubscriptions(ctx, notice.UserID)
	if err != nil {
		zap.S().Errorw("fetch subscriptions", "user_id", notice.UserID, "error", err)
		return
	}
	for _, sub := range subs {
		wp.send(ctx, sub, []byte(notice.Message))
	}
}

func (wp *WorkerPool) send(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}
	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		zap.S().Warnw("push delivery failed", "endpoint", sub.Endpoint, "error", err)
		return
	}
	defer resp.Body.Close()

	// 410 means the browser dropped the subscription; prune it.
	if resp.StatusCode == http.StatusGone {
		if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			zap.S().Warnw("prune expired subscription", "endpoint", sub.Endpoint, "error", err)
		}
	}
}
