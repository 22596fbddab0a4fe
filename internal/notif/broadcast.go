package notif

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"billingdesk/internal/common"
	"billingdesk/internal/config"
)

// Broadcaster fans notification events out to every subscribed observer.
// Delivery is best effort: no persistence, no replay, no ordering promise.
type Broadcaster struct {
	observers    map[string]common.Observer
	eventChannel chan common.NotificationEvent
	workerPool   int
	ctx          context.Context
	cancel       context.CancelFunc
	mu           sync.RWMutex
	wg           sync.WaitGroup
	closeOnce    sync.Once
	log          *zap.SugaredLogger
}

func NewBroadcaster(workerPoolSize, queueSize int, log *zap.SugaredLogger) *Broadcaster {
	if workerPoolSize <= 0 {
		workerPoolSize = 1
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	ctx, cancel := context.WithCancel(context.Background())

	b := &Broadcaster{
		observers:    make(map[string]common.Observer),
		eventChannel: make(chan common.NotificationEvent, queueSize),
		workerPool:   workerPoolSize,
		ctx:          ctx,
		cancel:       cancel,
		log:          log,
	}

	for i := 0; i < workerPoolSize; i++ {
		b.wg.Add(1)
		go b.processEvents()
	}

	return b
}

func NewBroadcasterFromConfig(cfg *config.Config, log *zap.SugaredLogger) *Broadcaster {
	return NewBroadcaster(cfg.Notification.Workers, cfg.Notification.QueueSize, log)
}

func (b *Broadcaster) Subscribe(observer common.Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers[observer.Name()] = observer
	b.log.Infow("observer subscribed", "observer", observer.Name())
}

func (b *Broadcaster) Unsubscribe(observer common.Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.observers, observer.Name())
	b.log.Infow("observer unsubscribed", "observer", observer.Name())
}

// Publish delivers the event to every observer on the caller's goroutine.
// An observer failure is logged and never reaches the publisher.
func (b *Broadcaster) Publish(event common.NotificationEvent) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	b.mu.RLock()
	observers := make([]common.Observer, 0, len(b.observers))
	for _, obs := range b.observers {
		observers = append(observers, obs)
	}
	b.mu.RUnlock()

	for _, observer := range observers {
		if err := observer.Update(event); err != nil {
			b.log.Warnw("observer update failed", "observer", observer.Name(), "event", event.Kind, "error", err)
		}
	}
}

// PublishAsync queues the event for the worker pool and drops it when the queue is full.
func (b *Broadcaster) PublishAsync(event common.NotificationEvent) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	select {
	case <-b.ctx.Done():
		return
	default:
	}

	select {
	case b.eventChannel <- event:
	case <-b.ctx.Done():
	default:
		b.log.Warnw("broadcast queue full, dropping event", "event", event.Kind)
	}
}

func (b *Broadcaster) processEvents() {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.eventChannel:
			b.Publish(event)
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *Broadcaster) Shutdown() {
	b.closeOnce.Do(func() {
		b.cancel()
		b.wg.Wait()
		b.log.Info("broadcaster shutdown complete")
	})
}
