package server

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/greenhouse/internal/greenhouses"
	"github.com/gin-gonic/gin"
)

const (
	noticeEventName       = "notice"
	noticeHeartbeatEvent  = "heartbeat"
	noticeSource          = "greenhouse-api"
	defaultNoticeBuffer   = 16
	defaultNoticeInterval = 25 * time.Second
)

var _ greenhouses.Notifier = (*NoticeDispatcher)(nil)

// NoticeMessage is one notice delivered to a user's open streams.
type NoticeMessage struct {
	UserID    string                  `json:"-"`
	Level     greenhouses.NoticeLevel `json:"level"`
	Message   string                  `json:"message"`
	Source    string                  `json:"source"`
	Timestamp time.Time               `json:"timestamp"`
}

// NoticeDispatcher fans collection notices out to subscribed streams. Slow
// subscribers drop messages instead of blocking the publisher.
type NoticeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*noticeSubscriber
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

type noticeSubscriber struct {
	id     int64
	stream chan NoticeMessage
}

// NewNoticeDispatcher returns an empty dispatcher.
func NewNoticeDispatcher() *NoticeDispatcher {
	return &NoticeDispatcher{
		subscribers: make(map[string]map[int64]*noticeSubscriber),
		bufferSize:  defaultNoticeBuffer,
		clock:       time.Now,
	}
}

// Subscribe registers a stream for the user. The subscription ends when ctx is
// cancelled or the returned cleanup runs, whichever happens first.
func (d *NoticeDispatcher) Subscribe(ctx context.Context, userID string) (<-chan NoticeMessage, func()) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		ch := make(chan NoticeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &noticeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan NoticeMessage, d.bufferSize),
	}
	d.registerSubscriber(userID, subscriber)

	done := make(chan struct{})
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			close(done)
			d.unregisterSubscriber(userID, subscriber.id)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-done:
		}
	}()
	return subscriber.stream, cleanup
}

// Notify publishes a collection notice.
func (d *NoticeDispatcher) Notify(notice greenhouses.Notice) {
	d.Publish(NoticeMessage{
		UserID:    notice.UserID,
		Level:     notice.Level,
		Message:   notice.Message,
		Source:    noticeSource,
		Timestamp: d.clock().UTC(),
	})
}

// Publish delivers message to every stream of its user.
func (d *NoticeDispatcher) Publish(message NoticeMessage) {
	if message.UserID == "" || message.Message == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.UserID]
	copies := make([]*noticeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// SubscriberCount returns the number of open streams for the user.
func (d *NoticeDispatcher) SubscriberCount(userID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[userID])
}

func (d *NoticeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *NoticeDispatcher) registerSubscriber(userID string, subscriber *noticeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*noticeSubscriber)
	}
	d.subscribers[userID][subscriber.id] = subscriber
}

func (d *NoticeDispatcher) unregisterSubscriber(userID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, userID)
		}
	}
	d.mu.Unlock()
}

func (h *httpHandler) handleNoticeStream(c *gin.Context) {
	if h.notices == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "notices_disabled"})
		return
	}
	userID := c.GetString(userIDContextKey)
	ctx := c.Request.Context()
	stream, cleanup := h.notices.Subscribe(ctx, userID)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.noticeInterval)
	defer heartbeat.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(noticeEventName, message)
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(noticeHeartbeatEvent, gin.H{"source": noticeSource, "timestamp": tick.UTC()})
			return true
		}
	})
}
