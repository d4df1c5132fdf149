package v4l2uapi

// events.go provides V4L2 event subscription and handling support: the
// gadget endpoint uses VIDIOC_SUBSCRIBE_EVENT/VIDIOC_DQEVENT as the
// transport for UVC-gadget-private events decoded in uvcgadget_ioctl.go.
// EventSourceChange/EventSrcChanges mirror the kernel header's source-change
// event shape for completeness; this agent's capture device runs at a fixed
// format for the process lifetime, so nothing subscribes to it.
//
// See: https://www.kernel.org/doc/html/latest/userspace-api/media/v4l/vidioc-subscribe-event.html
// See: https://www.kernel.org/doc/html/latest/userspace-api/media/v4l/vidioc-dqevent.html

/*
#include <linux/videodev2.h>
*/
import "C"

import (
	"fmt"
	"time"
	"unsafe"
)

// EventType represents the type of V4L2 event.
type EventType = uint32

const (
	EventAll          EventType = C.V4L2_EVENT_ALL
	EventCtrl         EventType = C.V4L2_EVENT_CTRL
	EventSourceChange EventType = C.V4L2_EVENT_SOURCE_CHANGE
	// EventPrivateStart is the base of the driver-specific event range; the
	// UVC gadget function node reports its own events starting here.
	EventPrivateStart EventType = C.V4L2_EVENT_PRIVATE_START
)

// EventSrcChanges represents source change types (v4l2_event_src_change.changes).
type EventSrcChanges = uint32

const (
	EventSrcChResolution EventSrcChanges = C.V4L2_EVENT_SRC_CH_RESOLUTION
)

// EventSubscription represents an event subscription (v4l2_event_subscription).
type EventSubscription struct {
	v4l2EventSubscription C.struct_v4l2_event_subscription
}

// NewEventSubscription creates a new event subscription for the given type.
func NewEventSubscription(eventType EventType) *EventSubscription {
	es := &EventSubscription{}
	es.v4l2EventSubscription._type = C.__u32(eventType)
	return es
}

// SubscribeEvent subscribes to an event type.
func SubscribeEvent(fd uintptr, sub *EventSubscription) error {
	if err := send(fd, C.VIDIOC_SUBSCRIBE_EVENT, uintptr(unsafe.Pointer(&sub.v4l2EventSubscription))); err != nil {
		return fmt.Errorf("subscribe event: type %d: %w", sub.v4l2EventSubscription._type, err)
	}
	return nil
}

// Event represents a V4L2 event (v4l2_event).
type Event struct {
	v4l2Event C.struct_v4l2_event
}

// GetType returns the event type.
func (e *Event) GetType() EventType {
	return EventType(e.v4l2Event._type)
}

// GetTimestamp returns the event timestamp.
func (e *Event) GetTimestamp() time.Time {
	ts := e.v4l2Event.timestamp
	return time.Unix(int64(ts.tv_sec), int64(ts.tv_nsec))
}

// GetRawData returns the raw 64-byte event payload, used to decode
// UVC-gadget-private events (see uvcgadget_ioctl.go) when GetType() falls in
// the EventPrivateStart range.
func (e *Event) GetRawData() []byte {
	return C.GoBytes(unsafe.Pointer(&e.v4l2Event.u[0]), C.int(len(e.v4l2Event.u)))
}

// NewTestEvent builds an Event carrying the given type and raw payload
// without going through VIDIOC_DQEVENT, for fake VideoEndpoint
// implementations that drive the orchestrator's event loop in tests.
func NewTestEvent(t EventType, raw []byte) *Event {
	event := &Event{}
	event.v4l2Event._type = C.__u32(t)
	n := len(raw)
	if n > len(event.v4l2Event.u) {
		n = len(event.v4l2Event.u)
	}
	copy(event.v4l2Event.u[:], raw[:n])
	return event
}

// DequeueEvent dequeues a pending event via VIDIOC_DQEVENT.
func DequeueEvent(fd uintptr) (*Event, error) {
	event := &Event{}
	if err := send(fd, C.VIDIOC_DQEVENT, uintptr(unsafe.Pointer(&event.v4l2Event))); err != nil {
		return nil, fmt.Errorf("dequeue event: %w", err)
	}
	return event, nil
}
