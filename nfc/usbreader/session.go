package usbreader

import (
	"errors"
	"log"
	"sync"
	"time"

	davinfc "github.com/dotside-studios/davi-pay/nfc"
)

// usbSession is one emulated reader session.
type usbSession struct {
	reader *Reader
	opts   davinfc.SessionOptions
	events chan<- davinfc.Event
	stop   chan struct{}

	mu     sync.Mutex
	closed bool
}

var _ davinfc.ReaderSession = (*usbSession)(nil)

func (s *usbSession) deliver(ev davinfc.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if ev.Kind == davinfc.EventInvalidated {
		s.closed = true
		close(s.stop)
	}
	s.events <- ev
	return true
}

// end invalidates the session with reason.
func (s *usbSession) end(reason string) {
	if s.deliver(davinfc.Event{Kind: davinfc.EventInvalidated, Reason: reason}) {
		s.reader.release(s)
	}
}

func (s *usbSession) run() {
	ticker := time.NewTicker(s.reader.pollInterval)
	defer ticker.Stop()
	timeout := time.NewTimer(s.reader.sessionTimeout)
	defer timeout.Stop()

	failures := 0
	for {
		select {
		case <-s.stop:
			return
		case <-timeout.C:
			s.end(ReasonTimeout)
			return
		case <-ticker.C:
		}

		tags, err := s.reader.poll()
		if err != nil {
			failures++
			log.Printf("[usb] Poll failed (%d/%d): %v", failures, maxPollErrors, err)
			if failures >= maxPollErrors {
				s.end("Reader error: " + err.Error())
				return
			}
			continue
		}
		failures = 0
		if len(tags) == 0 {
			continue
		}

		tag := tags[0]
		if !s.opts.InvalidateAfterFirstRead {
			log.Printf("[usb] Tag %s connected", tag.UID())
			s.deliver(davinfc.Event{Kind: davinfc.EventTagDetected, Tag: &ntagTag{tag: tag, hw: &s.reader.hw}})
			break
		}

		msg, err := s.reader.read(tag)
		switch {
		case errors.Is(err, errNoNDEF):
			s.deliver(davinfc.Event{Kind: davinfc.EventTagDetected})
		case err != nil:
			// Usually the tag left the field mid-read.
			log.Printf("[usb] Read of %s failed: %v", tag.UID(), err)
			continue
		default:
			s.deliver(davinfc.Event{Kind: davinfc.EventTagDetected, Messages: []*davinfc.NDEFMessage{msg}})
		}
		s.end(ReasonFirstRead)
		return
	}

	// A tag was handed to the owner; wait for it to invalidate.
	select {
	case <-s.stop:
	case <-timeout.C:
		s.end(ReasonTimeout)
	}
}

// SetAlertMessage logs message; USB readers have no display.
func (s *usbSession) SetAlertMessage(message string) {
	log.Printf("[usb] %s", message)
}

func (s *usbSession) Invalidate(message string) {
	log.Printf("[usb] %s", message)
	s.end("")
}

func (s *usbSession) InvalidateWithError(message string) {
	log.Printf("[usb] Error: %s", message)
	s.end("")
}
