package controller

import (
	"context"

	"github.com/dgnsrekt/window_titler/internal/host"
	"github.com/dgnsrekt/window_titler/internal/relay"
)

type titleEvent struct {
	WindowID host.WindowID `json:"window_id"`
	Prefix   string        `json:"prefix"`
}

type windowValueEvent struct {
	WindowID host.WindowID `json:"window_id"`
	Key      string        `json:"key"`
	Removed  bool          `json:"removed"`
	External bool          `json:"external"`
}

type lifecycleEvent struct {
	State string `json:"state"`
}

// publishingBrowser reports every successful preface write.
type publishingBrowser struct {
	host.Browser
	events *relay.Broker
}

func (p publishingBrowser) SetTitlePreface(ctx context.Context, windowID host.WindowID, preface string) error {
	if err := p.Browser.SetTitlePreface(ctx, windowID, preface); err != nil {
		return err
	}
	p.events.PublishJSON(relay.FeedTitles, titleEvent{WindowID: windowID, Prefix: preface})
	return nil
}

func (s *Service) publishWindowValue(ev host.WindowValueChanged) {
	s.events.PublishJSON(relay.FeedWindowData, windowValueEvent{
		WindowID: ev.WindowID,
		Key:      ev.Key,
		Removed:  ev.Value == nil,
		External: ev.External,
	})
}

func (s *Service) publishLifecycle(state string) {
	s.events.PublishJSON(relay.FeedLifecycle, lifecycleEvent{State: state})
}
