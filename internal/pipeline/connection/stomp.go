package connection

import (
	"civic-notifier/internal/common/config"
	"civic-notifier/internal/common/logger"
	"civic-notifier/internal/common/stomp"
)

// StompOptions maps the push and transport config sections onto the STOMP client.
func StompOptions(push config.PushConfig, tr config.TransportConfig) stomp.Options {
	return stomp.Options{
		URL:              push.URL,
		Destination:      push.Topic,
		Host:             push.Host,
		Origin:           push.Origin,
		HandshakeTimeout: config.GetDuration(tr.HandshakeTimeout),
		HeartbeatSend:    config.GetDuration(tr.HeartbeatSend),
		HeartbeatReceive: config.GetDuration(tr.HeartbeatReceive),
		Backoff: stomp.BackoffConfig{
			Initial:     config.GetDuration(tr.ReconnectInitial),
			Max:         config.GetDuration(tr.ReconnectMax),
			Multiplier:  tr.ReconnectMultiplier,
			Jitter:      tr.ReconnectJitter,
			MaxAttempts: tr.MaxAttempts,
		},
		Debug: tr.DebugEnabled(),
	}
}

// StompDialer opens STOMP-over-WebSocket subscriptions with opts.
func StompDialer(opts stomp.Options, log logger.Logger) Dialer {
	return func(token string, handler func([]byte), onState func(bool, error)) Transport {
		o := opts
		o.Token = token
		return stomp.NewClient(o, handler, onState, log)
	}
}
