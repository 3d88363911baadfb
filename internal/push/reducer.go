package push

import (
	"github.com/acmxim/envoy/internal/actor"
)

// Status is the connectivity of the push channel.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// ChannelState is the observable connectivity of the channel.
type ChannelState struct {
	Status Status
	// Attempt counts consecutive failed connection tries. It resets on a
	// successful connect.
	Attempt int
}

// machine is the reducer-owned state. dialID identifies the connection
// attempt currently in play; events carrying any other id are stale.
type machine struct {
	ChannelState
	dialID uint64
}

// Inputs.
type (
	cmdConnect struct{ actor.InputBase }
	cmdClose   struct{ actor.InputBase }

	evConnected struct {
		actor.InputBase
		id uint64
	}
	evConnectFailed struct {
		actor.InputBase
		id  uint64
		err error
	}
	evDropped struct {
		actor.InputBase
		id     uint64
		reason string
	}
	evRetryTimer struct {
		actor.InputBase
		id uint64
	}
)

// Effects.
type (
	effDial struct {
		actor.EffectBase
		id uint64
	}
	effCloseConn struct {
		actor.EffectBase
		id uint64
	}
	effScheduleRetry struct {
		actor.EffectBase
		id uint64
	}
	effCancelRetry struct{ actor.EffectBase }
	effRequestSnapshot struct {
		actor.EffectBase
		id uint64
	}
)

// reducer builds the channel state machine:
//
//	disconnected -> connecting -> connected
//	connected    -> connecting            (drop)
//	connecting   -> connecting, attempt++ (failed try)
//	connecting   -> disconnected          (maxAttempts consecutive failures)
//
// Close moves any state to disconnected with nothing scheduled.
func reducer(maxAttempts int) actor.ReducerFunc[machine] {
	return func(s machine, in actor.Input) (machine, []actor.Effect) {
		switch in := in.(type) {
		case cmdConnect:
			if s.Status != StatusDisconnected {
				return s, nil
			}
			s.dialID++
			s.Status = StatusConnecting
			s.Attempt = 0
			return s, []actor.Effect{effDial{id: s.dialID}}

		case cmdClose:
			if s.Status == StatusDisconnected {
				return s, nil
			}
			old := s.dialID
			s.dialID++
			s.Status = StatusDisconnected
			return s, []actor.Effect{effCancelRetry{}, effCloseConn{id: old}}

		case evConnected:
			if in.id != s.dialID || s.Status != StatusConnecting {
				return s, nil
			}
			s.Status = StatusConnected
			s.Attempt = 0
			return s, []actor.Effect{effRequestSnapshot{id: in.id}}

		case evConnectFailed:
			if in.id != s.dialID || s.Status != StatusConnecting {
				return s, nil
			}
			s.Attempt++
			effects := []actor.Effect{effCloseConn{id: in.id}}
			if s.Attempt >= maxAttempts {
				s.Attempt = maxAttempts
				s.Status = StatusDisconnected
				return s, effects
			}
			return s, append(effects, effScheduleRetry{id: in.id})

		case evDropped:
			if in.id != s.dialID || s.Status != StatusConnected {
				return s, nil
			}
			s.Status = StatusConnecting
			return s, []actor.Effect{effCloseConn{id: in.id}, effScheduleRetry{id: in.id}}

		case evRetryTimer:
			if in.id != s.dialID || s.Status != StatusConnecting {
				return s, nil
			}
			s.dialID++
			return s, []actor.Effect{effDial{id: s.dialID}}
		}
		return s, nil
	}
}
