package jsonapi

import (
	"encoding/json"
	"time"

	"github.com/fieldgate/fieldgate/internal/command"
)

// inbound is the envelope every client line must fit. data is decoded per
// type below.
type inbound struct {
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Priority  int             `json:"priority"`
	Timestamp float64         `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type modeData struct {
	Mode *int `json:"mode"`
}

type targetData struct {
	Target *int `json:"target"`
}

type motorData struct {
	StepCommand string `json:"step_command"`
	AlarmReset  bool   `json:"alarm_reset"`
	Position    *int   `json:"position"`
	Speed       *int   `json:"speed"`
}

type jogData struct {
	Speed     int  `json:"speed"`
	Direction *int `json:"direction"`
}

// sourceOf maps the legacy source strings onto command sources. Anything
// unrecognized is treated as the operator tier.
func sourceOf(s string) command.Source {
	switch s {
	case "Local":
		return command.SourceLocal
	case "Layer_B", "Supervisor", "supervisor":
		return command.SourceSupervisor
	default:
		return command.SourceOperator
	}
}

// handleLine parses one client line and routes it to the sink. Bad lines
// are logged and dropped; the protocol sends no error replies.
func (s *Server) handleLine(c *client, line []byte) {
	var in inbound
	if err := json.Unmarshal(line, &in); err != nil {
		s.log.Warnf("JSON client %v sent a malformed line: %v", c.id, err)
		return
	}

	if in.Type == "heartbeat" {
		c.heartbeats++
		if c.heartbeats%30 == 0 {
			s.log.Debugf("JSON client %v heartbeats: %v", c.id, c.heartbeats)
		}
		return
	}

	src := sourceOf(in.Source)
	prio := in.Priority
	if prio < command.PriorityLocal || prio > command.PriorityOperator {
		prio = command.PriorityOperator
	}
	now := time.Now()

	switch in.Type {
	case "set_mode":
		var d modeData
		if err := json.Unmarshal(in.Data, &d); err != nil || d.Mode == nil {
			s.log.Warnf("JSON client %v: set_mode needs data.mode", c.id)
			return
		}
		s.sink.SetMode(*d.Mode, src)

	case "set_target":
		var d targetData
		if err := json.Unmarshal(in.Data, &d); err != nil || d.Target == nil {
			s.log.Warnf("JSON client %v: set_target needs data.target", c.id)
			return
		}
		s.sink.SetTarget(*d.Target, src)

	case "motor_control":
		var d motorData
		if len(in.Data) > 0 {
			if err := json.Unmarshal(in.Data, &d); err != nil {
				s.log.Warnf("JSON client %v: bad motor_control data: %v", c.id, err)
				return
			}
		}
		s.sink.Submit(s.motorEnvelope(d, src, prio, now))

	case "jog_control":
		var d jogData
		if err := json.Unmarshal(in.Data, &d); err != nil {
			s.log.Warnf("JSON client %v: bad jog_control data: %v", c.id, err)
			return
		}
		code := command.JogCW
		if d.Direction != nil && *d.Direction <= 0 {
			code = command.JogCCW
		}
		s.sink.Submit(command.Envelope{
			Code: code, Speed: d.Speed, Source: src, Priority: prio, At: now,
		})

	case "stop_motor":
		s.sink.Submit(command.Envelope{
			Code: command.Stop, Source: src, Priority: prio, At: now,
		})

	case "release_control":
		// Hands the plant back to the local cycle: a low-priority stop.
		s.sink.Submit(command.Envelope{
			Code: command.Stop, Source: command.SourceLocal, Priority: command.PriorityLocal, At: now,
		})

	case "emergency_stop":
		s.sink.Submit(command.Envelope{
			Code: command.Emergency, Source: src, Priority: prio, At: now,
		})

	default:
		s.log.Warnf("JSON client %v: unsupported command %q", c.id, in.Type)
	}
}

// motorEnvelope sorts the three motor_control shapes apart: step on/off,
// alarm reset, or an absolute move. Moves with no position or speed fall
// back to the last snapshot, the way the legacy operator panel behaves.
func (s *Server) motorEnvelope(d motorData, src command.Source, prio int, now time.Time) command.Envelope {
	env := command.Envelope{Source: src, Priority: prio, At: now}
	switch {
	case d.StepCommand == "on":
		env.Code = command.StepOn
	case d.StepCommand == "off":
		env.Code = command.StepOff
	case d.AlarmReset:
		env.Code = command.ResetAlarm
	default:
		env.Code = command.MoveAbs
		last, _ := s.bus.Last()
		if d.Position != nil {
			env.Position = *d.Position
		} else {
			env.Position = last.Position
		}
		if d.Speed != nil {
			env.Speed = *d.Speed
		} else if last.Speed > 0 {
			env.Speed = last.Speed
		} else {
			env.Speed = 1000
		}
	}
	return env
}
