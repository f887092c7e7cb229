package gateway

import (
	"fmt"
	"time"

	"github.com/layr8/gateway-client/identity"
	"github.com/layr8/gateway-client/internal/etf"
)

// Opcode selects the meaning of an envelope.
type Opcode int

const (
	OpDispatch       Opcode = 0
	OpHeartbeat      Opcode = 1
	OpIdentify       Opcode = 2
	OpInvalidSession Opcode = 9
	OpHello          Opcode = 10
	OpHeartbeatAck   Opcode = 11
)

func (o Opcode) String() string {
	switch o {
	case OpDispatch:
		return "dispatch"
	case OpHeartbeat:
		return "heartbeat"
	case OpIdentify:
		return "identify"
	case OpInvalidSession:
		return "invalid-session"
	case OpHello:
		return "hello"
	case OpHeartbeatAck:
		return "heartbeat-ack"
	}
	return fmt.Sprintf("op-%d", int(o))
}

// Atom and Tuple appear in values returned by Event.Decode.
type (
	Atom  = etf.Atom
	Tuple = etf.Tuple
)

// Envelope is one decoded gateway message.
type Envelope struct {
	Op   Opcode
	Seq  *int64 // dispatch only
	Type string // dispatch only
	Data Payload
}

// Payload is the body of an envelope. Its concrete type is one of Hello,
// Heartbeat, Identify, InvalidSession or Event.
type Payload interface {
	payload()
}

// Hello is the first envelope of every session.
type Hello struct {
	HeartbeatInterval time.Duration
}

// Heartbeat carries the last sequence number seen, or nil.
type Heartbeat struct {
	Seq *int64
}

// InvalidSession reports that the server dropped the session.
type InvalidSession struct {
	Resumable bool
}

// Event is an opaque body: every dispatch, and any opcode without a schema.
type Event struct {
	raw etf.Raw
}

// Raw returns the encoded term of the body.
func (e Event) Raw() []byte { return e.raw }

// Decode decodes the body into maps, lists and scalars.
func (e Event) Decode() (any, error) {
	if len(e.raw) == 0 {
		return nil, nil
	}
	return e.raw.Decode()
}

// DecodeMap decodes a body that is expected to be a map.
func (e Event) DecodeMap() (map[string]any, error) {
	v, err := e.Decode()
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("event body is %T, not a map", v)
	}
	return m, nil
}

func (Hello) payload()          {}
func (Heartbeat) payload()      {}
func (Identify) payload()       {}
func (InvalidSession) payload() {}
func (Event) payload()          {}

// Identify authenticates a new session.
type Identify struct {
	Token        string      `etf:"token"`
	Capabilities int         `etf:"capabilities"`
	Properties   Properties  `etf:"properties"`
	Presence     Presence    `etf:"presence"`
	Compress     bool        `etf:"compress"`
	ClientState  ClientState `etf:"client_state"`
}

// Properties describes the client build and host.
type Properties struct {
	OS                string `etf:"os"`
	Browser           string `etf:"browser"`
	ReleaseChannel    string `etf:"release_channel"`
	ClientVersion     string `etf:"client_version"`
	OSVersion         string `etf:"os_version"`
	OSArch            string `etf:"os_arch"`
	SystemLocale      string `etf:"system_locale"`
	ClientBuildNumber int64  `etf:"client_build_number"`
	ClientEventSource any    `etf:"client_event_source"`
}

// Presence is the initial presence.
type Presence struct {
	Status     string `etf:"status"`
	Since      int64  `etf:"since"`
	Activities []any  `etf:"activities"`
	AFK        bool   `etf:"afk"`
}

// ClientState is the cache state the client claims to hold.
type ClientState struct {
	GuildHashes              map[string]any `etf:"guild_hashes"`
	HighestLastMessageID     string         `etf:"highest_last_message_id"`
	ReadStateVersion         int            `etf:"read_state_version"`
	UserGuildSettingsVersion int            `etf:"user_guild_settings_version"`
}

const identifyCapabilities = 125

func newIdentify(token string, md identity.Metadata) Identify {
	return Identify{
		Token:        token,
		Capabilities: identifyCapabilities,
		Properties: Properties{
			OS:                "Windows",
			Browser:           "Discord Client",
			ReleaseChannel:    "stable",
			ClientVersion:     md.ClientVersion,
			OSVersion:         md.OSVersion,
			OSArch:            "x64",
			SystemLocale:      "en-US",
			ClientBuildNumber: md.BuildNumber,
		},
		Presence: Presence{
			Status:     "online",
			Activities: []any{},
		},
		ClientState: ClientState{
			GuildHashes:              map[string]any{},
			HighestLastMessageID:     "0",
			UserGuildSettingsVersion: -1,
		},
	}
}

// outbound is the wire shape of envelopes the client sends.
type outbound struct {
	Op Opcode `etf:"op"`
	D  any    `etf:"d"`
}

func encodeHeartbeat(seq *int64) ([]byte, error) {
	return etf.Marshal(outbound{Op: OpHeartbeat, D: seq})
}

func encodeIdentify(id Identify) ([]byte, error) {
	return etf.Marshal(outbound{Op: OpIdentify, D: id})
}

// decodeEnvelope parses one inflated message. The body is sliced out
// without being decoded unless its opcode has a schema.
func decodeEnvelope(data []byte) (*Envelope, error) {
	d, err := etf.NewDecoder(data)
	if err != nil {
		return nil, err
	}
	n, err := d.MapLen()
	if err != nil {
		return nil, err
	}

	env := &Envelope{Op: -1}
	var body etf.Raw
	for i := 0; i < n; i++ {
		key, err := d.Key()
		if err != nil {
			return nil, err
		}
		switch key {
		case "op":
			op, err := d.Int()
			if err != nil {
				return nil, fmt.Errorf("op: %w", err)
			}
			env.Op = Opcode(op)
		case "s":
			v, err := d.Term()
			if err != nil {
				return nil, err
			}
			if s, ok := v.(int64); ok {
				env.Seq = &s
			}
		case "t":
			v, err := d.Term()
			if err != nil {
				return nil, err
			}
			switch t := v.(type) {
			case string:
				env.Type = t
			case etf.Atom:
				env.Type = string(t)
			}
		case "d":
			if body, err = d.Raw(); err != nil {
				return nil, err
			}
		default:
			if err := d.Skip(); err != nil {
				return nil, err
			}
		}
	}
	if d.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after envelope", etf.ErrMalformed, d.Remaining())
	}
	if env.Op < 0 {
		return nil, fmt.Errorf("%w: envelope has no op", etf.ErrMalformed)
	}

	env.Data, err = decodePayload(env.Op, body)
	if err != nil {
		return nil, fmt.Errorf("%s payload: %w", env.Op, err)
	}
	return env, nil
}

func decodePayload(op Opcode, body etf.Raw) (Payload, error) {
	switch op {
	case OpHello:
		v, err := body.Decode()
		if err != nil {
			return nil, err
		}
		m, _ := v.(map[string]any)
		ms, ok := toInt64(m["heartbeat_interval"])
		if !ok || ms <= 0 {
			return nil, fmt.Errorf("%w: hello without heartbeat_interval", etf.ErrMalformed)
		}
		return Hello{HeartbeatInterval: time.Duration(ms) * time.Millisecond}, nil

	case OpHeartbeat:
		var hb Heartbeat
		if len(body) > 0 {
			v, err := body.Decode()
			if err != nil {
				return nil, err
			}
			if s, ok := v.(int64); ok {
				hb.Seq = &s
			}
		}
		return hb, nil

	case OpInvalidSession:
		var is InvalidSession
		if len(body) > 0 {
			v, err := body.Decode()
			if err != nil {
				return nil, err
			}
			is.Resumable, _ = v.(bool)
		}
		return is, nil
	}
	return Event{raw: body}, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}
