package verbose

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// StandardHeader holds the fixed legacy header plus the optional fields it
// announces in its type byte.
type StandardHeader struct {
	Type      uint8
	Version   uint8
	BigEndian bool
	Counter   uint8
	Length    uint16
	EcuID     string
	SessionID *uint32
	Timestamp *uint32
}

// MessageKind is the MSTP field of the extended header.
type MessageKind uint8

const (
	KindLog          MessageKind = 0x0
	KindAppTrace     MessageKind = 0x1
	KindNetworkTrace MessageKind = 0x2
	KindControl      MessageKind = 0x3
)

// MessageType combines MSTP and MTIN.
type MessageType struct {
	Kind MessageKind
	Info uint8
}

var logLevelNames = map[uint8]string{
	1: "Fatal",
	2: "Error",
	3: "Warn",
	4: "Info",
	5: "Debug",
	6: "Verbose",
}

var appTraceNames = map[uint8]string{
	1: "Variable",
	2: "FunctionIn",
	3: "FunctionOut",
	4: "State",
	5: "Vfb",
}

var networkTraceNames = map[uint8]string{
	1: "Ipc",
	2: "Can",
	3: "Flexray",
	4: "Most",
	5: "Ethernet",
	6: "SomeIP",
}

var controlNames = map[uint8]string{
	1: "Request",
	2: "Response",
}

// String renders the type as Kind(Info), e.g. Log(Info) or
// ApplicationTrace(Variable).
func (t MessageType) String() string {
	var kind string
	var names map[uint8]string
	switch t.Kind {
	case KindLog:
		kind, names = "Log", logLevelNames
	case KindAppTrace:
		kind, names = "ApplicationTrace", appTraceNames
	case KindNetworkTrace:
		kind, names = "NetworkTrace", networkTraceNames
	case KindControl:
		kind, names = "Control", controlNames
	default:
		return fmt.Sprintf("Unknown(%d,%d)", t.Kind, t.Info)
	}
	if name, ok := names[t.Info]; ok {
		return kind + "(" + name + ")"
	}
	return fmt.Sprintf("%s(Invalid%d)", kind, t.Info)
}

// ExtendedHeader is the 10-byte block present when the standard header sets
// UEH.
type ExtendedHeader struct {
	Verbose       bool
	ArgumentCount uint8
	ApplicationID string
	ContextID     string
	MessageType   MessageType
}

// ArgKind classifies a verbose argument value.
type ArgKind uint8

const (
	ArgBool ArgKind = iota
	ArgSigned
	ArgUnsigned
	ArgFloat
	ArgString
	ArgRaw
	ArgWide
)

var argKindNames = [...]string{
	ArgBool:     "bool",
	ArgSigned:   "sint",
	ArgUnsigned: "uint",
	ArgFloat:    "float",
	ArgString:   "string",
	ArgRaw:      "raw",
	ArgWide:     "wide",
}

func (k ArgKind) String() string {
	if int(k) < len(argKindNames) {
		return argKindNames[k]
	}
	return fmt.Sprintf("kind%d", k)
}

// Argument is one decoded verbose argument. Value holds bool, int64, uint64,
// float64, string or []byte depending on Kind.
type Argument struct {
	Kind  ArgKind
	Name  string
	Unit  string
	Value any
}

// String is the generic rendering used for non-string arguments, e.g.
// uint(42) or raw(0a0b).
func (a Argument) String() string {
	var val string
	switch v := a.Value.(type) {
	case []byte:
		val = hex.EncodeToString(v)
	case string:
		val = v
	default:
		val = fmt.Sprint(v)
	}
	var b strings.Builder
	b.WriteString(a.Kind.String())
	b.WriteByte('(')
	if a.Name != "" {
		b.WriteString(a.Name)
		b.WriteByte('=')
	}
	b.WriteString(val)
	if a.Unit != "" {
		b.WriteByte(' ')
		b.WriteString(a.Unit)
	}
	b.WriteByte(')')
	return b.String()
}

// Payload is either a verbose argument list or an opaque non-verbose body
// prefixed by a message id.
type Payload struct {
	Verbose   bool
	Arguments []Argument
	MessageID uint32
	Data      []byte
}

func (p Payload) String() string {
	if p.Verbose {
		parts := make([]string, len(p.Arguments))
		for i, arg := range p.Arguments {
			parts[i] = arg.String()
		}
		return "Verbose[" + strings.Join(parts, ", ") + "]"
	}
	return fmt.Sprintf("NonVerbose(id=%d, data=%s)", p.MessageID, hex.EncodeToString(p.Data))
}

// Message is one fully decoded legacy frame.
type Message struct {
	Header   StandardHeader
	Extended *ExtendedHeader
	Payload  Payload
}
