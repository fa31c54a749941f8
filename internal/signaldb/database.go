package signaldb

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/danmuck/canview/internal/canbus"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownMessage    = errors.New("signaldb: unknown message")
	ErrShortPayload      = errors.New("signaldb: payload shorter than message")
	ErrInvalidDatabase   = errors.New("signaldb: invalid database")
	ErrUnsupportedFormat = errors.New("signaldb: unsupported database format")
)

const (
	FormatTOML = "toml"
	FormatYAML = "yaml"
	FormatDBC  = "dbc"
)

// Signal is one decodable field of a message.
type Signal struct {
	Name      string
	StartBit  int
	Length    int
	ByteOrder string
	Signed    bool
	Scale     float64
	Offset    float64
	Unit      string
	Values    map[int64]string
	// Multiplexer is set on the message's switch signal. A signal with a
	// MuxValue decodes only while the switch holds that raw value.
	Multiplexer bool
	MuxValue    *uint64
}

// Message is one database entry keyed by CAN identifier.
type Message struct {
	ID      uint32
	Name    string
	Length  int
	Signals []Signal

	mux int // index of the multiplexer switch in Signals, -1 when none
}

// Descriptor returns the port-facing description of m.
func (m *Message) Descriptor() canbus.Descriptor {
	names := make([]string, 0, len(m.Signals))
	for _, sig := range m.Signals {
		names = append(names, sig.Name)
	}
	return canbus.Descriptor{ID: m.ID, Name: m.Name, Length: m.Length, Signals: names}
}

// Database is a read-only signal database. Safe for concurrent use.
type Database struct {
	source   string
	messages map[uint32]*Message
	ordered  []*Message
}

var _ canbus.Decoder = (*Database)(nil)

// Load reads a database file; .toml uses go-toml, .yaml/.yml uses yaml.v3 and
// .dbc uses the einride DBC parser.
func Load(path string) (*Database, error) {
	format, err := formatForPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signaldb load failed (%s): %w", path, err)
	}
	db, err := parse(filepath.Base(path), data, format)
	if err != nil {
		return nil, fmt.Errorf("signaldb parse failed (%s): %w", path, err)
	}
	db.source = path
	return db, nil
}

// Parse builds a database from raw file content in the given format.
func Parse(data []byte, format string) (*Database, error) {
	return parse("database."+format, data, format)
}

func parse(name string, data []byte, format string) (*Database, error) {
	var raw fileSchema
	switch format {
	case FormatDBC:
		var err error
		if raw, err = parseDBC(name, data); err != nil {
			return nil, err
		}
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDatabase, err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDatabase, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return build(raw)
}

func formatForPath(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".dbc":
		return FormatDBC, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

func build(raw fileSchema) (*Database, error) {
	db := &Database{messages: make(map[uint32]*Message, len(raw.Messages))}
	for i, ms := range raw.Messages {
		msg, err := buildMessage(ms)
		if err != nil {
			return nil, fmt.Errorf("message[%d] %w", i, err)
		}
		if _, ok := db.messages[msg.ID]; ok {
			return nil, fmt.Errorf("%w: duplicate message id 0x%X", ErrInvalidDatabase, msg.ID)
		}
		db.messages[msg.ID] = msg
		db.ordered = append(db.ordered, msg)
	}
	sort.Slice(db.ordered, func(i, j int) bool {
		return db.ordered[i].ID < db.ordered[j].ID
	})
	return db, nil
}

func buildMessage(ms messageSchema) (*Message, error) {
	if ms.ID > canbus.MaxExtID {
		return nil, fmt.Errorf("%w: id 0x%X out of range", ErrInvalidDatabase, ms.ID)
	}
	name := strings.TrimSpace(ms.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: message 0x%X missing name", ErrInvalidDatabase, ms.ID)
	}
	if ms.Length < 0 || ms.Length > canbus.MaxDataLength {
		return nil, fmt.Errorf("%w: message %s length %d", ErrInvalidDatabase, name, ms.Length)
	}

	msg := &Message{ID: ms.ID, Name: name, Length: ms.Length, mux: -1}
	seen := make(map[string]struct{}, len(ms.Signals))
	needed := 0
	for _, ss := range ms.Signals {
		sig, err := buildSignal(ss)
		if err != nil {
			return nil, fmt.Errorf("%w (message %s)", err, name)
		}
		if _, ok := seen[sig.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate signal %q in message %s", ErrInvalidDatabase, sig.Name, name)
		}
		seen[sig.Name] = struct{}{}
		if sig.Multiplexer {
			if msg.mux >= 0 {
				return nil, fmt.Errorf("%w: message %s has more than one multiplexer", ErrInvalidDatabase, name)
			}
			msg.mux = len(msg.Signals)
		}
		if n := bytesNeeded(sig); n > needed {
			needed = n
		}
		msg.Signals = append(msg.Signals, sig)
	}

	if msg.mux < 0 {
		for _, sig := range msg.Signals {
			if sig.MuxValue != nil {
				return nil, fmt.Errorf("%w: signal %s in message %s is multiplexed without a multiplexer", ErrInvalidDatabase, sig.Name, name)
			}
		}
	}

	if msg.Length == 0 {
		msg.Length = needed
	}
	if needed > msg.Length {
		return nil, fmt.Errorf("%w: signals of %s exceed %d bytes", ErrInvalidDatabase, name, msg.Length)
	}
	return msg, nil
}

func buildSignal(ss signalSchema) (Signal, error) {
	name := strings.TrimSpace(ss.Name)
	if name == "" {
		return Signal{}, fmt.Errorf("%w: signal missing name", ErrInvalidDatabase)
	}
	if ss.Length < 1 || ss.Length > 64 {
		return Signal{}, fmt.Errorf("%w: signal %s length %d", ErrInvalidDatabase, name, ss.Length)
	}
	order := strings.TrimSpace(ss.ByteOrder)
	if order == "" {
		order = LittleEndian
	}
	if order != LittleEndian && order != BigEndian {
		return Signal{}, fmt.Errorf("%w: signal %s byte_order %q", ErrInvalidDatabase, name, ss.ByteOrder)
	}
	if ss.StartBit < 0 || ss.StartBit >= canbus.MaxDataLength*8 {
		return Signal{}, fmt.Errorf("%w: signal %s start_bit %d", ErrInvalidDatabase, name, ss.StartBit)
	}
	scale := ss.Scale
	if scale == 0 {
		scale = 1
	}

	sig := Signal{
		Name:      name,
		StartBit:  ss.StartBit,
		Length:    ss.Length,
		ByteOrder: order,
		Signed:    ss.Signed,
		Scale:     scale,
		Offset:    ss.Offset,
		Unit:      ss.Unit,

		Multiplexer: ss.Multiplexer,
		MuxValue:    ss.MuxValue,
	}
	if sig.Multiplexer && sig.MuxValue != nil {
		return Signal{}, fmt.Errorf("%w: signal %s is both multiplexer and multiplexed", ErrInvalidDatabase, name)
	}
	if len(ss.Values) > 0 {
		sig.Values = make(map[int64]string, len(ss.Values))
		for rawKey, label := range ss.Values {
			key, err := strconv.ParseInt(strings.TrimSpace(rawKey), 0, 64)
			if err != nil {
				return Signal{}, fmt.Errorf("%w: signal %s value key %q", ErrInvalidDatabase, name, rawKey)
			}
			sig.Values[key] = label
		}
	}
	if _, ok := bitPositions(sig, canbus.MaxDataLength); !ok {
		return Signal{}, fmt.Errorf("%w: signal %s does not fit in a frame", ErrInvalidDatabase, name)
	}
	return sig, nil
}

// Source returns the path the database was loaded from, if any.
func (db *Database) Source() string {
	return db.source
}

// Lookup implements canbus.Decoder.
func (db *Database) Lookup(id uint32) (canbus.Descriptor, bool) {
	msg, ok := db.messages[id]
	if !ok {
		return canbus.Descriptor{}, false
	}
	return msg.Descriptor(), true
}

// Message returns the full definition for id.
func (db *Database) Message(id uint32) (*Message, bool) {
	msg, ok := db.messages[id]
	return msg, ok
}

// Decode implements canbus.Decoder.
func (db *Database) Decode(id uint32, payload []byte) (canbus.Fields, error) {
	msg, ok := db.messages[id]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%X", ErrUnknownMessage, id)
	}
	if len(payload) < msg.Length {
		return nil, fmt.Errorf("%w: %s want=%d got=%d", ErrShortPayload, msg.Name, msg.Length, len(payload))
	}
	out := make(canbus.Fields, len(msg.Signals))
	var active uint64
	if msg.mux >= 0 {
		active = extractRaw(msg.Signals[msg.mux], payload)
	}
	for _, sig := range msg.Signals {
		if sig.MuxValue != nil && *sig.MuxValue != active {
			continue
		}
		out[sig.Name] = decodeSignal(sig, payload)
	}
	return out, nil
}

// Messages returns every message descriptor ordered by identifier.
func (db *Database) Messages() []canbus.Descriptor {
	out := make([]canbus.Descriptor, 0, len(db.ordered))
	for _, msg := range db.ordered {
		out = append(out, msg.Descriptor())
	}
	return out
}

// IDs returns every message identifier in ascending order.
func (db *Database) IDs() []uint32 {
	out := make([]uint32, 0, len(db.ordered))
	for _, msg := range db.ordered {
		out = append(out, msg.ID)
	}
	return out
}

// Search keeps messages whose "0x<hex id>" form or name contains the query,
// case-insensitively. An empty query matches everything.
func (db *Database) Search(query string) []canbus.Descriptor {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return db.Messages()
	}
	out := make([]canbus.Descriptor, 0)
	for _, msg := range db.ordered {
		hexID := fmt.Sprintf("0x%x", msg.ID)
		if strings.Contains(hexID, q) || strings.Contains(strings.ToLower(msg.Name), q) {
			out = append(out, msg.Descriptor())
		}
	}
	return out
}
