package signaldb

import (
	"fmt"
	"strconv"

	"github.com/danmuck/canview/internal/canbus"
	"github.com/rs/zerolog/log"
	"go.einride.tech/can/pkg/dbc"
)

const (
	dbcExtendedFlag = 0x80000000
	// dbcIndependentSignals is the pseudo message that holds unattached
	// signals (VECTOR__INDEPENDENT_SIG_MSG).
	dbcIndependentSignals = 0xC0000000
)

// parseDBC maps BO_/SG_/VAL_ definitions onto the file schema so DBC input
// goes through the same validation as TOML and YAML.
func parseDBC(name string, data []byte) (fileSchema, error) {
	p := dbc.NewParser(name, data)
	if err := p.Parse(); err != nil {
		return fileSchema{}, fmt.Errorf("%w: %v", ErrInvalidDatabase, err)
	}

	type signalKey struct {
		id   uint32
		name string
	}
	labels := make(map[signalKey]map[string]string)
	var messages []messageSchema
	var rawIDs []uint32
	for _, def := range p.Defs() {
		switch def := def.(type) {
		case *dbc.MessageDef:
			if uint32(def.MessageID) == dbcIndependentSignals {
				continue
			}
			if def.Size > canbus.MaxDataLength {
				log.Warn().
					Str("database", name).
					Str("message", string(def.Name)).
					Uint64("size", def.Size).
					Msg("signaldb skipping message longer than a classic frame")
				continue
			}
			ms := messageSchema{
				ID:     uint32(def.MessageID) &^ dbcExtendedFlag,
				Name:   string(def.Name),
				Length: int(def.Size),
			}
			for _, sd := range def.Signals {
				order := LittleEndian
				if sd.IsBigEndian {
					order = BigEndian
				}
				ss := signalSchema{
					Name:        string(sd.Name),
					StartBit:    int(sd.StartBit),
					Length:      int(sd.Size),
					ByteOrder:   order,
					Signed:      sd.IsSigned,
					Scale:       sd.Factor,
					Offset:      sd.Offset,
					Unit:        sd.Unit,
					Multiplexer: sd.IsMultiplexerSwitch,
				}
				if sd.IsMultiplexed {
					mux := sd.MultiplexerSwitch
					ss.MuxValue = &mux
				}
				ms.Signals = append(ms.Signals, ss)
			}
			messages = append(messages, ms)
			rawIDs = append(rawIDs, uint32(def.MessageID))
		case *dbc.ValueDescriptionsDef:
			if def.SignalName == "" {
				continue
			}
			key := signalKey{id: uint32(def.MessageID), name: string(def.SignalName)}
			values := make(map[string]string, len(def.ValueDescriptions))
			for _, vd := range def.ValueDescriptions {
				values[strconv.FormatInt(int64(vd.Value), 10)] = vd.Description
			}
			labels[key] = values
		}
	}

	// State is keyed by identifier alone, so a standard message shadows an
	// extended one with the same numeric id.
	standard := make(map[uint32]struct{})
	for _, raw := range rawIDs {
		if raw&dbcExtendedFlag == 0 {
			standard[raw] = struct{}{}
		}
	}
	kept := messages[:0]
	for i, ms := range messages {
		raw := rawIDs[i]
		if _, clash := standard[ms.ID]; clash && raw&dbcExtendedFlag != 0 {
			log.Warn().
				Str("database", name).
				Str("message", ms.Name).
				Str("id", fmt.Sprintf("0x%X", ms.ID)).
				Msg("signaldb skipping extended message that collides with a standard id")
			continue
		}
		for j := range ms.Signals {
			sig := &ms.Signals[j]
			if values, ok := labels[signalKey{id: raw, name: sig.Name}]; ok {
				sig.Values = values
			}
		}
		kept = append(kept, ms)
	}
	return fileSchema{Messages: kept}, nil
}
