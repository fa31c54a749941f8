package signaldb

// ByteOrder names follow DBC: little_endian is Intel, big_endian is Motorola.
const (
	LittleEndian = "little_endian"
	BigEndian    = "big_endian"
)

type fileSchema struct {
	Messages []messageSchema `toml:"message" yaml:"message"`
}

type messageSchema struct {
	ID      uint32         `toml:"id" yaml:"id"`
	Name    string         `toml:"name" yaml:"name"`
	Length  int            `toml:"length" yaml:"length"`
	Signals []signalSchema `toml:"signal" yaml:"signal"`
}

type signalSchema struct {
	Name      string            `toml:"name" yaml:"name"`
	StartBit  int               `toml:"start_bit" yaml:"start_bit"`
	Length    int               `toml:"length" yaml:"length"`
	ByteOrder string            `toml:"byte_order" yaml:"byte_order"`
	Signed    bool              `toml:"signed" yaml:"signed"`
	Scale     float64           `toml:"scale" yaml:"scale"`
	Offset    float64           `toml:"offset" yaml:"offset"`
	Unit      string            `toml:"unit" yaml:"unit"`
	Values    map[string]string `toml:"values" yaml:"values"`
	// Multiplexer marks the switch signal; MuxValue makes a signal valid only
	// while the switch reads that value.
	Multiplexer bool    `toml:"multiplexer" yaml:"multiplexer"`
	MuxValue    *uint64 `toml:"mux_value" yaml:"mux_value"`
}
