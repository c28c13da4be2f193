package artifact

import (
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/warden"
)

// Version is the binary artifact format version. Decoders reject artifacts
// written by an incompatible encoder.
const Version = 1

type envelope struct {
	Version    int         `msgpack:"version"`
	Definition *Definition `msgpack:"definition"`
}

// Encode serializes a definition into the binary artifact format.
func Encode(def *Definition) ([]byte, error) {
	data, err := msgpack.Marshal(&envelope{Version: Version, Definition: def})
	if err != nil {
		return nil, warden.NewConfigError("encode artifact: %v", err)
	}
	return data, nil
}

// Decode deserializes a binary artifact.
func Decode(data []byte) (*Definition, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, warden.NewConfigError("decode artifact: %v", err)
	}
	if env.Version != Version {
		return nil, warden.NewConfigError("artifact version %d, want %d", env.Version, Version)
	}
	if env.Definition == nil {
		return nil, warden.NewConfigError("artifact carries no definition")
	}
	return env.Definition, nil
}

// WriteFile encodes the definition and writes it to path.
func WriteFile(path string, def *Definition) error {
	data, err := Encode(def)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
