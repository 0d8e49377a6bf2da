package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Built-in store types.
const (
	TypeYAML = "yaml"
	TypeJSON = "json"

	DefaultType = TypeYAML
)

// Codec encodes and decodes the store file image.
type Codec interface {
	Marshal(f *File) ([]byte, error)
	Unmarshal(data []byte, f *File) error
}

type yamlCodec struct{}

func (yamlCodec) Marshal(f *File) ([]byte, error)      { return yaml.Marshal(f) }
func (yamlCodec) Unmarshal(data []byte, f *File) error { return yaml.Unmarshal(data, f) }

type jsonCodec struct{}

func (jsonCodec) Marshal(f *File) ([]byte, error)      { return json.MarshalIndent(f, "", "  ") }
func (jsonCodec) Unmarshal(data []byte, f *File) error { return json.Unmarshal(data, f) }

var (
	registryMu sync.RWMutex
	codecs     = map[string]Codec{
		TypeYAML: yamlCodec{},
		TypeJSON: jsonCodec{},
	}
	fileTypes = map[string]string{}
)

// RegisterFileType maps a document file type to a store type.
func RegisterFileType(fileType, storeType string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	fileTypes[strings.ToLower(fileType)] = storeType
}

// TypeForFileType returns the store type used for documents of fileType,
// DefaultType when none was registered.
func TypeForFileType(fileType string) string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if t, ok := fileTypes[strings.ToLower(fileType)]; ok {
		return t
	}
	return DefaultType
}

// Types lists registered store types, sorted.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(codecs))
	for k := range codecs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func codecFor(typ string) (Codec, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := codecs[typ]
	if !ok {
		return nil, fmt.Errorf("unknown store type %q", typ)
	}
	return c, nil
}
