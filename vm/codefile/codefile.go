// Package codefile reads and writes compiled code records. Two encodings
// are supported: canonical CBOR (.kbc), which is deterministic and suitable
// for hashing, and MessagePack (.kmp). Decoded records are validated before
// they are returned, including the stack effect of every reachable
// instruction, so a malformed file fails to load instead of corrupting the
// value stack.
package codefile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/chazu/kestrel/vm"
)

// Format selects an encoding.
type Format uint8

const (
	CBOR Format = iota + 1
	MessagePack
)

// File extensions of the two formats.
const (
	ExtCBOR        = ".kbc"
	ExtMessagePack = ".kmp"
)

func (f Format) String() string {
	switch f {
	case CBOR:
		return "cbor"
	case MessagePack:
		return "msgpack"
	}
	return fmt.Sprintf("format(%d)", uint8(f))
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codefile: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// FormatForPath picks the format from a file extension.
func FormatForPath(path string) (Format, error) {
	switch filepath.Ext(path) {
	case ExtCBOR:
		return CBOR, nil
	case ExtMessagePack:
		return MessagePack, nil
	}
	return 0, fmt.Errorf("codefile: unknown extension %q (want %s or %s)", filepath.Ext(path), ExtCBOR, ExtMessagePack)
}

// Marshal encodes a code record.
func Marshal(code *vm.Code, f Format) ([]byte, error) {
	rec, err := toRecord(code)
	if err != nil {
		return nil, fmt.Errorf("codefile: %w", err)
	}
	file := &fileRecord{Schema: SchemaVersion, Code: rec}
	switch f {
	case CBOR:
		return cborEncMode.Marshal(file)
	case MessagePack:
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		if err := enc.Encode(file); err != nil {
			return nil, fmt.Errorf("codefile: encode msgpack: %w", err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("codefile: unsupported %s", f)
}

// Unmarshal decodes and validates a code record.
func Unmarshal(data []byte, f Format) (*vm.Code, error) {
	var file fileRecord
	switch f {
	case CBOR:
		if err := cbor.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("codefile: unmarshal cbor: %w", err)
		}
	case MessagePack:
		dec := msgpack.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&file); err != nil {
			return nil, fmt.Errorf("codefile: unmarshal msgpack: %w", err)
		}
	default:
		return nil, fmt.Errorf("codefile: unsupported %s", f)
	}
	if file.Schema != SchemaVersion {
		return nil, fmt.Errorf("codefile: schema version %d, want %d", file.Schema, SchemaVersion)
	}
	code, err := fromRecord(file.Code)
	if err != nil {
		return nil, fmt.Errorf("codefile: %w", err)
	}
	if err := code.Validate(); err != nil {
		return nil, fmt.Errorf("codefile: invalid code record: %w", err)
	}
	return code, nil
}

// ReadFile loads a code record, choosing the format from the extension.
func ReadFile(path string) (*vm.Code, error) {
	f, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("codefile: cannot read %s: %w", path, err)
	}
	code, err := Unmarshal(data, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return code, nil
}

// WriteFile stores a code record, choosing the format from the extension.
// The file is replaced atomically.
func WriteFile(path string, code *vm.Code) error {
	f, err := FormatForPath(path)
	if err != nil {
		return err
	}
	data, err := Marshal(code, f)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".kestrel-*")
	if err != nil {
		return fmt.Errorf("codefile: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("codefile: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("codefile: write %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}
