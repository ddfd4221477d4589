package codefile

import (
	"fmt"

	"fortio.org/safecast"

	"github.com/chazu/kestrel/vm"
)

// SchemaVersion is bumped whenever the record layout changes.
const SchemaVersion uint16 = 1

// fileRecord is the top-level value of a code file.
type fileRecord struct {
	Schema uint16      `cbor:"schema" msgpack:"schema"`
	Code   *codeRecord `cbor:"code" msgpack:"code"`
}

type codeRecord struct {
	Name        string        `cbor:"name" msgpack:"name"`
	Filename    string        `cbor:"file" msgpack:"file"`
	Source      string        `cbor:"src,omitempty" msgpack:"src,omitempty"`
	Instrs      []uint32      `cbor:"instrs" msgpack:"instrs"`
	Lines       []uint32      `cbor:"lines" msgpack:"lines"`
	IBlocks     []uint32      `cbor:"iblocks" msgpack:"iblocks"`
	Blocks      []blockRecord `cbor:"blocks" msgpack:"blocks"`
	Consts      []constRecord `cbor:"consts,omitempty" msgpack:"consts,omitempty"`
	Names       []string      `cbor:"names,omitempty" msgpack:"names,omitempty"`
	VarNames    []string      `cbor:"vars,omitempty" msgpack:"vars,omitempty"`
	FuncDecls   []declRecord  `cbor:"funcs,omitempty" msgpack:"funcs,omitempty"`
	IsGenerator bool          `cbor:"gen,omitempty" msgpack:"gen,omitempty"`
}

type blockRecord struct {
	Type          uint8 `cbor:"t" msgpack:"t"`
	Parent        int   `cbor:"p" msgpack:"p"`
	BaseStackSize int   `cbor:"b" msgpack:"b"`
	Start         int   `cbor:"s" msgpack:"s"`
	End           int   `cbor:"e" msgpack:"e"`
}

type constRecord struct {
	Kind  uint8   `cbor:"k" msgpack:"k"`
	Bool  bool    `cbor:"b,omitempty" msgpack:"b,omitempty"`
	Int   int64   `cbor:"i,omitempty" msgpack:"i,omitempty"`
	Float float64 `cbor:"f,omitempty" msgpack:"f,omitempty"`
	Str   string  `cbor:"s,omitempty" msgpack:"s,omitempty"`
}

type kwArgRecord struct {
	Index int         `cbor:"i" msgpack:"i"`
	Key   string      `cbor:"k" msgpack:"k"`
	Value constRecord `cbor:"v" msgpack:"v"`
}

type declRecord struct {
	Code         *codeRecord   `cbor:"code" msgpack:"code"`
	Args         []int         `cbor:"args,omitempty" msgpack:"args,omitempty"`
	KwArgs       []kwArgRecord `cbor:"kwargs,omitempty" msgpack:"kwargs,omitempty"`
	StarredArg   int           `cbor:"star" msgpack:"star"`
	StarredKwarg int           `cbor:"starstar" msgpack:"starstar"`
	Docstring    string        `cbor:"doc,omitempty" msgpack:"doc,omitempty"`
	Nested       bool          `cbor:"nested,omitempty" msgpack:"nested,omitempty"`
}

// ---------------------------------------------------------------------------
// Code -> record
// ---------------------------------------------------------------------------

func toRecord(c *vm.Code) (*codeRecord, error) {
	r := &codeRecord{
		Name:        c.Name,
		Filename:    c.Filename,
		Source:      c.Source,
		Instrs:      make([]uint32, len(c.Instrs)),
		Names:       c.Names,
		VarNames:    c.VarNames,
		IsGenerator: c.IsGenerator,
	}
	for i, ins := range c.Instrs {
		r.Instrs[i] = uint32(ins)
	}
	var err error
	if r.Lines, err = narrow(c.Lines); err != nil {
		return nil, fmt.Errorf("code %s: lines: %w", c.Name, err)
	}
	if r.IBlocks, err = narrow(c.IBlocks); err != nil {
		return nil, fmt.Errorf("code %s: block indices: %w", c.Name, err)
	}
	for _, b := range c.Blocks {
		r.Blocks = append(r.Blocks, blockRecord{
			Type:          uint8(b.Type),
			Parent:        b.Parent,
			BaseStackSize: b.BaseStackSize,
			Start:         b.Start,
			End:           b.End,
		})
	}
	for _, k := range c.Consts {
		r.Consts = append(r.Consts, constToRecord(k))
	}
	for _, d := range c.FuncDecls {
		dr, err := declToRecord(d)
		if err != nil {
			return nil, err
		}
		r.FuncDecls = append(r.FuncDecls, dr)
	}
	return r, nil
}

func declToRecord(d *vm.FuncDecl) (declRecord, error) {
	code, err := toRecord(d.Code)
	if err != nil {
		return declRecord{}, err
	}
	dr := declRecord{
		Code:         code,
		Args:         d.Args,
		StarredArg:   d.StarredArg,
		StarredKwarg: d.StarredKwarg,
		Docstring:    d.Docstring,
		Nested:       d.Nested,
	}
	for _, kw := range d.KwArgs {
		dr.KwArgs = append(dr.KwArgs, kwArgRecord{Index: kw.Index, Key: kw.Key, Value: constToRecord(kw.Value)})
	}
	return dr, nil
}

func constToRecord(k vm.Const) constRecord {
	return constRecord{Kind: uint8(k.Kind), Bool: k.Bool, Int: k.Int, Float: k.Float, Str: k.Str}
}

func narrow(xs []int) ([]uint32, error) {
	out := make([]uint32, len(xs))
	for i, x := range xs {
		v, err := safecast.Conv[uint32](x)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// record -> Code
// ---------------------------------------------------------------------------

func fromRecord(r *codeRecord) (*vm.Code, error) {
	if r == nil {
		return nil, fmt.Errorf("missing code record")
	}
	c := &vm.Code{
		Name:        r.Name,
		Filename:    r.Filename,
		Source:      r.Source,
		Instrs:      make([]vm.Instr, len(r.Instrs)),
		Names:       r.Names,
		VarNames:    r.VarNames,
		IsGenerator: r.IsGenerator,
	}
	for i, ins := range r.Instrs {
		c.Instrs[i] = vm.Instr(ins)
	}
	var err error
	if c.Lines, err = widen(r.Lines); err != nil {
		return nil, fmt.Errorf("code %s: lines: %w", r.Name, err)
	}
	if c.IBlocks, err = widen(r.IBlocks); err != nil {
		return nil, fmt.Errorf("code %s: block indices: %w", r.Name, err)
	}
	for _, b := range r.Blocks {
		c.Blocks = append(c.Blocks, vm.CodeBlock{
			Type:          vm.BlockType(b.Type),
			Parent:        b.Parent,
			BaseStackSize: b.BaseStackSize,
			Start:         b.Start,
			End:           b.End,
		})
	}
	for _, k := range r.Consts {
		c.Consts = append(c.Consts, constFromRecord(k))
	}
	for _, dr := range r.FuncDecls {
		code, err := fromRecord(dr.Code)
		if err != nil {
			return nil, err
		}
		d := &vm.FuncDecl{
			Code:         code,
			Args:         dr.Args,
			StarredArg:   dr.StarredArg,
			StarredKwarg: dr.StarredKwarg,
			Docstring:    dr.Docstring,
			Nested:       dr.Nested,
		}
		for _, kw := range dr.KwArgs {
			d.KwArgs = append(d.KwArgs, vm.KwArg{Index: kw.Index, Key: kw.Key, Value: constFromRecord(kw.Value)})
		}
		c.FuncDecls = append(c.FuncDecls, d)
	}
	return c, nil
}

func constFromRecord(k constRecord) vm.Const {
	return vm.Const{Kind: vm.ConstKind(k.Kind), Bool: k.Bool, Int: k.Int, Float: k.Float, Str: k.Str}
}

func widen(xs []uint32) ([]int, error) {
	out := make([]int, len(xs))
	for i, x := range xs {
		v, err := safecast.Conv[int](x)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
