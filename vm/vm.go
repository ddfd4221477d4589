package vm

import (
	"context"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var (
	engineLog = commonlog.GetLogger("kestrel.engine")
	gcLog     = commonlog.GetLogger("kestrel.gc")
)

// Engine limits.
const (
	DefaultMaxStack  = 1 << 16
	DefaultMaxFrames = 1000
)

// Options configures an Engine. Zero fields take defaults.
type Options struct {
	MaxStack       int // usable value stack slots
	MaxFrames      int // call depth
	GCMinThreshold int // minimum allocations between automatic collections
	GCHardLimit    int // allocations tolerated inside a GCLock scope
	ArenaBytes     int // nominal arena size of the block allocator
	ThreadSafe     bool
	Output         io.Writer // print() destination, os.Stdout by default
}

// Hook is called before every instruction. Returning false aborts the
// running code with KeyboardInterrupt.
type Hook func(e *Engine, f *Frame) bool

// Importer resolves a module name to code that initialises it.
type Importer func(e *Engine, name string) (*Code, error)

// ---------------------------------------------------------------------------
// Engine: one isolated interpreter instance
// ---------------------------------------------------------------------------

// Engine owns a heap, a value stack and a call stack. An Engine must only
// be used from one goroutine at a time; separate engines are independent.
type Engine struct {
	id   uuid.UUID
	opts Options

	heap        *heap
	types       []*TypeInfo
	typeVersion uint64

	stack     []Value
	sp        int
	maxStack  int
	frames    []*Frame
	maxFrames int

	codeStates map[*Code]*codeState
	modules    map[string]Value
	builtins   Value
	main       Value
	roots      map[Value]int

	lastException Value
	pending       Value
	lastGC        *GCStats

	hook     Hook
	ctxDone  <-chan struct{}
	ticks    uint32
	importer Importer
	out      io.Writer

	// containers being rendered by repr, to cut reference cycles
	repring map[Value]bool

	// Singletons, never collected.
	None           Value
	True           Value
	False          Value
	NotImplemented Value
	Ellipsis       Value
	memoryError    Value

	objectNew  Value
	objectInit Value
}

// New creates an engine with the builtin types, the builtins module and an
// empty __main__ module.
func New(opts Options) *Engine {
	if opts.MaxStack <= 0 {
		opts.MaxStack = DefaultMaxStack
	}
	if opts.MaxFrames <= 0 {
		opts.MaxFrames = DefaultMaxFrames
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	e := &Engine{
		id:         uuid.New(),
		opts:       opts,
		heap:       newHeap(opts),
		stack:      make([]Value, opts.MaxStack+stackGuard),
		maxStack:   opts.MaxStack,
		frames:     make([]*Frame, 0, 64),
		maxFrames:  opts.MaxFrames,
		codeStates: make(map[*Code]*codeState),
		modules:    make(map[string]Value),
		roots:      make(map[Value]int),
		out:        opts.Output,
		repring:    make(map[Value]bool),
	}
	e.bootstrap()
	engineLog.Debugf("engine %s created (stack %d, frames %d)", e.id, e.maxStack, e.maxFrames)
	return e
}

func (e *Engine) bootstrap() {
	e.bootstrapTypes()

	e.None = e.newUntracked(TypeNoneType, nil)
	e.True = e.newUntracked(TypeBool, nil)
	e.False = e.newUntracked(TypeBool, nil)
	e.NotImplemented = e.newUntracked(TypeNotImplementedType, nil)
	e.Ellipsis = e.newUntracked(TypeEllipsis, nil)

	e.registerObjectPrimitives()
	e.registerTypePrimitives()
	e.registerNumberPrimitives()
	e.registerStrPrimitives()
	e.registerListPrimitives()
	e.registerDictPrimitives()
	e.registerIterPrimitives()
	e.registerFunctionPrimitives()
	e.registerExceptionPrimitives()
	e.registerGeneratorPrimitives()

	e.builtins = e.NewModule("builtins")
	e.registerBuiltins()
	e.main = e.NewModule("__main__")

	e.memoryError = e.newUntracked(TypeMemoryError, &Exception{Msg: "allocation limit exceeded in a GC-locked scope"})
	e.Object(e.memoryError).Attrs = NewNameDict()
	mustPayload[*Exception](e, e.memoryError).Args = e.NewTuple(nil)
}

// ID returns the engine's unique identifier.
func (e *Engine) ID() uuid.UUID { return e.id }

// Options returns the options the engine was created with, defaults applied.
func (e *Engine) Options() Options { return e.opts }

// Builtins returns the builtins module.
func (e *Engine) Builtins() Value { return e.builtins }

// Main returns the __main__ module.
func (e *Engine) Main() Value { return e.main }

// SetOutput redirects print().
func (e *Engine) SetOutput(w io.Writer) { e.out = w }

// SetHook installs a per-instruction hook; nil removes it.
func (e *Engine) SetHook(h Hook) { e.hook = h }

// SetImporter installs the resolver used by IMPORT_NAME for modules that
// are not registered.
func (e *Engine) SetImporter(imp Importer) { e.importer = imp }

// Bool returns True or False.
func (e *Engine) Bool(b bool) Value {
	if b {
		return e.True
	}
	return e.False
}

// Close releases every object. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.frames = e.frames[:0]
	e.sp = 0
	e.codeStates = map[*Code]*codeState{}
	e.modules = map[string]Value{}
	e.roots = map[Value]int{}
	e.lastException, e.pending = Null, Null
	freed := e.Collect()
	for _, v := range e.heap.untracked {
		e.heap.alloc.Free(v.handle())
	}
	engineLog.Debugf("engine %s closed, %d objects freed", e.id, freed+len(e.heap.untracked))
	e.heap.untracked = nil
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

// Exec runs a module-level code record with module's attributes as its
// globals. A Null module means __main__. An exception that escapes is
// returned as *Error.
func (e *Engine) Exec(code *Code, module Value) (Value, error) {
	return e.ExecContext(context.Background(), code, module)
}

// ExecContext is Exec with cancellation: once ctx is done the running code
// is aborted with KeyboardInterrupt at the next instruction boundary.
func (e *Engine) ExecContext(ctx context.Context, code *Code, module Value) (Value, error) {
	if module == Null {
		module = e.main
	}
	prev := e.ctxDone
	e.ctxDone = ctx.Done()
	defer func() { e.ctxDone = prev }()

	var result Value
	err := e.guard(func() {
		result = e.execModule(code, module)
	})
	if err != nil {
		return e.None, err
	}
	return result, nil
}

func (e *Engine) execModule(code *Code, module Value) Value {
	e.pushFrame(code, e.sp, e.sp, 0, module, Null, nil)
	return e.runTopFrame(len(e.frames) - 1)
}
