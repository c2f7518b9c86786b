package wire

import "fmt"

// ObjectID identifies a protocol object within one connection.
// ID 0 is the null object and never refers to anything live.
type ObjectID uint32

// ArgKind enumerates the argument types a message schema may use.
type ArgKind uint8

const (
	KindInt ArgKind = iota + 1
	KindUint
	KindFixed
	KindString
	KindObject
	KindNewID
	KindArray
	KindFD
)

func (k ArgKind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFixed:
		return "fixed"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	case KindNewID:
		return "new_id"
	case KindArray:
		return "array"
	case KindFD:
		return "fd"
	}
	return fmt.Sprintf("argkind(%d)", uint8(k))
}

// ArgSpec is one entry of a message signature.
type ArgSpec struct {
	Kind      ArgKind
	AllowNull bool
}

// Arg is one decoded or to-be-encoded argument. Kind selects which field
// carries the value.
type Arg struct {
	Kind  ArgKind
	Int   int32    // KindInt
	Uint  uint32   // KindUint
	Fixed Fixed    // KindFixed
	Str   string   // KindString, when !Null
	Obj   ObjectID // KindObject (0 when null), KindNewID
	Data  []byte   // KindArray
	FD    int      // KindFD
	Null  bool     // KindString/KindObject null variants
}

func Int(v int32) Arg        { return Arg{Kind: KindInt, Int: v} }
func Uint(v uint32) Arg      { return Arg{Kind: KindUint, Uint: v} }
func FixedArg(v Fixed) Arg   { return Arg{Kind: KindFixed, Fixed: v} }
func String(s string) Arg    { return Arg{Kind: KindString, Str: s} }
func NullString() Arg        { return Arg{Kind: KindString, Null: true} }
func Object(id ObjectID) Arg { return Arg{Kind: KindObject, Obj: id, Null: id == 0} }
func NewID(id ObjectID) Arg  { return Arg{Kind: KindNewID, Obj: id} }
func Array(b []byte) Arg     { return Arg{Kind: KindArray, Data: b} }
func FD(fd int) Arg          { return Arg{Kind: KindFD, FD: fd} }

// String renders the argument the way the debug trace prints it.
func (a Arg) String() string {
	switch a.Kind {
	case KindInt:
		return fmt.Sprintf("%d", a.Int)
	case KindUint:
		return fmt.Sprintf("%d", a.Uint)
	case KindFixed:
		return fmt.Sprintf("%g", a.Fixed.Float())
	case KindString:
		if a.Null {
			return "nil"
		}
		return fmt.Sprintf("%q", a.Str)
	case KindObject:
		if a.Null {
			return "nil"
		}
		return fmt.Sprintf("object(%d)", uint32(a.Obj))
	case KindNewID:
		return fmt.Sprintf("new_id(%d)", uint32(a.Obj))
	case KindArray:
		return fmt.Sprintf("array[%d]", len(a.Data))
	case KindFD:
		return fmt.Sprintf("fd(%d)", a.FD)
	}
	return "?"
}
