package scripting

import (
	"github.com/go-gl/mathgl/mgl64"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/vrsync/internal/animation"
	"github.com/cory-johannsen/vrsync/internal/spatial"
)

// Engine is the participant a script drives.
type Engine interface {
	// MoveHand places the named hand at pose.
	MoveHand(hand string, pose spatial.Pose) error
	Grab(id, hand string) error
	Release(id, hand string) error
	SetGravity(id string, active bool) error
	AllocateGravity(id string, active bool) error
	PushAnim(id string, p animation.Param) error
	ForceRelease(id string) error
	// Position returns the world position of a known object.
	Position(id string) (spatial.Vec3, bool)
	// Seat is the assigned seat index, or -1 before join.
	Seat() int
}

// registerEngine installs the engine global. Mutating functions return true
// on success or false plus an error message.
//
// Precondition: L must be from NewSandboxedState.
// Postcondition: engine global is defined in L.
func registerEngine(L *lua.LState, e Engine, logger *zap.Logger) {
	engine := L.NewTable()
	L.SetFuncs(engine, map[string]lua.LGFunction{
		"hand": func(L *lua.LState) int {
			name := L.CheckString(1)
			pose := spatial.At(spatial.Vec3{
				float64(L.CheckNumber(2)),
				float64(L.CheckNumber(3)),
				float64(L.CheckNumber(4)),
			})
			if L.GetTop() >= 8 {
				q := mgl64.Quat{
					W: float64(L.CheckNumber(8)),
					V: spatial.Vec3{
						float64(L.CheckNumber(5)),
						float64(L.CheckNumber(6)),
						float64(L.CheckNumber(7)),
					},
				}
				if q.Len() < spatial.Epsilon {
					L.ArgError(5, "rotation must be non-zero")
				}
				pose.Rotation = q.Normalize()
			}
			return result(L, e.MoveHand(name, pose))
		},
		"grab": func(L *lua.LState) int {
			return result(L, e.Grab(L.CheckString(1), L.CheckString(2)))
		},
		"release": func(L *lua.LState) int {
			return result(L, e.Release(L.CheckString(1), L.CheckString(2)))
		},
		"gravity": func(L *lua.LState) int {
			return result(L, e.SetGravity(L.CheckString(1), L.CheckBool(2)))
		},
		"allocate": func(L *lua.LState) int {
			return result(L, e.AllocateGravity(L.CheckString(1), L.CheckBool(2)))
		},
		"force_release": func(L *lua.LState) int {
			return result(L, e.ForceRelease(L.CheckString(1)))
		},
		"anim": func(L *lua.LState) int {
			id := L.CheckString(1)
			name := L.CheckString(2)
			vt, err := animation.ParseValueType(L.CheckString(3))
			if err != nil {
				L.ArgError(3, err.Error())
			}
			var p animation.Param
			switch vt {
			case animation.TypeFloat:
				p = animation.Float(name, float64(L.CheckNumber(4)))
			case animation.TypeInt:
				p = animation.Int(name, L.CheckInt(4))
			case animation.TypeBool:
				p = animation.Bool(name, L.CheckBool(4))
			case animation.TypeTrigger:
				p = animation.Trigger(name)
			}
			return result(L, e.PushAnim(id, p))
		},
		"position": func(L *lua.LState) int {
			pos, ok := e.Position(L.CheckString(1))
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(lua.LNumber(pos.X()))
			L.Push(lua.LNumber(pos.Y()))
			L.Push(lua.LNumber(pos.Z()))
			return 3
		},
		"seat": func(L *lua.LState) int {
			L.Push(lua.LNumber(e.Seat()))
			return 1
		},
		"log": func(L *lua.LState) int {
			logger.Info("script", zap.String("msg", L.CheckString(1)), zap.Int("seat", e.Seat()))
			return 0
		},
	})
	L.SetGlobal("engine", engine)
}

// result pushes true, or false and the error text.
func result(L *lua.LState, err error) int {
	if err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}
