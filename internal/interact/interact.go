// Package interact turns player trigger presses into server calls. Each
// trigger resolves the structure's current phase, picks the one action
// bound to it, and issues exactly one call. The outcome is only a receipt
// for the player: the cache never changes here, it changes when the
// server's confirming push arrives.
package interact

import (
	"context"
	"errors"
	"log/slog"

	"github.com/critterranch/structsync/internal/machine"
	"github.com/critterranch/structsync/internal/registry"
	"github.com/critterranch/structsync/internal/rpc"
	"github.com/critterranch/structsync/internal/session"
	"github.com/critterranch/structsync/pkg/structure"
)

// Errors returned by the trigger methods.
var (
	ErrUnknownStructure = errors.New("structure not registered")
	ErrNoAction         = errors.New("no action bound in current phase")
)

// Actions is the slice of the server API the dispatcher needs.
type Actions interface {
	PlaceEgg(ctx context.Context, structureID, eggGUID string) (rpc.Result, error)
	SpeedUp(ctx context.Context, structureID string) (rpc.Result, error)
	Cancel(ctx context.Context, structureID string) (rpc.Result, error)
	Hatch(ctx context.Context, structureID string) (rpc.HatchResult, error)
	PlaceUnit(ctx context.Context, structureID, unitGUID string) (rpc.Result, error)
	Collect(ctx context.Context, structureID string) (rpc.CollectResult, error)
	RemoveUnit(ctx context.Context, structureID string) (rpc.CollectResult, error)
}

// ItemSource supplies the inventory items that placement actions consume.
// Which egg or critter gets placed is the inventory UI's choice, not the
// synchronizer's.
type ItemSource interface {
	NextEgg() (guid string, ok bool)
	NextUnit() (guid string, ok bool)
}

// Outcome is the player-visible receipt of a trigger.
type Outcome struct {
	StructureID string
	Action      structure.Action
	Success     bool
	Message     string
	Amount      int64           // income paid out by collect and remove
	Unit        *structure.Unit // unit produced by hatch
	Err         error           // underlying call error, nil when the server answered
}

// Dependencies holds everything the dispatcher works with.
type Dependencies struct {
	Registry registry.Registry
	Actions  Actions
	Items    ItemSource
	Session  *session.Context
	Logger   *slog.Logger
}

// Dispatcher resolves triggers against the cached state.
type Dispatcher struct {
	deps Dependencies
}

func NewDispatcher(deps Dependencies) *Dispatcher {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Dispatcher{deps: deps}
}

// TriggerPrimary fires the primary action of the structure's current phase:
// place on empty, speed-up while incubating, hatch when ready, collect when
// occupied.
func (d *Dispatcher) TriggerPrimary(ctx context.Context, structureID string) (Outcome, error) {
	st, ok := d.deps.Registry.Lookup(structureID)
	if !ok {
		return Outcome{}, ErrUnknownStructure
	}
	act, ok := machine.Primary(st.State, d.deps.Session.Now())
	if !ok {
		return Outcome{}, ErrNoAction
	}
	return d.perform(ctx, st, act), nil
}

// TriggerSecondary fires the secondary action: cancel while incubating or
// ready, remove when occupied.
func (d *Dispatcher) TriggerSecondary(ctx context.Context, structureID string) (Outcome, error) {
	st, ok := d.deps.Registry.Lookup(structureID)
	if !ok {
		return Outcome{}, ErrUnknownStructure
	}
	act, ok := machine.Secondary(st.State, d.deps.Session.Now())
	if !ok {
		return Outcome{}, ErrNoAction
	}
	return d.perform(ctx, st, act), nil
}

func (d *Dispatcher) perform(ctx context.Context, st structure.Structure, act structure.Action) Outcome {
	switch act {
	case structure.ActionPlace:
		return d.place(ctx, st)
	case structure.ActionSpeedUp:
		res, err := d.deps.Actions.SpeedUp(ctx, st.ID)
		return d.outcome(st, act, res, err)
	case structure.ActionCancel:
		res, err := d.deps.Actions.Cancel(ctx, st.ID)
		return d.outcome(st, act, res, err)
	case structure.ActionHatch:
		res, err := d.deps.Actions.Hatch(ctx, st.ID)
		out := d.outcome(st, act, res.Result, err)
		out.Unit = res.Unit
		return out
	case structure.ActionCollect:
		res, err := d.deps.Actions.Collect(ctx, st.ID)
		out := d.outcome(st, act, res.Result, err)
		out.Amount = res.Amount
		return out
	case structure.ActionRemove:
		res, err := d.deps.Actions.RemoveUnit(ctx, st.ID)
		out := d.outcome(st, act, res.Result, err)
		out.Amount = res.Amount
		return out
	default:
		return Outcome{StructureID: st.ID, Action: act, Success: false, Message: "unsupported action"}
	}
}

// place needs an item from the inventory before it can call the server.
// Without one, no call is made at all.
func (d *Dispatcher) place(ctx context.Context, st structure.Structure) Outcome {
	if st.Kind == structure.KindIncubator {
		guid, ok := d.deps.Items.NextEgg()
		if !ok {
			return Outcome{StructureID: st.ID, Action: structure.ActionPlace, Success: false, Message: "no egg in inventory"}
		}
		res, err := d.deps.Actions.PlaceEgg(ctx, st.ID, guid)
		return d.outcome(st, structure.ActionPlace, res, err)
	}

	guid, ok := d.deps.Items.NextUnit()
	if !ok {
		return Outcome{StructureID: st.ID, Action: structure.ActionPlace, Success: false, Message: "no critter in inventory"}
	}
	res, err := d.deps.Actions.PlaceUnit(ctx, st.ID, guid)
	return d.outcome(st, structure.ActionPlace, res, err)
}

// outcome folds call errors into a player-facing failure. Failed calls are
// not retried; the player can press the trigger again.
func (d *Dispatcher) outcome(st structure.Structure, act structure.Action, res rpc.Result, err error) Outcome {
	if err != nil {
		d.deps.Logger.Warn("action call failed",
			"structure", st.ID,
			"action", string(act),
			"error", err,
		)
		return Outcome{StructureID: st.ID, Action: act, Success: false, Message: "request failed, try again", Err: err}
	}
	if !res.Success {
		d.deps.Logger.Debug("server denied action",
			"structure", st.ID,
			"action", string(act),
			"reason", res.Message,
		)
	}
	return Outcome{StructureID: st.ID, Action: act, Success: res.Success, Message: res.Message}
}
