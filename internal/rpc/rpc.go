// Package rpc wraps the transport in the typed calls the synchronizer
// makes against the server. A Go error from any method means the call
// itself failed, connection loss, timeout or a garbled reply. A server
// denial is not an error: it comes back as Success false plus the server's
// message, because the caller surfaces it to the player and moves on.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/critterranch/structsync/pkg/protocol"
	"github.com/critterranch/structsync/pkg/structure"
)

// Caller sends one request and returns the correlated reply.
type Caller interface {
	Call(ctx context.Context, msgType string, payload any) (protocol.Envelope, error)
}

// Client issues the server calls and decodes their replies.
type Client struct {
	caller Caller
}

func NewClient(caller Caller) *Client {
	return &Client{caller: caller}
}

// Result is the outcome of a mutating call.
type Result struct {
	Success bool
	Message string
}

// HatchResult carries the hatched unit on success.
type HatchResult struct {
	Result
	Unit *structure.Unit
}

// CollectResult carries the income paid out as part of the call.
type CollectResult struct {
	Result
	Amount int64
}

// AllStates is the bulk snapshot used for diagnostics.
type AllStates struct {
	Incubators map[string]structure.State
	Pens       map[string]structure.State
}

// StructureState fetches the authoritative state of one structure.
func (c *Client) StructureState(ctx context.Context, id string) (structure.State, error) {
	env, err := c.call(ctx, protocol.TypeGetStructureState, protocol.StateRequest{StructureID: id})
	if err != nil {
		return nil, err
	}
	var resp protocol.StateResponse
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		return nil, fmt.Errorf("decode state response: %w", err)
	}
	return protocol.ToState(resp.State)
}

// AllStructureStates fetches the state of every structure the server
// tracks for this player.
func (c *Client) AllStructureStates(ctx context.Context) (AllStates, error) {
	env, err := c.call(ctx, protocol.TypeGetAllStructureStates, nil)
	if err != nil {
		return AllStates{}, err
	}
	var resp protocol.AllStatesResponse
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		return AllStates{}, fmt.Errorf("decode all-states response: %w", err)
	}

	out := AllStates{
		Incubators: make(map[string]structure.State, len(resp.Incubators)),
		Pens:       make(map[string]structure.State, len(resp.Pens)),
	}
	for id, p := range resp.Incubators {
		st, err := protocol.ToState(p)
		if err != nil {
			return AllStates{}, fmt.Errorf("incubator %s: %w", id, err)
		}
		out.Incubators[id] = st
	}
	for id, p := range resp.Pens {
		st, err := protocol.ToState(p)
		if err != nil {
			return AllStates{}, fmt.Errorf("pen %s: %w", id, err)
		}
		out.Pens[id] = st
	}
	return out, nil
}

// PlaceEgg places an egg from the player's inventory into an incubator.
func (c *Client) PlaceEgg(ctx context.Context, structureID, eggGUID string) (Result, error) {
	return c.action(ctx, protocol.TypePlaceEgg, protocol.PlaceEggRequest{
		StructureID: structureID,
		EggGUID:     eggGUID,
	})
}

// SpeedUp spends premium currency to advance an incubation timer.
func (c *Client) SpeedUp(ctx context.Context, structureID string) (Result, error) {
	return c.action(ctx, protocol.TypeSpeedUpIncubation, protocol.StateRequest{StructureID: structureID})
}

// Cancel aborts an incubation; the egg is forfeited.
func (c *Client) Cancel(ctx context.Context, structureID string) (Result, error) {
	return c.action(ctx, protocol.TypeCancelIncubation, protocol.StateRequest{StructureID: structureID})
}

// Hatch claims a finished egg and returns the unit it produced.
func (c *Client) Hatch(ctx context.Context, structureID string) (HatchResult, error) {
	env, err := c.call(ctx, protocol.TypeHatchEgg, protocol.StateRequest{StructureID: structureID})
	if err != nil {
		return HatchResult{}, err
	}
	var resp protocol.HatchResponse
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		return HatchResult{}, fmt.Errorf("decode hatch response: %w", err)
	}
	out := HatchResult{Result: Result{Success: resp.Success, Message: resp.Error}}
	if resp.Unit != nil {
		u := protocol.ToUnit(*resp.Unit)
		out.Unit = &u
	}
	return out, nil
}

// PlaceUnit places a critter from the player's inventory into a pen.
func (c *Client) PlaceUnit(ctx context.Context, structureID, unitGUID string) (Result, error) {
	return c.action(ctx, protocol.TypePlaceUnit, protocol.PlaceUnitRequest{
		StructureID: structureID,
		UnitGUID:    unitGUID,
	})
}

// Collect claims the income accrued in a pen.
func (c *Client) Collect(ctx context.Context, structureID string) (CollectResult, error) {
	return c.collecting(ctx, protocol.TypeCollectFromPen, structureID)
}

// RemoveUnit returns a pen's critter to the player's inventory, paying out
// any accrued income on the way.
func (c *Client) RemoveUnit(ctx context.Context, structureID string) (CollectResult, error) {
	return c.collecting(ctx, protocol.TypeRemoveUnitFromPen, structureID)
}

func (c *Client) action(ctx context.Context, msgType string, payload any) (Result, error) {
	env, err := c.call(ctx, msgType, payload)
	if err != nil {
		return Result{}, err
	}
	var resp protocol.ActionResponse
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		return Result{}, fmt.Errorf("decode %s response: %w", msgType, err)
	}
	return Result{Success: resp.Success, Message: resp.Error}, nil
}

func (c *Client) collecting(ctx context.Context, msgType, structureID string) (CollectResult, error) {
	env, err := c.call(ctx, msgType, protocol.StateRequest{StructureID: structureID})
	if err != nil {
		return CollectResult{}, err
	}
	var resp protocol.CollectResponse
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		return CollectResult{}, fmt.Errorf("decode %s response: %w", msgType, err)
	}
	return CollectResult{
		Result: Result{Success: resp.Success, Message: resp.Error},
		Amount: resp.Amount,
	}, nil
}

func (c *Client) call(ctx context.Context, msgType string, payload any) (protocol.Envelope, error) {
	env, err := c.caller.Call(ctx, msgType, payload)
	if err != nil {
		return protocol.Envelope{}, err
	}
	if env.Type == protocol.TypeError {
		return protocol.Envelope{}, errorFrom(env)
	}
	return env, nil
}

func errorFrom(env protocol.Envelope) error {
	var p protocol.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.Message == "" {
		return errors.New("server rejected request")
	}
	return fmt.Errorf("server rejected request: %s", p.Message)
}
