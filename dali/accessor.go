package dali

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/golang/glog"
)

// entity types decode from json and validate their required fields
type entity[T any] interface {
	*T
	Entity
	validate() error
}

func parseEntity[T any, PT entity[T]](raw json.RawMessage) (PT, error) {
	value, err := parseJson[T, PT](raw)
	if err != nil {
		return nil, err
	}
	return PT(value), nil
}

// GET one entity and resolve its references
func getEntity[T any, PT entity[T]](ctx context.Context, client *Client, path string) (PT, error) {
	raw, err := client.api.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	value, err := decodeOne(raw, parseEntity[T, PT])
	if err != nil {
		return nil, err
	}
	return Resolve(ctx, client.resolver, value)
}

// GET a list of entities and resolve their references.
// Elements that do not decode or do not resolve are dropped.
func getEntities[T any, PT entity[T]](ctx context.Context, client *Client, path string) ([]PT, error) {
	raw, err := client.api.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	values, err := decodeList(raw, parseEntity[T, PT])
	if err != nil {
		return nil, err
	}
	return resolveEntities(ctx, client, path, values)
}

// POST and decode the response entity
func postEntity[T any, PT entity[T]](ctx context.Context, client *Client, path string, args any) (PT, error) {
	raw, err := client.api.Post(ctx, path, args)
	if err != nil {
		return nil, err
	}
	value, err := decodeOne(raw, parseEntity[T, PT])
	if err != nil {
		return nil, err
	}
	return Resolve(ctx, client.resolver, value)
}

func resolveEntities[E Entity](ctx context.Context, client *Client, tag string, values []E) ([]E, error) {
	resolved, err := ResolveAll(ctx, client.resolver, values)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		glog.Infof("[resolve]%s dropped %d of %d: %s\n", tag, len(values)-len(resolved), len(values), err)
	}
	return resolved, nil
}

// a push payload may carry a single entity or an array of entities
func decodeEntitiesPayload[T any, PT entity[T]](payload json.RawMessage) ([]PT, error) {
	trimmed := bytes.TrimSpace(payload)
	if 0 < len(trimmed) && trimmed[0] == '{' {
		value, err := parseEntity[T, PT](trimmed)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnexpectedResponse, err)
		}
		return []PT{value}, nil
	}
	return decodeList(trimmed, parseEntity[T, PT])
}

type DecodeFunction[T any] func(ctx context.Context, payload json.RawMessage) (T, error)

// Observes `event` on the namespace. Each payload is decoded and resolved before
// `callback` is called, inside the channel dispatch, so values arrive in server order.
// A non-empty `entityId` scopes the observation to payloads that carry that id.
func observe[T any](
	client *Client,
	namespace string,
	event string,
	entityId string,
	decode DecodeFunction[T],
	callback func(T, error),
) *Observation {
	subscribe := func(ctx context.Context) func() {
		handle := client.registry.Acquire(namespace, client.config.AutoSwitchSockets)
		listenerId := handle.AddListener(event, entityId, func(message *ChannelMessage) {
			if ctx.Err() != nil {
				return
			}
			var empty T
			if message.Err != nil {
				callback(empty, message.Err)
				return
			}
			value, err := decode(ctx, message.Payload)
			if ctx.Err() != nil {
				// stopped while resolving
				return
			}
			if err != nil {
				callback(empty, err)
				return
			}
			callback(value, nil)
		})
		return func() {
			handle.RemoveListener(listenerId)
			handle.Release()
		}
	}
	return NewObservation(client.ctx, subscribe, true)
}
