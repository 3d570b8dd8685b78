package dali

import (
	"context"
	"encoding/json"
)

const (
	FoodNamespace   = "/food"
	FoodUpdateEvent = "foodUpdate"
)

type setFoodArgs struct {
	Food string `json:"food,omitempty"`
}

type FoodAccessor struct {
	client *Client
}

// tonight's food. Empty when nothing is listed.
func (self *FoodAccessor) Get(ctx context.Context) (string, error) {
	raw, err := self.client.api.Get(ctx, "/api/food")
	if err != nil {
		return "", err
	}
	return parseFood(raw)
}

// Admin only.
func (self *FoodAccessor) Set(ctx context.Context, food string) error {
	if food == "" {
		return ErrBadRequest
	}
	if _, err := self.client.credentials.RequireAdmin(); err != nil {
		return err
	}
	_, err := self.client.api.Post(ctx, "/api/food", &setFoodArgs{
		Food: food,
	})
	return err
}

// Clears tonight's food. Admin only.
func (self *FoodAccessor) Cancel(ctx context.Context) error {
	if _, err := self.client.credentials.RequireAdmin(); err != nil {
		return err
	}
	_, err := self.client.api.Post(ctx, "/api/food", &setFoodArgs{})
	return err
}

func (self *FoodAccessor) Observe(callback func(string, error)) *Observation {
	decode := func(ctx context.Context, payload json.RawMessage) (string, error) {
		return parseFood(payload)
	}
	return observe(self.client, FoodNamespace, FoodUpdateEvent, "", decode, callback)
}

// the food is a json string, or null when nothing is listed
func parseFood(raw json.RawMessage) (string, error) {
	if raw == nil {
		return "", nil
	}
	var food *string
	if err := json.Unmarshal(raw, &food); err != nil {
		return "", &InvalidJsonError{Text: string(raw), Err: err}
	}
	if food == nil {
		return "", nil
	}
	return *food, nil
}
