package dali

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"
)

const (
	EquipmentNamespace    = "/equipment"
	EquipmentUpdateEvent  = "equipmentUpdate"
	EquipmentDeletedEvent = "equipmentDeleted"
)

type CheckOutRecord struct {
	User      Ref[Member] `json:"user"`
	StartDate time.Time   `json:"startDate"`
	// nil while the equipment is out
	EndDate *time.Time `json:"endDate,omitempty"`
	// the day the member expects to return the equipment
	ProjectedEndDate *time.Time `json:"projectedEndDate,omitempty"`
}

func (self *CheckOutRecord) validate() error {
	if self.User.IsZero() {
		return errors.New("Check out record requires a user.")
	}
	if self.StartDate.IsZero() {
		return errors.New("Check out record requires a startDate.")
	}
	return nil
}

func (self *CheckOutRecord) PendingReferences() []*PendingReference {
	return pendingReferences(self.User.Pending(KindMember))
}

func (self *CheckOutRecord) Returned() bool {
	return self.EndDate != nil
}

type Equipment struct {
	Id          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// the latest checkout, which may already be returned
	LastCheckedOut *CheckOutRecord `json:"lastCheckedOut,omitempty"`
}

func (self *Equipment) validate() error {
	if self.Id == "" || self.Name == "" {
		return errors.New("Equipment requires id and name.")
	}
	if self.LastCheckedOut != nil {
		if err := self.LastCheckedOut.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (self *Equipment) PendingReferences() []*PendingReference {
	if self.LastCheckedOut == nil {
		return nil
	}
	return self.LastCheckedOut.PendingReferences()
}

// checked out means there is a checkout that has not been returned
func (self *Equipment) IsCheckedOut() bool {
	return self.LastCheckedOut != nil && !self.LastCheckedOut.Returned()
}

type checkoutArgs struct {
	ProjectedEndDate string `json:"projectedEndDate,omitempty"`
}

type EquipmentAccessor struct {
	client *Client
}

func (self *EquipmentAccessor) Get(ctx context.Context, id string) (*Equipment, error) {
	if id == "" {
		return nil, ErrBadRequest
	}
	return getEntity[Equipment](ctx, self.client, equipmentPath(id))
}

func (self *EquipmentAccessor) GetAll(ctx context.Context) ([]*Equipment, error) {
	return getEntities[Equipment](ctx, self.client, "/api/equipment")
}

// refetches the equipment to pick up server side changes
func (self *EquipmentAccessor) Reload(ctx context.Context, equipment *Equipment) (*Equipment, error) {
	return self.Get(ctx, equipment.Id)
}

// all checkouts of the equipment
func (self *EquipmentAccessor) History(ctx context.Context, equipment *Equipment) ([]*CheckOutRecord, error) {
	if equipment.Id == "" {
		return nil, ErrBadRequest
	}
	return getEntities[CheckOutRecord](ctx, self.client, equipmentPath(equipment.Id)+"/checkout")
}

// Checks out available equipment to the signed in member and returns the reloaded equipment.
// Equipment that is already checked out fails with `ErrAlreadyCheckedOut`,
// whether this is known locally or reported by the server.
// A zero `projectedEnd` leaves the return date open.
func (self *EquipmentAccessor) Checkout(ctx context.Context, equipment *Equipment, projectedEnd time.Time) (*Equipment, error) {
	if equipment.Id == "" {
		return nil, ErrBadRequest
	}
	if equipment.IsCheckedOut() {
		return nil, ErrAlreadyCheckedOut
	}

	args := &checkoutArgs{}
	if !projectedEnd.IsZero() {
		args.ProjectedEndDate = FormatDate(projectedEnd)
	}
	if _, err := self.client.api.Post(ctx, equipmentPath(equipment.Id)+"/checkout", args); err != nil {
		if statusCode(err) == http.StatusConflict {
			return nil, ErrAlreadyCheckedOut
		}
		return nil, err
	}
	return self.Reload(ctx, equipment)
}

// Returns checked out equipment and returns the reloaded equipment.
// Equipment that is not checked out fails with `ErrNotCheckedOut`.
func (self *EquipmentAccessor) Return(ctx context.Context, equipment *Equipment) (*Equipment, error) {
	if equipment.Id == "" {
		return nil, ErrBadRequest
	}
	if !equipment.IsCheckedOut() {
		return nil, ErrNotCheckedOut
	}

	if _, err := self.client.api.Post(ctx, equipmentPath(equipment.Id)+"/return", nil); err != nil {
		if statusCode(err) == http.StatusConflict {
			return nil, ErrNotCheckedOut
		}
		return nil, err
	}
	return self.Reload(ctx, equipment)
}

// Observes updates to any equipment. Each update carries the changed equipment,
// fully resolved. Items that fail to decode or resolve are dropped from the update.
func (self *EquipmentAccessor) Observe(callback func([]*Equipment, error)) *Observation {
	return observe(self.client, EquipmentNamespace, EquipmentUpdateEvent, "", self.decodeUpdate, callback)
}

// Observes updates to one piece of equipment.
func (self *EquipmentAccessor) ObserveItem(id string, callback func(*Equipment, error)) *Observation {
	decode := func(ctx context.Context, payload json.RawMessage) (*Equipment, error) {
		equipments, err := decodeEntitiesPayload[Equipment](payload)
		if err != nil {
			return nil, err
		}
		// only the scoped item is resolved
		scoped := []*Equipment{}
		for _, equipment := range equipments {
			if equipment.Id == id {
				scoped = append(scoped, equipment)
				break
			}
		}
		if len(scoped) == 0 {
			return nil, ErrUnexpectedResponse
		}
		resolved, err := resolveEntities(ctx, self.client, EquipmentNamespace, scoped)
		if err != nil {
			return nil, err
		}
		if len(resolved) == 0 {
			return nil, ErrUnexpectedResponse
		}
		return resolved[0], nil
	}
	return observe(self.client, EquipmentNamespace, EquipmentUpdateEvent, id, decode, callback)
}

// Observes the deletion of one piece of equipment. The callback receives the deleted id.
func (self *EquipmentAccessor) ObserveDeletion(id string, callback func(string, error)) *Observation {
	decode := func(ctx context.Context, payload json.RawMessage) (string, error) {
		return id, nil
	}
	return observe(self.client, EquipmentNamespace, EquipmentDeletedEvent, id, decode, callback)
}

func (self *EquipmentAccessor) decodeUpdate(ctx context.Context, payload json.RawMessage) ([]*Equipment, error) {
	equipments, err := decodeEntitiesPayload[Equipment](payload)
	if err != nil {
		return nil, err
	}
	return resolveEntities(ctx, self.client, EquipmentNamespace, equipments)
}

func equipmentPath(id string) string {
	return "/api/equipment/" + url.PathEscape(id)
}

// the response status of an unmapped status error, or 0
func statusCode(err error) int {
	var unknownErr *UnknownError
	if errors.As(err, &unknownErr) {
		return unknownErr.StatusCode
	}
	return 0
}
