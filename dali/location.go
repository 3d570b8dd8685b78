package dali

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

const (
	LocationNamespace   = "/location"
	LocationSharedEvent = "shared"
)

// where the lab director is
type Tim struct {
	InDali   bool `json:"inDALI"`
	InOffice bool `json:"inOffice"`
}

type timResponse struct {
	InDali   *bool `json:"inDALI"`
	InOffice *bool `json:"inOffice"`
}

// an entry of the shared location list
type SharedLocation struct {
	User Ref[Member] `json:"user"`
}

func (self *SharedLocation) validate() error {
	if self.User.IsZero() {
		return errors.New("Shared location requires a user.")
	}
	return nil
}

func (self *SharedLocation) PendingReferences() []*PendingReference {
	return pendingReferences(self.User.Pending(KindMember))
}

type submitSharedArgs struct {
	InDali   bool `json:"inDALI"`
	Entering bool `json:"entering"`
	Sharing  bool `json:"sharing"`
}

type sharingArgs struct {
	Sharing bool `json:"sharing"`
}

type LocationAccessor struct {
	client *Client

	stateLock sync.Mutex
	// nil until set, then the config default no longer applies
	sharing *bool
}

func (self *LocationAccessor) GetTim(ctx context.Context) (*Tim, error) {
	raw, err := self.client.api.Get(ctx, "/api/location/tim")
	if err != nil {
		return nil, err
	}
	return decodeOne(raw, func(raw json.RawMessage) (*Tim, error) {
		var response timResponse
		if err := json.Unmarshal(raw, &response); err != nil {
			return nil, err
		}
		if response.InDali == nil || response.InOffice == nil {
			return nil, errors.New("Tim requires inDALI and inOffice.")
		}
		return &Tim{
			InDali:   *response.InDali,
			InOffice: *response.InOffice,
		}, nil
	})
}

// The server rejects the submit unless the signed in member is tim.
func (self *LocationAccessor) SubmitTim(ctx context.Context, tim *Tim) error {
	if _, err := self.client.credentials.RequireMember(); err != nil {
		return err
	}
	_, err := self.client.api.Post(ctx, "/api/location/tim", tim)
	return err
}

// the members in the lab who share their location
func (self *LocationAccessor) GetShared(ctx context.Context) ([]*Member, error) {
	shared, err := getEntities[SharedLocation](ctx, self.client, "/api/location/shared")
	if err != nil {
		return nil, err
	}
	return sharedMembers(shared), nil
}

// Submits the signed in member's location along with the sharing preference.
func (self *LocationAccessor) SubmitShared(ctx context.Context, inDali bool, entering bool) error {
	if _, err := self.client.credentials.RequireMember(); err != nil {
		return err
	}
	_, err := self.client.api.Post(ctx, "/api/location/shared", &submitSharedArgs{
		InDali:   inDali,
		Entering: entering,
		Sharing:  self.Sharing(),
	})
	return err
}

// the sharing preference. Kept in memory only.
func (self *LocationAccessor) Sharing() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.sharing != nil {
		return *self.sharing
	}
	return self.client.config.SharingDefault
}

// Sets the sharing preference and sends it to the server.
func (self *LocationAccessor) SetSharing(ctx context.Context, sharing bool) error {
	if _, err := self.client.credentials.RequireMember(); err != nil {
		return err
	}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.sharing = &sharing
	}()
	_, err := self.client.api.Post(ctx, "/api/location/shared/updatePreference", &sharingArgs{
		Sharing: sharing,
	})
	return err
}

func (self *LocationAccessor) ObserveShared(callback func([]*Member, error)) *Observation {
	decode := func(ctx context.Context, payload json.RawMessage) ([]*Member, error) {
		shared, err := decodeEntitiesPayload[SharedLocation](payload)
		if err != nil {
			return nil, err
		}
		shared, err = resolveEntities(ctx, self.client, LocationNamespace, shared)
		if err != nil {
			return nil, err
		}
		return sharedMembers(shared), nil
	}
	return observe(self.client, LocationNamespace, LocationSharedEvent, "", decode, callback)
}

func sharedMembers(shared []*SharedLocation) []*Member {
	members := make([]*Member, 0, len(shared))
	for _, entry := range shared {
		if member := entry.User.Value(); member != nil {
			members = append(members, member)
		}
	}
	return members
}
