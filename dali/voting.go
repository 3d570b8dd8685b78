package dali

import (
	"context"
	"errors"
	"net/url"
	"slices"
)

type VotingConfig struct {
	// the number of options a member selects
	NumSelected int `json:"numSelected"`
	// members rank their selected options
	Ordered bool `json:"ordered"`
}

// the voting extension of an event
type EventVoting struct {
	Config          VotingConfig
	ResultsReleased bool
}

type VotingOption struct {
	Id   string `json:"id"`
	Name string `json:"name"`
	// admin only, or after results are released
	Points *int     `json:"points,omitempty"`
	Awards []string `json:"awards,omitempty"`
}

func (self *VotingOption) validate() error {
	if self.Id == "" || self.Name == "" {
		return errors.New("Voting option requires id and name.")
	}
	return nil
}

func (self *VotingOption) PendingReferences() []*PendingReference {
	return nil
}

type addOptionArgs struct {
	Option string `json:"option"`
}

type voteArgs struct {
	Id string `json:"id"`
	// 1-based rank when the event is ordered
	Order int `json:"order,omitempty"`
}

// the voting event that is open now. Returns nil if no voting is open.
func (self *EventsAccessor) GetCurrentVoting(ctx context.Context) (*Event, error) {
	raw, err := self.client.api.Get(ctx, "/api/voting/events/current")
	if err != nil {
		return nil, err
	}
	if raw == nil || string(raw) == "null" {
		return nil, nil
	}
	return decodeOne(raw, parseEntity[Event, *Event])
}

// voting events with released results
func (self *EventsAccessor) GetReleasedVoting(ctx context.Context) ([]*Event, error) {
	return getEntities[Event](ctx, self.client, "/api/voting/events")
}

// all voting events. Admin only.
func (self *EventsAccessor) GetVotingAdmin(ctx context.Context) ([]*Event, error) {
	if _, err := self.client.credentials.RequireAdmin(); err != nil {
		return nil, err
	}
	return getEntities[Event](ctx, self.client, "/api/voting/admin/events")
}

func (self *EventsAccessor) GetOptions(ctx context.Context, event *Event) ([]*VotingOption, error) {
	if err := requireVoting(event); err != nil {
		return nil, err
	}
	return getEntities[VotingOption](ctx, self.client, "/api/voting/events/"+url.PathEscape(event.Id))
}

// the awarded options, once the results are released
func (self *EventsAccessor) GetPublicResults(ctx context.Context, event *Event) ([]*VotingOption, error) {
	if err := requireVoting(event); err != nil {
		return nil, err
	}
	return getEntities[VotingOption](ctx, self.client, "/api/voting/results/events/"+url.PathEscape(event.Id))
}

// options with points. Admin only.
func (self *EventsAccessor) GetResults(ctx context.Context, event *Event) ([]*VotingOption, error) {
	if err := requireVoting(event); err != nil {
		return nil, err
	}
	if _, err := self.client.credentials.RequireAdmin(); err != nil {
		return nil, err
	}
	return getEntities[VotingOption](ctx, self.client, votingAdminPath(event.Id))
}

// Enables voting on the event. Returns a copy of the event with voting enabled. Admin only.
func (self *EventsAccessor) EnableVoting(ctx context.Context, event *Event, config VotingConfig) (*Event, error) {
	if event.Id == "" {
		return nil, ErrBadRequest
	}
	if _, err := self.client.credentials.RequireAdmin(); err != nil {
		return nil, err
	}
	if _, err := self.client.api.Post(ctx, votingAdminPath(event.Id)+"/enable", &config); err != nil {
		return nil, err
	}
	enabledEvent := *event
	enabledEvent.VotingEnabled = true
	enabledEvent.VotingConfig = &config
	return &enabledEvent, nil
}

// Admin only.
func (self *EventsAccessor) AddOption(ctx context.Context, event *Event, name string) error {
	if err := requireVoting(event); err != nil {
		return err
	}
	if _, err := self.client.credentials.RequireAdmin(); err != nil {
		return err
	}
	_, err := self.client.api.Post(ctx, votingAdminPath(event.Id)+"/options", &addOptionArgs{
		Option: name,
	})
	return err
}

// Releases the results with the awards set on `options`. Admin only.
func (self *EventsAccessor) ReleaseResults(ctx context.Context, event *Event, options []*VotingOption) error {
	if err := requireVoting(event); err != nil {
		return err
	}
	if _, err := self.client.credentials.RequireAdmin(); err != nil {
		return err
	}
	_, err := self.client.api.Post(ctx, votingAdminPath(event.Id)+"/release", options)
	return err
}

// Submits the signed in member's selection, in rank order for ordered events.
func (self *EventsAccessor) SubmitVote(ctx context.Context, event *Event, options []*VotingOption) error {
	voting := event.Voting()
	if event.Id == "" || voting == nil {
		return ErrBadRequest
	}
	if _, err := self.client.credentials.RequireMember(); err != nil {
		return err
	}
	if 0 < voting.Config.NumSelected && voting.Config.NumSelected < len(options) {
		return ErrBadRequest
	}
	if slices.ContainsFunc(options, func(option *VotingOption) bool {
		return option.Id == ""
	}) {
		return ErrBadRequest
	}

	votes := make([]*voteArgs, len(options))
	for i, option := range options {
		votes[i] = &voteArgs{Id: option.Id}
		if voting.Config.Ordered {
			votes[i].Order = i + 1
		}
	}
	_, err := self.client.api.Post(ctx, "/api/voting/events/"+url.PathEscape(event.Id), votes)
	return err
}

func requireVoting(event *Event) error {
	if event.Id == "" || event.Voting() == nil {
		return ErrBadRequest
	}
	return nil
}

func votingAdminPath(id string) string {
	return "/api/voting/admin/events/" + url.PathEscape(id)
}
