package dali

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"time"
)

const (
	EventsReloadsNamespace = "/eventsReloads"
	EventsReloadEvent      = "reload"
	EventCheckinsNamespace = "/eventCheckins"
	EventCheckinEvent      = "checkin"
)

// iso8601 with milliseconds, as the api writes dates
const DateFormat = "2006-01-02T15:04:05.000Z07:00"

func FormatDate(t time.Time) string {
	return t.UTC().Format(DateFormat)
}

type Event struct {
	// empty until the event is created
	Id          string    `json:"id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"startTime"`
	End         time.Time `json:"endTime"`
	GoogleId    string    `json:"googleID,omitempty"`

	VotingEnabled         bool          `json:"votingEnabled"`
	VotingResultsReleased bool          `json:"votingResultsReleased,omitempty"`
	VotingConfig          *VotingConfig `json:"votingConfig,omitempty"`
}

func (self *Event) validate() error {
	if self.Name == "" {
		return errors.New("Event requires a name.")
	}
	if self.Start.IsZero() || self.End.IsZero() {
		return errors.New("Event requires startTime and endTime.")
	}
	return nil
}

func (self *Event) PendingReferences() []*PendingReference {
	return nil
}

// nil for events without voting
func (self *Event) Voting() *EventVoting {
	if !self.VotingEnabled {
		return nil
	}
	voting := &EventVoting{
		ResultsReleased: self.VotingResultsReleased,
	}
	if self.VotingConfig != nil {
		voting.Config = *self.VotingConfig
	}
	return voting
}

// the time window overlaps `now`
func (self *Event) IsNow(now time.Time) bool {
	return !now.Before(self.Start) && now.Before(self.End)
}

type createEventArgs struct {
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	Location      string        `json:"location,omitempty"`
	Start         string        `json:"start"`
	End           string        `json:"end"`
	VotingEnabled bool          `json:"votingEnabled"`
	VotingConfig  *VotingConfig `json:"votingConfig,omitempty"`
}

type checkinArgs struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
}

// the beacon values members use to check in to an event
type CheckinBeacon struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
}

func (self *CheckinBeacon) validate() error {
	return nil
}

func (self *CheckinBeacon) PendingReferences() []*PendingReference {
	return nil
}

// push payload of the check in channel
type eventCheckins struct {
	Id      string            `json:"id"`
	Members []json.RawMessage `json:"members"`
}

type EventsAccessor struct {
	client *Client
}

func (self *EventsAccessor) GetAll(ctx context.Context) ([]*Event, error) {
	return getEntities[Event](ctx, self.client, "/api/events")
}

// events in the coming week
func (self *EventsAccessor) GetUpcoming(ctx context.Context) ([]*Event, error) {
	return getEntities[Event](ctx, self.client, "/api/events/week")
}

// Creates the event on the server. An event that already has an id fails with `ErrAlreadyCreated`.
func (self *EventsAccessor) Create(ctx context.Context, event *Event) (*Event, error) {
	if event.Id != "" {
		return nil, ErrAlreadyCreated
	}
	if err := event.validate(); err != nil {
		return nil, errors.Join(ErrBadRequest, err)
	}
	args := &createEventArgs{
		Name:          event.Name,
		Description:   event.Description,
		Location:      event.Location,
		Start:         FormatDate(event.Start),
		End:           FormatDate(event.End),
		VotingEnabled: event.VotingEnabled,
		VotingConfig:  event.VotingConfig,
	}
	return postEntity[Event](ctx, self.client, "/api/events", args)
}

// Checks the signed in member in to the event advertised by the beacon.
func (self *EventsAccessor) CheckIn(ctx context.Context, major int, minor int) error {
	if _, err := self.client.credentials.RequireMember(); err != nil {
		return err
	}
	_, err := self.client.api.Post(ctx, "/api/events/checkin", &checkinArgs{
		Major: major,
		Minor: minor,
	})
	return err
}

// Opens check in for the event. Returns the beacon values to advertise.
func (self *EventsAccessor) EnableCheckin(ctx context.Context, event *Event) (*CheckinBeacon, error) {
	if event.Id == "" {
		return nil, ErrBadRequest
	}
	return postEntity[CheckinBeacon](ctx, self.client, eventPath(event.Id)+"/checkin", nil)
}

func (self *EventsAccessor) GetMembersCheckedIn(ctx context.Context, event *Event) ([]*Member, error) {
	if event.Id == "" {
		return nil, ErrBadRequest
	}
	return getEntities[Member](ctx, self.client, eventPath(event.Id)+"/checkin")
}

// Observes the upcoming events. The server signals a change and the events are refetched.
func (self *EventsAccessor) ObserveUpcoming(callback func([]*Event, error)) *Observation {
	decode := func(ctx context.Context, payload json.RawMessage) ([]*Event, error) {
		return self.GetUpcoming(ctx)
	}
	return observe(self.client, EventsReloadsNamespace, EventsReloadEvent, "", decode, callback)
}

// Observes the members checked in to one event.
func (self *EventsAccessor) ObserveMembersCheckedIn(eventId string, callback func([]*Member, error)) *Observation {
	decode := func(ctx context.Context, payload json.RawMessage) ([]*Member, error) {
		var checkins eventCheckins
		if err := json.Unmarshal(payload, &checkins); err != nil {
			return nil, &InvalidJsonError{Text: string(payload), Err: err}
		}
		members := make([]*Member, 0, len(checkins.Members))
		for _, raw := range checkins.Members {
			member, err := parseEntity[Member](raw)
			if err != nil {
				continue
			}
			members = append(members, member)
		}
		return members, nil
	}
	return observe(self.client, EventCheckinsNamespace, EventCheckinEvent, eventId, decode, callback)
}

func eventPath(id string) string {
	return "/api/events/" + url.PathEscape(id)
}
