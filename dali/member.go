package dali

import (
	"context"
	"errors"
	"net/url"
)

const KindMember = "member"

// A member of the lab, as much as the api shares with a general client.
type Member struct {
	Id             string   `json:"id"`
	FullName       string   `json:"fullName"`
	Email          string   `json:"email"`
	PhotoUrl       string   `json:"photoUrl,omitempty"`
	GooglePhotoUrl string   `json:"googlePhotoUrl,omitempty"`
	Gender         string   `json:"gender,omitempty"`
	Website        string   `json:"website,omitempty"`
	Linkedin       string   `json:"linkedin,omitempty"`
	Greeting       string   `json:"greeting,omitempty"`
	GithubUsername string   `json:"githubUsername,omitempty"`
	CoverPhoto     string   `json:"coverPhoto,omitempty"`
	JobTitle       string   `json:"jobTitle,omitempty"`
	Skills         []string `json:"skills,omitempty"`
	// [latitude, longitude]
	Location []float64 `json:"location,omitempty"`
	IsAdmin  bool      `json:"isAdmin"`
}

func (self *Member) validate() error {
	if self.Id == "" || self.FullName == "" || self.Email == "" {
		return errors.New("Member requires id, fullName and email.")
	}
	return nil
}

func (self *Member) PendingReferences() []*PendingReference {
	return nil
}

type MembersAccessor struct {
	client *Client
}

func (self *MembersAccessor) Get(ctx context.Context, id string) (*Member, error) {
	if id == "" {
		return nil, ErrBadRequest
	}
	return getEntity[Member](ctx, self.client, "/api/users/"+url.PathEscape(id))
}
