package dali

import (
	"context"
	"encoding/json"
	"errors"
)

type PhotosAccessor struct {
	client *Client
}

// urls of the lab photos. Entries that are not strings are dropped.
func (self *PhotosAccessor) GetAll(ctx context.Context) ([]string, error) {
	raw, err := self.client.api.Get(ctx, "/api/photos")
	if err != nil {
		return nil, err
	}
	return decodeList(raw, func(raw json.RawMessage) (string, error) {
		var photoUrl string
		if err := json.Unmarshal(raw, &photoUrl); err != nil {
			return "", err
		}
		if photoUrl == "" {
			return "", errors.New("Empty photo url.")
		}
		return photoUrl, nil
	})
}
