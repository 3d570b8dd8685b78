package dali

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestLocationTim(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newTestClient(t, ctx, testAuthAccept, testRoutes{
		"GET /api/location/tim":  jsonRoute(`{"inDALI":true,"inOffice":false}`),
		"POST /api/location/tim": statusRoute(http.StatusForbidden),
	})

	tim, err := client.Location().GetTim(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, tim.InDali, true)
	assert.Equal(t, tim.InOffice, false)

	err = client.Location().SubmitTim(ctx, tim)
	assert.Equal(t, err, ErrSignInRequired)

	// only tim may submit
	client.signIn(t, testMemberJson)
	err = client.Location().SubmitTim(ctx, tim)
	assert.Equal(t, err, ErrForbidden)
	assert.Equal(t, client.requests.Body("POST /api/location/tim"), `{"inDALI":true,"inOffice":false}`)
}

func TestLocationGetShared(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newTestClient(t, ctx, testAuthAccept, testRoutes{
		"GET /api/location/shared": jsonRoute(fmt.Sprintf(`[{"user":"m1"},{"user":%s},{},{"user":"gone"}]`, testAdminJson)),
		"GET /api/users/m1":        jsonRoute(testMemberJson),
		"GET /api/users/gone":      statusRoute(http.StatusNotFound),
	})

	members, err := client.Location().GetShared(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(members), 2)
	assert.Equal(t, members[0].FullName, "Test Member")
	assert.Equal(t, members[1].FullName, "Test Admin")
}

func TestLocationSharing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newTestClientWithConfig(t, ctx, testAuthAccept, testRoutes{
		"POST /api/location/shared":                  statusRoute(http.StatusOK),
		"POST /api/location/shared/updatePreference": statusRoute(http.StatusOK),
	}, func(config *Config) {
		config.SharingDefault = true
	})

	assert.Equal(t, client.Location().Sharing(), true)

	err := client.Location().SetSharing(ctx, false)
	assert.Equal(t, err, ErrSignInRequired)
	assert.Equal(t, client.Location().Sharing(), true)

	client.signIn(t, testMemberJson)
	err = client.Location().SubmitShared(ctx, true, true)
	assert.Equal(t, err, nil)
	assert.Equal(t, client.requests.Body("POST /api/location/shared"), `{"inDALI":true,"entering":true,"sharing":true}`)

	err = client.Location().SetSharing(ctx, false)
	assert.Equal(t, err, nil)
	assert.Equal(t, client.Location().Sharing(), false)
	assert.Equal(t, client.requests.Body("POST /api/location/shared/updatePreference"), `{"sharing":false}`)

	err = client.Location().SubmitShared(ctx, false, false)
	assert.Equal(t, err, nil)
	assert.Equal(t, client.requests.Body("POST /api/location/shared"), `{"inDALI":false,"entering":false,"sharing":false}`)
}

func TestLocationObserveShared(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newTestClient(t, ctx, testAuthAccept, testRoutes{
		"GET /api/users/m1": jsonRoute(testMemberJson),
	})

	updates := [][]*Member{}
	errs := []error{}
	observation := client.Location().ObserveShared(func(members []*Member, err error) {
		if err != nil {
			errs = append(errs, err)
			return
		}
		updates = append(updates, members)
	})
	defer observation.Stop()

	transport := client.transports.Last(LocationNamespace)
	transport.Event(LocationSharedEvent, `[{"user":"m1"}]`)
	transport.Event(LocationSharedEvent, `[]`)
	transport.Event(LocationSharedEvent, `"not a list"`)

	assert.Equal(t, len(updates), 2)
	assert.Equal(t, updates[0][0].Id, "m1")
	assert.Equal(t, len(updates[1]), 0)
	assert.Equal(t, len(errs), 1)
	assert.Equal(t, errors.Is(errs[0], ErrUnexpectedResponse), true)
}

func TestPhotosGetAll(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newTestClient(t, ctx, testAuthAccept, testRoutes{
		"GET /api/photos": jsonRoute(`["https://test/1.jpg",7,"","https://test/2.jpg"]`),
	})

	photoUrls, err := client.Photos().GetAll(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, photoUrls, []string{"https://test/1.jpg", "https://test/2.jpg"})
}
