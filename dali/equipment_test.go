package dali

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

const testEquipmentUpdateJson = `[
	{"id":"e1","name":"Camera","lastCheckedOut":{"user":{"id":"m2","fullName":"Inline Member","email":"m2@test"},"startDate":"2018-09-17T12:00:00.000Z"}},
	{"id":"e2","name":"Tripod","lastCheckedOut":{"user":"m1","startDate":"2018-09-18T12:00:00.000Z","projectedEndDate":"2018-09-20T12:00:00.000Z"}},
	{"id":"e3","name":"Vive"}
]`

func TestEquipmentObserveResolvesMembers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newTestClient(t, ctx, testAuthAccept, testRoutes{
		"GET /api/users/m1": jsonRoute(testMemberJson),
	})

	updates := [][]*Equipment{}
	observation := client.Equipment().Observe(func(equipments []*Equipment, err error) {
		assert.Equal(t, err, nil)
		updates = append(updates, equipments)
	})
	defer observation.Stop()

	client.transports.Last(EquipmentNamespace).Event(EquipmentUpdateEvent, testEquipmentUpdateJson)

	assert.Equal(t, len(updates), 1)
	equipments := updates[0]
	assert.Equal(t, len(equipments), 3)
	assert.Equal(t, equipments[0].Id, "e1")
	assert.Equal(t, equipments[1].Id, "e2")
	assert.Equal(t, equipments[2].Id, "e3")

	assert.Equal(t, equipments[0].LastCheckedOut.User.Value().FullName, "Inline Member")
	member := equipments[1].LastCheckedOut.User.Value()
	assert.NotEqual(t, member, nil)
	assert.Equal(t, member.Id, "m1")
	assert.Equal(t, member.FullName, "Test Member")
	assert.Equal(t, equipments[1].IsCheckedOut(), true)
	assert.Equal(t, equipments[2].IsCheckedOut(), false)
	assert.Equal(t, client.requests.Count("GET /api/users/m1"), 1)
}

func TestEquipmentObserveItem(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newTestClient(t, ctx, testAuthAccept, testRoutes{
		"GET /api/users/m1": jsonRoute(testMemberJson),
	})

	items := []*Equipment{}
	observation := client.Equipment().ObserveItem("e3", func(equipment *Equipment, err error) {
		assert.Equal(t, err, nil)
		items = append(items, equipment)
	})
	defer observation.Stop()

	deleted := []string{}
	deletion := client.Equipment().ObserveDeletion("e3", func(id string, err error) {
		assert.Equal(t, err, nil)
		deleted = append(deleted, id)
	})
	defer deletion.Stop()

	// both observations share the channel
	assert.Equal(t, len(client.transports.For(EquipmentNamespace)), 1)
	assert.Equal(t, client.Registry().RefCount(EquipmentNamespace), 2)

	transport := client.transports.Last(EquipmentNamespace)
	transport.Event(EquipmentUpdateEvent, testEquipmentUpdateJson)
	transport.Event(EquipmentUpdateEvent, `{"id":"e1","name":"Camera"}`)
	transport.Event(EquipmentDeletedEvent, `{"id":"e1"}`)
	transport.Event(EquipmentDeletedEvent, `{"id":"e3"}`)

	assert.Equal(t, len(items), 1)
	assert.Equal(t, items[0].Name, "Vive")
	assert.Equal(t, deleted, []string{"e3"})
	// e2 references m1 but is not the observed item
	assert.Equal(t, client.requests.Count("GET /api/users/m1"), 0)
}

func TestEquipmentGetAllDropsMalformed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newTestClient(t, ctx, testAuthAccept, testRoutes{
		"GET /api/equipment": jsonRoute(`[{"id":"e1","name":"Camera"},{"id":"e2","title":"Tripod"},{"id":"e3","name":"Vive"}]`),
	})

	equipments, err := client.Equipment().GetAll(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(equipments), 2)
	assert.Equal(t, equipments[0].Id, "e1")
	assert.Equal(t, equipments[1].Id, "e3")
}

func TestEquipmentGetAllNotList(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newTestClient(t, ctx, testAuthAccept, testRoutes{
		"GET /api/equipment": jsonRoute(`{"id":"e1","name":"Camera"}`),
	})

	_, err := client.Equipment().GetAll(ctx)
	assert.Equal(t, err, ErrUnexpectedResponse)
}

func TestEquipmentGetAllDropsUnresolved(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newTestClient(t, ctx, testAuthAccept, testRoutes{
		"GET /api/equipment": jsonRoute(`[
			{"id":"e1","name":"Camera","lastCheckedOut":{"user":"gone","startDate":"2018-09-17T12:00:00.000Z"}},
			{"id":"e2","name":"Tripod","lastCheckedOut":{"user":"m1","startDate":"2018-09-17T12:00:00.000Z"}}
		]`),
		"GET /api/users/m1":   jsonRoute(testMemberJson),
		"GET /api/users/gone": statusRoute(http.StatusNotFound),
	})

	equipments, err := client.Equipment().GetAll(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(equipments), 1)
	assert.Equal(t, equipments[0].Id, "e2")
	assert.Equal(t, equipments[0].LastCheckedOut.User.Value().Id, "m1")
}

func TestEquipmentCheckoutAlreadyCheckedOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newTestClient(t, ctx, testAuthAccept, testRoutes{
		"POST /api/equipment/e1/checkout": statusRoute(http.StatusOK),
		"POST /api/equipment/e2/checkout": statusRoute(http.StatusConflict),
		"GET /api/equipment/e2":           jsonRoute(`{"id":"e2","name":"Tripod"}`),
	})

	checkedOut := &Equipment{
		Id:   "e1",
		Name: "Camera",
		LastCheckedOut: &CheckOutRecord{
			User:      RefId[Member]("m1"),
			StartDate: time.Now(),
		},
	}
	_, err := client.Equipment().Checkout(ctx, checkedOut, time.Time{})
	assert.Equal(t, err, ErrAlreadyCheckedOut)
	// no network call
	assert.Equal(t, client.requests.Len(), 0)

	// the server reports the conflict
	available := &Equipment{
		Id:   "e2",
		Name: "Tripod",
	}
	_, err = client.Equipment().Checkout(ctx, available, time.Time{})
	assert.Equal(t, err, ErrAlreadyCheckedOut)
	assert.Equal(t, client.requests.Count("POST /api/equipment/e2/checkout"), 1)
}

func TestEquipmentCheckoutReturn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checkedOutJson := `{"id":"e1","name":"Camera","lastCheckedOut":{"user":"m1","startDate":"2018-09-17T12:00:00.000Z","projectedEndDate":"2018-09-20T12:00:00.000Z"}}`
	returnedJson := `{"id":"e1","name":"Camera","lastCheckedOut":{"user":"m1","startDate":"2018-09-17T12:00:00.000Z","endDate":"2018-09-19T12:00:00.000Z"}}`

	var stateLock sync.Mutex
	current := `{"id":"e1","name":"Camera"}`
	setCurrent := func(equipmentJson string) {
		stateLock.Lock()
		defer stateLock.Unlock()
		current = equipmentJson
	}
	client := newTestClient(t, ctx, testAuthAccept, testRoutes{
		"GET /api/equipment/e1": func(w http.ResponseWriter, r *http.Request) {
			stateLock.Lock()
			defer stateLock.Unlock()
			writeJson(w, current)
		},
		"POST /api/equipment/e1/checkout": func(w http.ResponseWriter, r *http.Request) {
			setCurrent(checkedOutJson)
			writeJson(w, `{}`)
		},
		"POST /api/equipment/e1/return": func(w http.ResponseWriter, r *http.Request) {
			setCurrent(returnedJson)
		},
		"GET /api/equipment/e1/checkout": jsonRoute(`[
			{"user":"m1","startDate":"2018-09-17T12:00:00.000Z","endDate":"2018-09-19T12:00:00.000Z"},
			{"startDate":"2018-09-10T12:00:00.000Z"}
		]`),
		"GET /api/users/m1": jsonRoute(testMemberJson),
	})
	client.signIn(t, testMemberJson)

	equipment, err := client.Equipment().Get(ctx, "e1")
	assert.Equal(t, err, nil)
	assert.Equal(t, equipment.IsCheckedOut(), false)

	_, err = client.Equipment().Return(ctx, equipment)
	assert.Equal(t, err, ErrNotCheckedOut)

	projectedEnd := time.Date(2018, 9, 20, 12, 0, 0, 0, time.UTC)
	equipment, err = client.Equipment().Checkout(ctx, equipment, projectedEnd)
	assert.Equal(t, err, nil)
	assert.Equal(t, client.requests.Body("POST /api/equipment/e1/checkout"), `{"projectedEndDate":"2018-09-20T12:00:00.000Z"}`)
	assert.Equal(t, equipment.IsCheckedOut(), true)
	assert.Equal(t, equipment.LastCheckedOut.User.Value().Id, "m1")
	assert.Equal(t, equipment.LastCheckedOut.ProjectedEndDate.Equal(projectedEnd), true)

	_, err = client.Equipment().Checkout(ctx, equipment, projectedEnd)
	assert.Equal(t, err, ErrAlreadyCheckedOut)

	equipment, err = client.Equipment().Return(ctx, equipment)
	assert.Equal(t, err, nil)
	assert.Equal(t, equipment.IsCheckedOut(), false)
	assert.Equal(t, equipment.LastCheckedOut.Returned(), true)

	history, err := client.Equipment().History(ctx, equipment)
	assert.Equal(t, err, nil)
	// the record without a user is dropped
	assert.Equal(t, len(history), 1)
	assert.Equal(t, history[0].User.Value().FullName, "Test Member")
}

func TestEquipmentObserveUnauthorized(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newTestClient(t, ctx, testAuthManual, testRoutes{})

	errs := make([][]error, 3)
	for i := range 3 {
		observation := client.Equipment().Observe(func(equipments []*Equipment, err error) {
			assert.Equal(t, equipments == nil, true)
			errs[i] = append(errs[i], err)
		})
		defer observation.Stop()
	}
	assert.Equal(t, len(client.transports.For(EquipmentNamespace)), 1)

	client.transports.Last(EquipmentNamespace).Event(EventUnauthorized, "")

	for i := range 3 {
		assert.Equal(t, len(errs[i]), 1)
		assert.Equal(t, errors.Is(errs[i][0], ErrUnauthorized), true)
	}
	assert.Equal(t, client.Registry().State(EquipmentNamespace), ChannelStateClosed)
}

func TestEquipmentObserveStopDiscardsInFlight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetching := make(chan struct{})
	unblock := make(chan struct{})
	client := newTestClient(t, ctx, testAuthAccept, testRoutes{
		"GET /api/users/m1": func(w http.ResponseWriter, r *http.Request) {
			close(fetching)
			select {
			case <-unblock:
			case <-r.Context().Done():
			}
			writeJson(w, testMemberJson)
		},
	})
	defer close(unblock)

	delivered := 0
	observation := client.Equipment().Observe(func(equipments []*Equipment, err error) {
		delivered += 1
	})

	transport := client.transports.Last(EquipmentNamespace)
	pushed := make(chan struct{})
	go func() {
		defer close(pushed)
		transport.Event(EquipmentUpdateEvent, testEquipmentUpdateJson)
	}()

	<-fetching
	observation.Stop()
	<-pushed

	assert.Equal(t, delivered, 0)
	assert.Equal(t, client.Registry().RefCount(EquipmentNamespace), 0)
}
