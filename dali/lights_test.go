package dali

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/go-playground/assert/v2"
)

const testLightsStateJson = `{"hue":{
	"pod:orange":{"isOn":true,"color":"#ff8800","scene":"study"},
	"pod:blue":{"isOn":true,"color":"#0000ff","scene":"study"},
	"tvspace":{"isOn":false,"color":"#0000ff","scene":"movie"},
	"broken":{"color":"#000000"}
}}`

func TestLightsState(t *testing.T) {
	state, err := parseLightsState(json.RawMessage(testLightsStateJson))
	assert.Equal(t, err, nil)

	names := []string{}
	for _, group := range state.Groups {
		names = append(names, group.Name)
	}
	assert.Equal(t, names, []string{"pod:blue", "pod:orange", "tvspace"})

	assert.Equal(t, state.Group("pod:orange").FormattedName(), "Orange")
	assert.Equal(t, state.Group("tvspace").FormattedName(), "TV Space")
	assert.Equal(t, state.Group("tvspace").IsPod(), false)
	assert.Equal(t, state.Group("broken") == nil, true)

	pods := state.Group(LightGroupPods)
	assert.Equal(t, pods.IsOn, true)
	assert.Equal(t, pods.Scene, "study")
	assert.Equal(t, pods.Color, "")

	all := state.Group(LightGroupAll)
	assert.Equal(t, all.IsOn, false)
	assert.Equal(t, all.Scene, "")
	assert.Equal(t, all.Color, "")

	_, err = parseLightsState(json.RawMessage(`{"lights":{}}`))
	assert.Equal(t, err, ErrUnexpectedResponse)
}

func TestLightsConfig(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newTestClient(t, ctx, testAuthAccept, testRoutes{
		"GET /api/lights/config": jsonRoute(`{
			"pod:orange":[{"name":"study","averageColor":"#ffeecc"},{"name":"party"},{"name":"relax"}],
			"pod:blue":[{"name":"relax"},{"name":"study"},7],
			"tvspace":[{"name":"movie","averageColor":"#221100"},{"name":"study"}]
		}`),
	})

	config, err := client.Lights().GetConfig(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, config.Scenes("pod:orange"), []string{"party", "relax", "study"})
	assert.Equal(t, config.Scenes(LightGroupPods), []string{"relax", "study"})
	assert.Equal(t, config.Scenes(LightGroupAll), []string{"study"})
	assert.Equal(t, config.Scenes("unknown"), []string{})

	assert.Equal(t, config.AverageColor(&LightGroup{Name: "tvspace", Scene: "movie"}), "#221100")
	assert.Equal(t, config.AverageColor(&LightGroup{Name: "tvspace", Scene: "movie", Color: "#123456"}), "#123456")
	assert.Equal(t, config.AverageColor(&LightGroup{Name: "pod:blue", Scene: "relax"}), "")
}

func TestLightsSetAndObserve(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newTestClient(t, ctx, testAuthAccept, testRoutes{
		"POST /api/lights/pods":    statusRoute(http.StatusOK),
		"POST /api/lights/tvspace": statusRoute(http.StatusOK),
	})

	states := []*LightsState{}
	observation := client.Lights().Observe(func(state *LightsState, err error) {
		assert.Equal(t, err, nil)
		states = append(states, state)
	})
	defer observation.Stop()

	client.transports.Last(LightsNamespace).Event(LightsStateEvent, testLightsStateJson)
	assert.Equal(t, len(states), 1)
	assert.Equal(t, len(states[0].Groups), 3)

	err := client.Lights().SetScene(ctx, states[0].Pods, "relax")
	assert.Equal(t, err, nil)
	assert.Equal(t, client.requests.Body("POST /api/lights/pods"), `{"value":"relax"}`)

	err = client.Lights().SetOn(ctx, states[0].Group("tvspace"), true)
	assert.Equal(t, err, nil)
	assert.Equal(t, client.requests.Body("POST /api/lights/tvspace"), `{"value":"on"}`)

	err = client.Lights().SetColor(ctx, &LightGroup{}, "#ffffff")
	assert.Equal(t, err, ErrBadRequest)
}
