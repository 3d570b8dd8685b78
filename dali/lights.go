package dali

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/exp/maps"
)

const (
	LightsNamespace  = "/lights"
	LightsStateEvent = "state"
)

const (
	LightGroupAll  = "all"
	LightGroupPods = "pods"
)

type LightGroup struct {
	Name string
	// empty when the group has no single scene
	Scene string
	// empty when the group has no single color
	Color string
	IsOn  bool
}

// the display name, e.g. `pod:orange` is `Orange`
func (self *LightGroup) FormattedName() string {
	if self.Name == "tvspace" {
		return "TV Space"
	}
	name := strings.ReplaceAll(self.Name, "pod:", "")
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func (self *LightGroup) IsPod() bool {
	return strings.Contains(self.Name, "pod")
}

// The light groups reported by one state update. `All` and `Pods` aggregate
// the groups: a scene or color is set only when every member group agrees.
type LightsState struct {
	Groups []*LightGroup
	All    *LightGroup
	Pods   *LightGroup
}

// the group with the name, including the aggregates
func (self *LightsState) Group(name string) *LightGroup {
	switch name {
	case LightGroupAll:
		return self.All
	case LightGroupPods:
		return self.Pods
	}
	for _, group := range self.Groups {
		if group.Name == name {
			return group
		}
	}
	return nil
}

type lightsStatePayload struct {
	Hue map[string]*struct {
		IsOn  *bool  `json:"isOn"`
		Color string `json:"color"`
		Scene string `json:"scene"`
	} `json:"hue"`
}

func parseLightsState(payload json.RawMessage) (*LightsState, error) {
	var statePayload lightsStatePayload
	if err := json.Unmarshal(payload, &statePayload); err != nil {
		return nil, &InvalidJsonError{Text: string(payload), Err: err}
	}
	if statePayload.Hue == nil {
		return nil, ErrUnexpectedResponse
	}

	names := maps.Keys(statePayload.Hue)
	slices.Sort(names)

	groups := []*LightGroup{}
	for _, name := range names {
		groupPayload := statePayload.Hue[name]
		if groupPayload == nil || groupPayload.IsOn == nil {
			continue
		}
		groups = append(groups, &LightGroup{
			Name:  name,
			Scene: groupPayload.Scene,
			Color: groupPayload.Color,
			IsOn:  *groupPayload.IsOn,
		})
	}

	pods := []*LightGroup{}
	for _, group := range groups {
		if group.IsPod() {
			pods = append(pods, group)
		}
	}

	return &LightsState{
		Groups: groups,
		All:    aggregateLightGroup(LightGroupAll, groups),
		Pods:   aggregateLightGroup(LightGroupPods, pods),
	}, nil
}

func aggregateLightGroup(name string, groups []*LightGroup) *LightGroup {
	aggregate := &LightGroup{
		Name: name,
		IsOn: 0 < len(groups),
	}
	for i, group := range groups {
		aggregate.IsOn = aggregate.IsOn && group.IsOn
		if i == 0 {
			aggregate.Scene = group.Scene
			aggregate.Color = group.Color
			continue
		}
		if aggregate.Scene != group.Scene {
			aggregate.Scene = ""
		}
		if aggregate.Color != group.Color {
			aggregate.Color = ""
		}
	}
	return aggregate
}

// The scenes available to each light group, and the average color of each scene.
type LightsConfig struct {
	scenes        map[string][]string
	averageColors map[string]string
}

type lightsScene struct {
	Name         string `json:"name"`
	AverageColor string `json:"averageColor"`
}

// Scenes available to the group, sorted. The `all` and `pods` groups
// have the scenes common to each of their groups.
func (self *LightsConfig) Scenes(groupName string) []string {
	var sceneSets [][]string
	switch groupName {
	case LightGroupAll:
		sceneSets = maps.Values(self.scenes)
	case LightGroupPods:
		for name, scenes := range self.scenes {
			if strings.Contains(name, "pod") {
				sceneSets = append(sceneSets, scenes)
			}
		}
	default:
		sceneSets = [][]string{self.scenes[groupName]}
	}

	if len(sceneSets) == 0 {
		return []string{}
	}
	common := map[string]bool{}
	for _, scene := range sceneSets[0] {
		common[scene] = true
	}
	for _, scenes := range sceneSets[1:] {
		for scene := range common {
			if !slices.Contains(scenes, scene) {
				delete(common, scene)
			}
		}
	}
	result := maps.Keys(common)
	slices.Sort(result)
	return result
}

// the group color, or the average color of the group scene
func (self *LightsConfig) AverageColor(group *LightGroup) string {
	if group.Color != "" {
		return group.Color
	}
	if group.Scene != "" {
		return self.averageColors[group.Scene]
	}
	return ""
}

type setLightsArgs struct {
	Value string `json:"value"`
}

type LightsAccessor struct {
	client *Client
}

func (self *LightsAccessor) GetConfig(ctx context.Context) (*LightsConfig, error) {
	raw, err := self.client.api.Get(ctx, "/api/lights/config")
	if err != nil {
		return nil, err
	}
	return decodeOne(raw, func(raw json.RawMessage) (*LightsConfig, error) {
		var groupScenes map[string][]json.RawMessage
		if err := json.Unmarshal(raw, &groupScenes); err != nil {
			return nil, err
		}
		if groupScenes == nil {
			return nil, errors.New("Lights config must be an object.")
		}
		config := &LightsConfig{
			scenes:        map[string][]string{},
			averageColors: map[string]string{},
		}
		for groupName, rawScenes := range groupScenes {
			scenes := []string{}
			for _, rawScene := range rawScenes {
				var scene lightsScene
				if err := json.Unmarshal(rawScene, &scene); err != nil || scene.Name == "" {
					continue
				}
				scenes = append(scenes, scene.Name)
				if scene.AverageColor != "" {
					config.averageColors[scene.Name] = scene.AverageColor
				}
			}
			config.scenes[groupName] = scenes
		}
		return config, nil
	})
}

func (self *LightsAccessor) SetScene(ctx context.Context, group *LightGroup, scene string) error {
	return self.set(ctx, group, scene)
}

func (self *LightsAccessor) SetColor(ctx context.Context, group *LightGroup, color string) error {
	return self.set(ctx, group, color)
}

func (self *LightsAccessor) SetOn(ctx context.Context, group *LightGroup, on bool) error {
	if on {
		return self.set(ctx, group, "on")
	}
	return self.set(ctx, group, "off")
}

func (self *LightsAccessor) set(ctx context.Context, group *LightGroup, value string) error {
	if group.Name == "" {
		return ErrBadRequest
	}
	_, err := self.client.api.Post(ctx, "/api/lights/"+url.PathEscape(group.Name), &setLightsArgs{
		Value: value,
	})
	return err
}

func (self *LightsAccessor) Observe(callback func(*LightsState, error)) *Observation {
	decode := func(ctx context.Context, payload json.RawMessage) (*LightsState, error) {
		return parseLightsState(payload)
	}
	return observe(self.client, LightsNamespace, LightsStateEvent, "", decode, callback)
}
