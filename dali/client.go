package dali

import (
	"context"
	"errors"
	"net/url"
	"time"
)

type ClientSettings struct {
	// defaults to websocket transports to the config server url
	TransportGenerator TransportGenerator
	// defaults to `defaultClient()`
	HttpClient       HttpClient
	ResolverSettings *ResolverSettings
	// defaults to metrics on a private registry
	Metrics *Metrics
}

func DefaultClientSettings() *ClientSettings {
	return &ClientSettings{
		ResolverSettings: DefaultResolverSettings(),
	}
}

// The entry point of the sdk. A client owns the credentials, the channel
// registry and the resolver shared by all resource accessors.
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc

	config      *Config
	credentials *Credentials
	api         *Api
	registry    *ChannelRegistry
	resolver    *Resolver
	metrics     *Metrics

	members   *MembersAccessor
	equipment *EquipmentAccessor
	events    *EventsAccessor
	location  *LocationAccessor
	lights    *LightsAccessor
	food      *FoodAccessor
	photos    *PhotosAccessor
}

func NewClientWithDefaults(ctx context.Context, config *Config) (*Client, error) {
	return NewClient(ctx, config, DefaultClientSettings())
}

// A config without a server url is `ErrMissingServerUrl`.
func NewClient(ctx context.Context, config *Config, settings *ClientSettings) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	cancelCtx, cancel := context.WithCancel(ctx)

	metrics := settings.Metrics
	if metrics == nil {
		metrics = NewDefaultMetrics()
	}
	transportGenerator := settings.TransportGenerator
	if transportGenerator == nil {
		transportGenerator = NewWsTransportGeneratorWithDefaults(cancelCtx, config.ServerUrl)
	}
	httpClient := settings.HttpClient
	if httpClient == nil {
		httpClient = defaultClient()
	}
	resolverSettings := *DefaultResolverSettings()
	if settings.ResolverSettings != nil {
		resolverSettings = *settings.ResolverSettings
	}
	resolverSettings.Metrics = metrics

	credentials := NewCredentials(config.ApiKey)

	client := &Client{
		ctx:         cancelCtx,
		cancel:      cancel,
		config:      config,
		credentials: credentials,
		api:         NewApi(config.ServerUrl, credentials, httpClient),
		registry: NewChannelRegistry(cancelCtx, credentials, &ChannelRegistrySettings{
			TransportGenerator: transportGenerator,
			Metrics:            metrics,
		}),
		resolver: NewResolver(&resolverSettings),
		metrics:  metrics,
	}
	client.members = &MembersAccessor{client: client}
	client.equipment = &EquipmentAccessor{client: client}
	client.events = &EventsAccessor{client: client}
	client.location = &LocationAccessor{client: client}
	client.lights = &LightsAccessor{client: client}
	client.food = &FoodAccessor{client: client}
	client.photos = &PhotosAccessor{client: client}

	RegisterFetcher(client.resolver, KindMember, client.members.Get)

	return client, nil
}

func (self *Client) Config() *Config {
	return self.config
}

func (self *Client) Credentials() *Credentials {
	return self.credentials
}

func (self *Client) Registry() *ChannelRegistry {
	return self.registry
}

func (self *Client) Resolver() *Resolver {
	return self.resolver
}

func (self *Client) Metrics() *Metrics {
	return self.metrics
}

func (self *Client) Members() *MembersAccessor {
	return self.members
}

func (self *Client) Equipment() *EquipmentAccessor {
	return self.equipment
}

func (self *Client) Events() *EventsAccessor {
	return self.events
}

func (self *Client) Location() *LocationAccessor {
	return self.location
}

func (self *Client) Lights() *LightsAccessor {
	return self.lights
}

func (self *Client) Food() *FoodAccessor {
	return self.food
}

func (self *Client) Photos() *PhotosAccessor {
	return self.photos
}

type signInResult struct {
	Token string  `json:"token"`
	User  *Member `json:"user"`
}

func (self *signInResult) validate() error {
	if self.Token == "" || self.User == nil {
		return errors.New("Sign in requires token and user.")
	}
	return self.User.validate()
}

func (self *signInResult) PendingReferences() []*PendingReference {
	return nil
}

type signInArgs struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Signs in with a google server auth code. A client with an unexpired session returns the current member.
func (self *Client) SignInWithAuthCode(ctx context.Context, authCode string) (*Member, error) {
	if self.credentials.HasSession(time.Now()) {
		return self.credentials.Member(), nil
	}
	if authCode == "" {
		return nil, ErrBadRequest
	}
	result, err := getEntity[signInResult](ctx, self, "/api/auth/google/callback?code="+url.QueryEscape(authCode))
	if err != nil {
		return nil, err
	}
	self.credentials.SetSession(result.Token, result.User)
	return result.User, nil
}

// Signs in with google access and refresh tokens.
// Unless `forced`, a client with an unexpired session returns the current member.
func (self *Client) SignIn(ctx context.Context, accessToken string, refreshToken string, forced bool) (*Member, error) {
	if !forced && self.credentials.HasSession(time.Now()) {
		return self.credentials.Member(), nil
	}
	if accessToken == "" {
		return nil, ErrBadRequest
	}
	result, err := postEntity[signInResult](ctx, self, "/api/signin", &signInArgs{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
	if err != nil {
		return nil, err
	}
	self.credentials.SetSession(result.Token, result.User)
	return result.User, nil
}

// Drops the session. Requests fall back to the api key, if any.
func (self *Client) SignOut() {
	self.credentials.ClearSession()
}

// nil when not signed in
func (self *Client) CurrentMember() *Member {
	return self.credentials.Member()
}

// Moves to the background: auto-switching channels disconnect until `Resume`.
func (self *Client) Suspend() {
	self.registry.Suspend()
}

func (self *Client) Resume() {
	self.registry.Resume()
}

func (self *Client) Close() {
	self.registry.Close()
	self.resolver.Reset()
	self.cancel()
}
