package dali

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/golang/glog"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

// `*http.Client` satisfies this
type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// json requests against the api server, authenticated with the current credential
type Api struct {
	serverUrl   string
	credentials *Credentials
	client      HttpClient
}

func NewApi(serverUrl string, credentials *Credentials, client HttpClient) *Api {
	return &Api{
		serverUrl:   serverUrl,
		credentials: credentials,
		client:      client,
	}
}

func (self *Api) ServerUrl() string {
	return self.serverUrl
}

// the response body, or nil if the response was empty
func (self *Api) Get(ctx context.Context, path string) (json.RawMessage, error) {
	return TraceWithReturnError(fmt.Sprintf("[api]GET %s", path), func() (json.RawMessage, error) {
		return self.do(ctx, http.MethodGet, path, nil)
	})
}

// posts `args` as json. A nil `args` posts an empty body.
func (self *Api) Post(ctx context.Context, path string, args any) (json.RawMessage, error) {
	var requestBodyBytes []byte
	if args != nil {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			return nil, &InvalidJsonError{
				Text: fmt.Sprintf("%v", args),
				Err:  err,
			}
		}
	}
	return TraceWithReturnError(fmt.Sprintf("[api]POST %s", path), func() (json.RawMessage, error) {
		return self.do(ctx, http.MethodPost, path, requestBodyBytes)
	})
}

func (self *Api) do(ctx context.Context, method string, path string, requestBodyBytes []byte) (json.RawMessage, error) {
	var body io.Reader
	if requestBodyBytes != nil {
		body = bytes.NewReader(requestBodyBytes)
	}
	req, err := http.NewRequestWithContext(ctx, method, self.serverUrl+path, body)
	if err != nil {
		return nil, &UnknownError{StatusCode: -1, Err: err}
	}

	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Accept", "application/json")
	if name, value := self.credentials.Header(); name != "" {
		req.Header.Add(name, value)
	}

	r, err := self.client.Do(req)
	if err != nil {
		return nil, &UnknownError{StatusCode: -1, Err: err}
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, &UnknownError{StatusCode: r.StatusCode, Err: err}
	}

	if r.StatusCode < 200 || 300 <= r.StatusCode {
		glog.V(LogLevelTrace).Infof("[api]%s %s status = %d\n", method, path, r.StatusCode)
		return nil, statusError(r.StatusCode, responseBodyBytes)
	}

	if len(bytes.TrimSpace(responseBodyBytes)) == 0 {
		return nil, nil
	}
	if !json.Valid(responseBodyBytes) {
		var syntaxErr error
		var v any
		if err := json.Unmarshal(responseBodyBytes, &v); err != nil {
			syntaxErr = err
		}
		return nil, &InvalidJsonError{
			Text: string(responseBodyBytes),
			Err:  syntaxErr,
		}
	}
	return json.RawMessage(responseBodyBytes), nil
}

// decodes a single value. An empty or undecodable response is `ErrUnexpectedResponse`.
func decodeOne[R any](raw json.RawMessage, parse func(json.RawMessage) (R, error)) (R, error) {
	if raw == nil {
		var empty R
		return empty, ErrUnexpectedResponse
	}
	result, err := parse(raw)
	if err != nil {
		var empty R
		return empty, fmt.Errorf("%w: %s", ErrUnexpectedResponse, err)
	}
	return result, nil
}

// decodes a json array. Elements that fail to decode are dropped.
// A response that is not an array is `ErrUnexpectedResponse`.
func decodeList[R any](raw json.RawMessage, parse func(json.RawMessage) (R, error)) ([]R, error) {
	var elements []json.RawMessage
	if raw == nil || json.Unmarshal(raw, &elements) != nil || elements == nil {
		return nil, ErrUnexpectedResponse
	}
	results := make([]R, 0, len(elements))
	for i, element := range elements {
		result, err := parse(element)
		if err != nil {
			glog.Infof("[api]drop list element %d: %s\n", i, err)
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

// parse function for types that validate their required fields
func parseJson[R any, PR interface {
	*R
	validate() error
}](raw json.RawMessage) (*R, error) {
	var result R
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	if err := PR(&result).validate(); err != nil {
		return nil, err
	}
	return &result, nil
}
