package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"gacha-ledger/internal/config"
	"gacha-ledger/internal/domain"
)

// ErrUpstream wraps non-200 responses so callers can tell them from
// decoding problems.
var ErrUpstream = errors.New("upstream error")

var ErrUnknownGame = errors.New("no endpoint for game")

// StatusError is a non-200 answer from the history endpoint.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d", ErrUpstream, e.Code)
}

func (e *StatusError) Unwrap() error { return ErrUpstream }

// TransportError means no answer was received at all.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt at the same page may succeed:
// transport failures, 5xx and 429 answers. Anything else is deterministic.
func Retryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= fasthttp.StatusInternalServerError || se.Code == fasthttp.StatusTooManyRequests
	}
	return false
}

var defaultEndpoints = map[domain.Game]endpoint{
	domain.GameHSR: {
		url:     "https://public-operation-hkrpg-sg.hoyoverse.com/common/gacha_record/api/getGachaLog",
		gameBiz: "hkrpg_global",
		typeArg: "gacha_type",
	},
	domain.GameGenshin: {
		url:     "https://public-operation-hk4e-sg.hoyoverse.com/gacha_info/api/getGachaLog",
		gameBiz: "hk4e_global",
		typeArg: "gacha_type",
	},
	domain.GameZZZ: {
		url:     "https://public-operation-nap-sg.hoyoverse.com/common/gacha_record/api/getGachaLog",
		gameBiz: "nap_global",
		typeArg: "real_gacha_type",
	},
}

type endpoint struct {
	url     string
	gameBiz string
	typeArg string
}

// PageRequest addresses one page of draw history. EndID is the id of the last
// entry of the previous page, or empty for the newest page.
type PageRequest struct {
	Game      domain.Game
	AuthKey   string
	Lang      string
	GachaType string
	Size      int
	EndID     string
}

type GachaClient struct {
	client    *fasthttp.Client
	endpoints map[domain.Game]endpoint
	pageDelay time.Duration

	paceMu      sync.Mutex
	lastRequest time.Time
}

type Option func(*GachaClient)

// WithEndpoint overrides the URL used for a game.
func WithEndpoint(game domain.Game, url string) Option {
	return func(c *GachaClient) {
		ep := c.endpoints[game]
		ep.url = url
		c.endpoints[game] = ep
	}
}

func WithHTTPClient(client *fasthttp.Client) Option {
	return func(c *GachaClient) { c.client = client }
}

func WithPageDelay(d time.Duration) Option {
	return func(c *GachaClient) { c.pageDelay = d }
}

func NewGachaClient(opts ...Option) *GachaClient {
	c := &GachaClient{
		client: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		endpoints: make(map[domain.Game]endpoint, len(defaultEndpoints)),
	}
	for g, ep := range defaultEndpoints {
		c.endpoints[g] = ep
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func NewGachaClientFromConfig(cfg *config.Config) *GachaClient {
	return NewGachaClient(WithPageDelay(cfg.PageDelay))
}

// FetchPage returns the raw body of one history page. Decoding is left to the
// official-format adapter.
func (c *GachaClient) FetchPage(ctx context.Context, req PageRequest) ([]byte, error) {
	ep, ok := c.endpoints[req.Game]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownGame, req.Game)
	}

	if err := c.pace(ctx); err != nil {
		return nil, err
	}

	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)
	args.Set("authkey_ver", "1")
	args.Set("sign_type", "2")
	args.Set("auth_appid", "webview_gacha")
	args.Set("game_biz", ep.gameBiz)
	args.Set("authkey", req.AuthKey)
	args.Set("lang", req.Lang)
	args.Set(ep.typeArg, req.GachaType)
	args.Set("size", strconv.Itoa(req.Size))
	args.Set("end_id", req.EndID)
	if req.EndID == "" {
		args.Set("end_id", "0")
	}

	return doRequest(ctx, c, ep.url+"?"+args.String())
}

// pace keeps at least pageDelay between consecutive requests across all
// imports sharing this client.
func (c *GachaClient) pace(ctx context.Context) error {
	if c.pageDelay <= 0 {
		return nil
	}

	c.paceMu.Lock()
	wait := time.Until(c.lastRequest.Add(c.pageDelay))
	if wait < 0 {
		wait = 0
	}
	c.lastRequest = time.Now().Add(wait)
	c.paceMu.Unlock()

	if wait == 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func doRequest(ctx context.Context, client *GachaClient, url string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	deadline, ok := ctx.Deadline()
	if ok {
		if err := client.client.DoDeadline(req, resp, deadline); err != nil {
			return nil, &TransportError{Err: err}
		}
	} else {
		if err := client.client.Do(req, resp); err != nil {
			return nil, &TransportError{Err: err}
		}
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode()}
	}

	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())
	return body, nil
}
