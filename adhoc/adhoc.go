// Package adhoc announces this instance to a registration server so that
// frame producers can discover it.
package adhoc

import (
	"TouchCounter/logger"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultInterval = 5 * time.Second
	ServiceKind     = "touch-counter"
)

type RegisterRequest struct {
	Id        string `json:"id"`
	Kind      string `json:"kind"`
	IP        string `json:"ip"`
	HTTPPort  int    `json:"httpPort"`
	RPCPort   int    `json:"rpcPort"`
	Sessions  int    `json:"sessions"`
	TimeStamp int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

// Announcer posts a RegisterRequest to http://addr/api/register on every tick.
type Announcer struct {
	id       string
	url      string
	ip       string
	httpPort int
	rpcPort  int
	sessions func() int
	interval time.Duration
	client   *resty.Client
}

// NewAnnouncer builds an announcer for the registration server at host:port.
// sessions reports the live session count at each heartbeat.
func NewAnnouncer(host string, port int, ip string, httpPort, rpcPort int, sessions func() int) *Announcer {
	return &Announcer{
		id:       uuid.NewString(),
		url:      fmt.Sprintf("http://%s:%d/api/register", host, port),
		ip:       ip,
		httpPort: httpPort,
		rpcPort:  rpcPort,
		sessions: sessions,
		interval: DefaultInterval,
		client:   resty.New().SetTimeout(DefaultInterval),
	}
}

func (a *Announcer) ID() string {
	return a.id
}

// Announce sends one heartbeat.
func (a *Announcer) Announce(ctx context.Context) error {
	var respBody RegisterResponse
	reqBody := RegisterRequest{
		Id:        a.id,
		Kind:      ServiceKind,
		IP:        a.ip,
		HTTPPort:  a.httpPort,
		RPCPort:   a.rpcPort,
		TimeStamp: time.Now().Unix(),
	}
	if a.sessions != nil {
		reqBody.Sessions = a.sessions()
	}
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetResult(&respBody).
		Post(a.url)
	if err != nil {
		return fmt.Errorf("register request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("registration server returned %s: %s", resp.Status(), resp.String())
	}
	if !respBody.Success {
		return fmt.Errorf("registration rejected for %s", a.id)
	}
	return nil
}

// Run announces immediately and then on every interval until ctx is done.
func (a *Announcer) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		if err := a.Announce(ctx); err != nil && ctx.Err() == nil {
			logger.Log().Warn("heartbeat failed", zap.String("url", a.url), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			logger.Log().Info("heartbeat stopped")
			return
		case <-ticker.C:
		}
	}
}
