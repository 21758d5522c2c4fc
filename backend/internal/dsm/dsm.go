// Package dsm wraps the Synology DSM FileStation web API.
//
// Every call is a GET with query parameters. A login session id is cached
// per target and reused until Logout or until DSM reports it as expired.
package dsm

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"nasgate/backend/internal/types"
)

const (
	authPath  = "/webapi/auth.cgi"
	entryPath = "/webapi/entry.cgi"

	sessionName    = "FileStation"
	requestTimeout = 30 * time.Second
)

// 会话失效的错误码：106 超时，107 重复登录被踢，119 SID 不存在
var sessionErrorCodes = map[int]bool{106: true, 107: true, 119: true}

// Endpoint 是一个目标的 DSM 地址和账号
type Endpoint struct {
	BaseURL string
	User    string
	Pass    string
}

// APIError 是 DSM 返回的错误体
type APIError struct {
	Code int `json:"code"`
}

// Response 是 DSM 的通用响应，Data 原样透传
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *APIError       `json:"error,omitempty"`
}

// LoginResult 是登录成功后返回给调用方的内容
type LoginResult struct {
	OK  bool   `json:"ok"`
	SID string `json:"sid"`
}

// Client 为每个目标维护一个 resty 客户端和一个会话
type Client struct {
	endpoints map[string]Endpoint
	clients   map[string]*resty.Client
	sessions  *SessionStore
}

// NewClient 根据目标配置创建客户端，skipTLSVerify 对应 DSM 的自签名证书
func NewClient(endpoints map[string]Endpoint, skipTLSVerify bool) *Client {
	c := &Client{
		endpoints: endpoints,
		clients:   make(map[string]*resty.Client, len(endpoints)),
		sessions:  NewSessionStore(),
	}
	for name, ep := range endpoints {
		if ep.BaseURL == "" {
			continue
		}
		c.clients[name] = resty.New().
			SetBaseURL(strings.TrimRight(ep.BaseURL, "/")).
			SetTimeout(requestTimeout).
			SetTLSClientConfig(&tls.Config{InsecureSkipVerify: skipTLSVerify}) //nolint:gosec // DSM 常用自签名证书，由配置决定
	}
	return c
}

// Sessions 返回会话缓存
func (c *Client) Sessions() *SessionStore {
	return c.sessions
}

func (c *Client) endpoint(name string) (Endpoint, *resty.Client, error) {
	ep, ok := c.endpoints[name]
	if !ok {
		return Endpoint{}, nil, &types.TargetNotFoundError{Name: name}
	}
	client := c.clients[name]
	if client == nil {
		return Endpoint{}, nil, upstream(errors.New("DSM baseUrl not configured"))
	}
	return ep, client, nil
}

// Login 登录并缓存 SID
func (c *Client) Login(ctx context.Context, name string) (*LoginResult, error) {
	ep, client, err := c.endpoint(name)
	if err != nil {
		return nil, err
	}
	if ep.User == "" || ep.Pass == "" {
		return nil, upstream(errors.New("DSM credentials missing"))
	}

	res, err := c.get(ctx, client, authPath, map[string]string{
		"api":     "SYNO.API.Auth",
		"method":  "login",
		"version": "6",
		"account": ep.User,
		"passwd":  ep.Pass,
		"session": sessionName,
		"format":  "sid",
	})
	if err != nil {
		return nil, err
	}

	var data struct {
		SID string `json:"sid"`
	}
	if res.Success && len(res.Data) > 0 {
		_ = json.Unmarshal(res.Data, &data)
	}
	if !res.Success || data.SID == "" {
		return nil, upstream(fmt.Errorf("DSM login failed: %s", describe(res)))
	}

	c.sessions.Set(name, data.SID)
	log.Debug().Str("target", name).Msg("dsm login succeeded")
	return &LoginResult{OK: true, SID: data.SID}, nil
}

// Logout 注销并清除缓存；没有会话时直接返回成功
func (c *Client) Logout(ctx context.Context, name string) (*Response, error) {
	_, client, err := c.endpoint(name)
	if err != nil {
		return nil, err
	}
	sid, ok := c.sessions.Get(name)
	if !ok {
		return &Response{Success: true}, nil
	}
	res, err := c.get(ctx, client, authPath, map[string]string{
		"api":     "SYNO.API.Auth",
		"method":  "logout",
		"version": "6",
		"session": sessionName,
		"_sid":    sid,
	})
	c.sessions.Clear(name)
	return res, err
}

// List 列出共享文件夹中的内容
func (c *Client) List(ctx context.Context, name, folderPath string) (*Response, error) {
	return c.call(ctx, name, map[string]string{
		"api":         "SYNO.FileStation.List",
		"method":      "list",
		"version":     "2",
		"folder_path": folderPath,
	})
}

// Mkdir 在 folderPath 下创建 newName
func (c *Client) Mkdir(ctx context.Context, name, folderPath, newName string) (*Response, error) {
	return c.call(ctx, name, map[string]string{
		"api":         "SYNO.FileStation.CreateFolder",
		"method":      "create",
		"version":     "2",
		"folder_path": folderPath,
		"name":        newName,
	})
}

// Move 把 paths 移动到 dest
func (c *Client) Move(ctx context.Context, name string, paths []string, dest string, overwrite bool) (*Response, error) {
	return c.call(ctx, name, map[string]string{
		"api":              "SYNO.FileStation.CopyMove",
		"method":           "move",
		"version":          "3",
		"path":             strings.Join(paths, ","),
		"dest_folder_path": dest,
		"overwrite":        strconv.FormatBool(overwrite),
	})
}

// Delete 删除 paths
func (c *Client) Delete(ctx context.Context, name string, paths []string, recursive bool) (*Response, error) {
	return c.call(ctx, name, map[string]string{
		"api":       "SYNO.FileStation.Delete",
		"method":    "delete",
		"version":   "2",
		"path":      strings.Join(paths, ","),
		"recursive": strconv.FormatBool(recursive),
	})
}

// call 确保有会话后调用 entry.cgi；会话过期时重新登录并重试一次
func (c *Client) call(ctx context.Context, name string, params map[string]string) (*Response, error) {
	_, client, err := c.endpoint(name)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		sid, ok := c.sessions.Get(name)
		if !ok {
			login, err := c.Login(ctx, name)
			if err != nil {
				return nil, err
			}
			sid = login.SID
		}

		withSID := make(map[string]string, len(params)+1)
		for k, v := range params {
			withSID[k] = v
		}
		withSID["_sid"] = sid

		res, err := c.get(ctx, client, entryPath, withSID)
		if err != nil {
			return nil, err
		}
		if attempt == 0 && !res.Success && res.Error != nil && sessionErrorCodes[res.Error.Code] {
			log.Debug().Str("target", name).Int("code", res.Error.Code).Msg("dsm session expired, logging in again")
			c.sessions.Clear(name)
			continue
		}
		return res, nil
	}
}

func (c *Client) get(ctx context.Context, client *resty.Client, path string, params map[string]string) (*Response, error) {
	resp, err := client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		return nil, upstream(fmt.Errorf("DSM request failed: %w", err))
	}

	var res Response
	if err := json.Unmarshal(resp.Body(), &res); err != nil {
		return nil, upstream(fmt.Errorf("DSM invalid JSON: %w", err))
	}
	return &res, nil
}

func describe(res *Response) string {
	b, err := json.Marshal(res)
	if err != nil {
		return "unknown response"
	}
	return string(b)
}

func upstream(err error) error {
	return &types.UpstreamError{Service: "dsm", Err: err}
}
