package backend

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
)

const endpointTimeout = 30 * time.Second

// EndpointOptions 指向一个正在运行的网关实例
type EndpointOptions struct {
	HTTPURL string
	WSURL   string
	Token   string
}

// EndpointReport 记录每个端点调用的结果：PASS、FAIL(status=N) 或 ERROR(...)
type EndpointReport struct {
	HTTP map[string]string `json:"http"`
	WS   map[string]string `json:"ws"`
}

// checkEndpoints 通过 HTTP 执行 exec、scan 和读取刚写入的测试文件，
// 再通过 WebSocket 调用 tools.list 和 nas.exec。服务没有运行时每项都是 ERROR。
func checkEndpoints(ctx context.Context, opts EndpointOptions, names []string, dirs RemoteDirs, written map[string]string) *EndpointReport {
	report := &EndpointReport{HTTP: make(map[string]string), WS: make(map[string]string)}
	if len(names) == 0 {
		return report
	}
	first := names[0]

	client := resty.New().
		SetBaseURL(opts.HTTPURL).
		SetTimeout(endpointTimeout).
		SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec // 本机自签证书
	if opts.Token != "" {
		client.SetAuthToken(opts.Token)
	}

	post := func(route string, body map[string]any) string {
		resp, err := client.R().SetContext(ctx).SetBody(body).Post(route)
		if err != nil {
			return errorResult(err)
		}
		if resp.IsError() {
			return fmt.Sprintf("FAIL(status=%d)", resp.StatusCode())
		}
		return checkPass
	}

	report.HTTP["exec"] = post("/tools/exec", map[string]any{"target": first, "command": "uname -a"})
	report.HTTP["scan"] = post("/housekeeping/scan", map[string]any{
		"target":        first,
		"dir":           dirs.For(first),
		"minSizeMB":     1,
		"olderThanDays": 1,
	})
	for _, name := range names {
		if p, ok := written[name]; ok {
			report.HTTP["read:"+name] = post("/tools/read", map[string]any{"target": name, "remotePath": p})
		}
	}

	checkWS(ctx, opts, first, report.WS)
	return report
}

// wsReply 只关心是否有 error 字段
type wsReply struct {
	Error string `json:"error"`
}

func checkWS(ctx context.Context, opts EndpointOptions, target string, out map[string]string) {
	dialer := websocket.Dialer{
		HandshakeTimeout: endpointTimeout,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // 本机自签证书
	}
	conn, _, err := dialer.DialContext(ctx, opts.WSURL, nil)
	if err != nil {
		out["connect"] = errorResult(err)
		return
	}
	defer conn.Close()
	out["connect"] = checkPass

	call := func(msg map[string]any) string {
		_ = conn.SetDeadline(time.Now().Add(endpointTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			return errorResult(err)
		}
		var reply wsReply
		if err := conn.ReadJSON(&reply); err != nil {
			return errorResult(err)
		}
		if reply.Error != "" {
			return fmt.Sprintf("ERROR(%s)", reply.Error)
		}
		return checkPass
	}

	if opts.Token != "" {
		out["auth"] = call(map[string]any{"id": 0, "auth": map[string]any{"token": opts.Token}})
	}
	out["tools"] = call(map[string]any{"id": 1, "method": "tools.list"})
	out["exec"] = call(map[string]any{"id": 2, "method": "nas.exec", "params": map[string]any{"target": target, "command": "uname -a"}})
}
