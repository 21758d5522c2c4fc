package main

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

const (
	defaultBaseURL = "http://localhost:8765"
	clientTimeout  = 60 * time.Second
)

var (
	clientURL   string
	clientToken string
	execTarget  string
	execCommand string
)

// 这两个命令是运行中网关的客户端，不读取网关配置
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Query /health on a running gateway",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := newClient().R().SetContext(cmd.Context()).Get("/health")
		return printResponse(cmd.OutOrStdout(), resp, err)
	},
}

var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "Run a command on a target through a running gateway",
	Example: `  nasgate exec --target dev --command "uname -a"
  nasgate exec -t personal -c "df -h" --url https://nas-gw:8765 --token $API_TOKEN`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := newClient().R().
			SetContext(cmd.Context()).
			SetBody(map[string]string{"target": execTarget, "command": execCommand}).
			Post("/tools/exec")
		return printResponse(cmd.OutOrStdout(), resp, err)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{healthCmd, execCmd} {
		cmd.Flags().StringVar(&clientURL, "url", "", "gateway base URL (default $HTTP_BASE_URL or "+defaultBaseURL+")")
		cmd.Flags().StringVar(&clientToken, "token", "", "API token (default $API_TOKEN)")
	}
	execCmd.Flags().StringVarP(&execTarget, "target", "t", "", "target name: dev, personal or yoga")
	execCmd.Flags().StringVarP(&execCommand, "command", "c", "", "shell command to run")
	_ = execCmd.MarkFlagRequired("target")
	_ = execCmd.MarkFlagRequired("command")
}

func newClient() *resty.Client {
	baseURL := firstNonEmpty(clientURL, os.Getenv("HTTP_BASE_URL"), defaultBaseURL)
	token := firstNonEmpty(clientToken, os.Getenv("API_TOKEN"))

	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(clientTimeout).
		SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec // 网关常用自签名证书
	if token != "" {
		c.SetAuthToken(token)
	}
	return c
}

// printResponse 缩进输出 JSON 响应体，非 JSON 原样输出；状态码 >= 400 时返回错误
func printResponse(out io.Writer, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	body := resp.Body()
	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") == nil {
		body = pretty.Bytes()
	}
	fmt.Fprintln(out, string(bytes.TrimSpace(body)))
	if resp.IsError() {
		return fmt.Errorf("gateway returned %s", resp.Status())
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
